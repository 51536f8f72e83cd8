package apptype

// AnalyzeArgs represents the arguments for the analyze tool
type AnalyzeArgs struct {
	Query        string `json:"query" jsonschema:"Natural language question about one or more assets."`
	ArtifactType string `json:"artifactType" jsonschema:"One of trend_assessment, risk_assessment or trading_signal."`
	DeadlineMs   int    `json:"deadlineMs,omitempty" jsonschema:"Request deadline in milliseconds from now (default from server configuration)."`
}

// RetrieveArgs represents the arguments for the retrieve tool
type RetrieveArgs struct {
	Query string `json:"query" jsonschema:"Query to build the grounding context for."`
}

// TraverseArgs represents the arguments for the traverse tool
type TraverseArgs struct {
	StartID       string   `json:"startId" jsonschema:"Entity id to start from."`
	RelationKinds []string `json:"relationKinds,omitempty" jsonschema:"Relation kinds to follow (all when empty)."`
	MaxDepth      *int     `json:"maxDepth,omitempty" jsonschema:"Maximum number of hops (default 2; 0 returns only the start entity)."`
}

// TraversalHit is an entity reached by a traversal
type TraversalHit struct {
	Entity Entity `json:"entity"`
	Hop    int    `json:"hop"`
}

// TraverseResult is the result of the traverse tool
type TraverseResult struct {
	Reached []TraversalHit `json:"reached"`
}

// SearchSimilarArgs represents the arguments for the search_similar tool
type SearchSimilarArgs struct {
	Query  string    `json:"query,omitempty" jsonschema:"Text to embed and search with."`
	Vector []float32 `json:"vector,omitempty" jsonschema:"Query vector; takes precedence over query."`
	K      int       `json:"k,omitempty" jsonschema:"Number of neighbors to return (default 10)."`
}

// SimilarityHit is one nearest neighbor
type SimilarityHit struct {
	EntityID   string  `json:"entityId"`
	Similarity float64 `json:"similarity"`
}

// SearchSimilarResult is the result of the search_similar tool
type SearchSimilarResult struct {
	Hits []SimilarityHit `json:"hits"`
}

// AddEntitiesArgs represents the arguments for the add_entities tool
type AddEntitiesArgs struct {
	Entities []Entity `json:"entities" jsonschema:"New entities; ids must not exist yet."`
}

// AddRelationsArgs represents the arguments for the add_relations tool
type AddRelationsArgs struct {
	Relations []Relation `json:"relations" jsonschema:"Directed relations between existing entities."`
}

// EmbeddingInput is one vector supplied by a client
type EmbeddingInput struct {
	EntityID   string    `json:"entityId"`
	Components []float32 `json:"components"`
	Model      string    `json:"model,omitempty"`
}

// UpsertEmbeddingsArgs represents the arguments for the upsert_embeddings tool
type UpsertEmbeddingsArgs struct {
	Embeddings []EmbeddingInput `json:"embeddings" jsonschema:"Vectors keyed by entity id; dimension must match the index."`
}

// EmbedEntitiesArgs represents the arguments for the embed_entities tool
type EmbedEntitiesArgs struct {
	IDs []string `json:"ids,omitempty" jsonschema:"Entities to embed; every entity without a vector when empty."`
}

// EmbedEntitiesResult is the result of the embed_entities tool
type EmbedEntitiesResult struct {
	Embedded int `json:"embedded"`
}

// GetArtifactArgs represents the arguments for the get_artifact tool
type GetArtifactArgs struct {
	ID string `json:"id" jsonschema:"Artifact id."`
}

// ListArtifactsArgs represents the arguments for the list_artifacts tool
type ListArtifactsArgs struct {
	ArtifactType string `json:"artifactType,omitempty" jsonschema:"Restrict to one artifact type."`
	Limit        int    `json:"limit,omitempty" jsonschema:"Maximum number of artifacts, newest first (default 20)."`
}

// HealthArgs represents the (empty) arguments for the health_check tool
type HealthArgs struct{}

// HealthResult reports build and store information
type HealthResult struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	Revision         string `json:"revision,omitempty"`
	BuildDate        string `json:"buildDate,omitempty"`
	EmbeddingDims    int    `json:"embeddingDims"`
	Entities         int    `json:"entities"`
	Relations        int    `json:"relations"`
	Vectors          int    `json:"vectors"`
	Durable          bool   `json:"durable"`
	ReasoningBackend string `json:"reasoningBackend"`
}
