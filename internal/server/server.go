package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

const serverName = "agentic-finance-rag"

const poolStatsInterval = 5 * time.Second

// Engine is what the tools call into. finrag.Engine implements it.
type Engine interface {
	Handle(ctx context.Context, query string, t apptype.ArtifactType, deadline time.Time) (*apptype.OutputArtifact, error)
	Retrieve(ctx context.Context, query string) (apptype.RetrievalContext, error)
	Traverse(ctx context.Context, startID string, kinds []string, maxDepth int) ([]apptype.TraversalHit, error)
	SearchSimilar(ctx context.Context, query string, vector []float32, k int) ([]apptype.SimilarityHit, error)
	AddEntities(ctx context.Context, entities []apptype.Entity) error
	AddRelations(ctx context.Context, relations []apptype.Relation) error
	UpsertEmbeddings(ctx context.Context, in []apptype.EmbeddingInput) error
	EmbedEntities(ctx context.Context, ids []string) (int, error)
	GetArtifact(ctx context.Context, id string) (*apptype.OutputArtifact, error)
	ListArtifacts(ctx context.Context, t apptype.ArtifactType, limit int) ([]apptype.OutputArtifact, error)
	Health(ctx context.Context) (apptype.HealthResult, error)
	ReportPoolStats()
}

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server *mcp.Server
	engine Engine
	log    logrus.FieldLogger
}

// NewMCPServer creates a new MCP server
func NewMCPServer(engine Engine) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server: server,
		engine: engine,
		log:    logrus.StandardLogger().WithField("component", "server"),
	}
	mcpServer.setupToolHandlers()
	return mcpServer
}

func schemaFor[T any](name string) *jsonschema.Schema {
	s, err := jsonschema.For[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for %s: %v", name, err))
	}
	return s
}

// setupToolHandlers registers all MCP tools. Tools whose results carry
// artifacts answer with JSON text and untyped structured content; only the
// flat results declare an OutputSchema.
func (s *MCPServer) setupToolHandlers() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "analyze",
		Title:       "Analyze",
		Description: "Answer a financial question with a trend assessment, risk assessment or trading signal grounded in the knowledge graph. Failures are returned as a fault report.",
		InputSchema: schemaFor[apptype.AnalyzeArgs]("AnalyzeArgs"),
	}, s.handleAnalyze)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retrieve",
		Title:       "Retrieve Context",
		Description: "Build the merged graph and vector context for a query without running the reasoning stages.",
		InputSchema: schemaFor[apptype.RetrieveArgs]("RetrieveArgs"),
	}, s.handleRetrieve)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "traverse",
		Title:        "Traverse Graph",
		Description:  "Breadth-first walk over outgoing relations from an entity, returning each reachable entity with its minimal hop count.",
		InputSchema:  schemaFor[apptype.TraverseArgs]("TraverseArgs"),
		OutputSchema: schemaFor[apptype.TraverseResult]("TraverseResult"),
	}, s.handleTraverse)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "search_similar",
		Title:        "Search Similar",
		Description:  "Nearest entities by cosine similarity to a vector or to the embedding of a text query.",
		InputSchema:  schemaFor[apptype.SearchSimilarArgs]("SearchSimilarArgs"),
		OutputSchema: schemaFor[apptype.SearchSimilarResult]("SearchSimilarResult"),
	}, s.handleSearchSimilar)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_entities",
		Title:       "Add Entities",
		Description: "Insert new entities. Entities are immutable; the batch fails if any id exists.",
		InputSchema: schemaFor[apptype.AddEntitiesArgs]("AddEntitiesArgs"),
	}, s.handleAddEntities)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_relations",
		Title:       "Add Relations",
		Description: "Insert directed relations between existing entities.",
		InputSchema: schemaFor[apptype.AddRelationsArgs]("AddRelationsArgs"),
	}, s.handleAddRelations)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "upsert_embeddings",
		Title:       "Upsert Embeddings",
		Description: "Store precomputed vectors for existing entities.",
		InputSchema: schemaFor[apptype.UpsertEmbeddingsArgs]("UpsertEmbeddingsArgs"),
	}, s.handleUpsertEmbeddings)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "embed_entities",
		Title:        "Embed Entities",
		Description:  "Embed entities with the configured provider and store the vectors.",
		InputSchema:  schemaFor[apptype.EmbedEntitiesArgs]("EmbedEntitiesArgs"),
		OutputSchema: schemaFor[apptype.EmbedEntitiesResult]("EmbedEntitiesResult"),
	}, s.handleEmbedEntities)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_artifact",
		Title:       "Get Artifact",
		Description: "Fetch a persisted artifact by id.",
		InputSchema: schemaFor[apptype.GetArtifactArgs]("GetArtifactArgs"),
	}, s.handleGetArtifact)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_artifacts",
		Title:       "List Artifacts",
		Description: "List persisted artifacts, newest first.",
		InputSchema: schemaFor[apptype.ListArtifactsArgs]("ListArtifactsArgs"),
	}, s.handleListArtifacts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Build information and store sizes.",
		InputSchema:  schemaFor[apptype.HealthArgs]("HealthArgs"),
		OutputSchema: schemaFor[apptype.HealthResult]("HealthResult"),
	}, s.handleHealth)
}

// jsonResult renders v as indented JSON text plus untyped structured content
func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResultFor[any]{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(raw)}},
		StructuredContent: v,
	}, nil
}

// handleAnalyze runs the pipeline. Pipeline failures are answered with a
// fault report and IsError set rather than a protocol error.
func (s *MCPServer) handleAnalyze(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.AnalyzeArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("analyze")
	var success bool
	defer func() { done(success) }()
	args := params.Arguments
	var deadline time.Time
	if args.DeadlineMs > 0 {
		deadline = time.Now().Add(time.Duration(args.DeadlineMs) * time.Millisecond)
	}

	art, err := s.engine.Handle(ctx, args.Query, apptype.ArtifactType(args.ArtifactType), deadline)
	if err != nil {
		requestID := faults.RequestIDOf(err)
		s.log.WithError(err).WithFields(logrus.Fields{"artifact": args.ArtifactType, "request_id": requestID}).Info("analyze failed")
		res, encErr := jsonResult(faults.Report(requestID, err))
		if encErr != nil {
			return nil, encErr
		}
		res.IsError = true
		return res, nil
	}
	success = true
	return jsonResult(art)
}

func (s *MCPServer) handleRetrieve(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RetrieveArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("retrieve")
	var success bool
	defer func() { done(success) }()
	rc, err := s.engine.Retrieve(ctx, params.Arguments.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieve failed: %w", err)
	}
	success = true
	return jsonResult(rc)
}

func (s *MCPServer) handleTraverse(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.TraverseArgs],
) (*mcp.CallToolResultFor[apptype.TraverseResult], error) {
	done := metrics.TimeTool("traverse")
	var success bool
	defer func() { done(success) }()
	depth := 2
	if d := params.Arguments.MaxDepth; d != nil {
		depth = *d
	}
	hits, err := s.engine.Traverse(ctx, params.Arguments.StartID, params.Arguments.RelationKinds, depth)
	if err != nil {
		return nil, fmt.Errorf("traverse failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.TraverseResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Reached %d entities", len(hits))}},
		StructuredContent: apptype.TraverseResult{Reached: hits},
	}, nil
}

func (s *MCPServer) handleSearchSimilar(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SearchSimilarArgs],
) (*mcp.CallToolResultFor[apptype.SearchSimilarResult], error) {
	done := metrics.TimeTool("search_similar")
	var success bool
	defer func() { done(success) }()
	k := params.Arguments.K
	if k <= 0 {
		k = 10
	}
	hits, err := s.engine.SearchSimilar(ctx, params.Arguments.Query, params.Arguments.Vector, k)
	if err != nil {
		return nil, fmt.Errorf("search_similar failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.SearchSimilarResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d similar entities", len(hits))}},
		StructuredContent: apptype.SearchSimilarResult{Hits: hits},
	}, nil
}

// handleAddEntities handles the add_entities tool call
func (s *MCPServer) handleAddEntities(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.AddEntitiesArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("add_entities")
	var success bool
	defer func() { done(success) }()
	entities := params.Arguments.Entities
	if err := s.engine.AddEntities(ctx, entities); err != nil {
		return nil, fmt.Errorf("failed to add entities: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Added %d entities", len(entities))}},
	}, nil
}

// handleAddRelations handles the add_relations tool call
func (s *MCPServer) handleAddRelations(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.AddRelationsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("add_relations")
	var success bool
	defer func() { done(success) }()
	relations := params.Arguments.Relations
	if err := s.engine.AddRelations(ctx, relations); err != nil {
		return nil, fmt.Errorf("failed to add relations: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Added %d relations", len(relations))}},
	}, nil
}

func (s *MCPServer) handleUpsertEmbeddings(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.UpsertEmbeddingsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("upsert_embeddings")
	var success bool
	defer func() { done(success) }()
	in := params.Arguments.Embeddings
	if err := s.engine.UpsertEmbeddings(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to upsert embeddings: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Upserted %d embeddings", len(in))}},
	}, nil
}

func (s *MCPServer) handleEmbedEntities(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.EmbedEntitiesArgs],
) (*mcp.CallToolResultFor[apptype.EmbedEntitiesResult], error) {
	done := metrics.TimeTool("embed_entities")
	var success bool
	defer func() { done(success) }()
	n, err := s.engine.EmbedEntities(ctx, params.Arguments.IDs)
	if err != nil {
		return nil, fmt.Errorf("embed_entities failed after %d vectors: %w", n, err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.EmbedEntitiesResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Embedded %d entities", n)}},
		StructuredContent: apptype.EmbedEntitiesResult{Embedded: n},
	}, nil
}

func (s *MCPServer) handleGetArtifact(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.GetArtifactArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("get_artifact")
	var success bool
	defer func() { done(success) }()
	art, err := s.engine.GetArtifact(ctx, params.Arguments.ID)
	if err != nil {
		return nil, fmt.Errorf("get_artifact failed: %w", err)
	}
	success = true
	return jsonResult(art)
}

func (s *MCPServer) handleListArtifacts(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ListArtifactsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("list_artifacts")
	var success bool
	defer func() { done(success) }()
	arts, err := s.engine.ListArtifacts(ctx, apptype.ArtifactType(params.Arguments.ArtifactType), params.Arguments.Limit)
	if err != nil {
		return nil, fmt.Errorf("list_artifacts failed: %w", err)
	}
	success = true
	return jsonResult(arts)
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	var success bool
	defer func() { done(success) }()
	s.engine.ReportPoolStats()
	res, err := s.engine.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

// reportPoolStats refreshes the pool gauges until ctx is done
func (s *MCPServer) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(poolStatsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.engine.ReportPoolStats()
			}
		}
	}()
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportPoolStats(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint.
// It returns nil once ctx is cancelled and the listener has shut down.
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.reportPoolStats(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.WithFields(logrus.Fields{"addr": addr, "endpoint": endpoint}).Info("SSE MCP server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
