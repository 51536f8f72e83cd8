// Package finrag is the library entry point. It wires the stores, retrieval,
// reasoning stages, aggregation and the optional libSQL store into an Engine
// that can be embedded without the MCP transport.
package finrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/aggregator"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/config"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/database"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/embeddings"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/graphstore"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/ingest"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/orchestrator"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/pipeline"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/reasoning"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/resolver"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/retrieval"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/vectorindex"
)

const component = "finrag"

// Config is the full engine configuration
type Config = config.Config

// DefaultConfig returns the built-in settings. Database.URL empty keeps
// everything in memory.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads defaults, an optional YAML file and the environment
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Engine answers queries over a financial knowledge graph
type Engine struct {
	cfg       Config
	db        *database.DBManager
	graph     *graphstore.Store
	index     *vectorindex.Index
	embedder  *embeddings.Embedder
	ingest    *ingest.Service
	retriever *retrieval.Coordinator
	pipeline  *pipeline.Pipeline
	closers   []io.Closer
	log       logrus.FieldLogger
}

// New builds an Engine and hydrates it from the database when one is
// configured. An existing database keeps the embedding dimension it was
// created with.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{cfg: *cfg, log: logrus.StandardLogger().WithField("component", component)}
	dims := cfg.Embeddings.Dims
	if dims <= 0 {
		dims = config.DefaultDims
	}

	if strings.TrimSpace(cfg.Database.URL) != "" {
		dbCfg := cfg.Database
		dbCfg.EmbeddingDims = dims
		db, err := database.NewDBManager(&dbCfg)
		if err != nil {
			return nil, err
		}
		e.db = db
		e.closers = append(e.closers, db)
		dims = db.Dims()
	}

	if err := e.build(dims); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.ingest.Hydrate(ctx); err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to hydrate stores: %w", err)
	}
	return e, nil
}

func (e *Engine) build(dims int) error {
	cfg := &e.cfg
	e.graph = graphstore.New()
	index, err := vectorindex.New(dims)
	if err != nil {
		return err
	}
	e.index = index

	embCfg := cfg.Embeddings.Config
	embCfg.Dims = dims
	provider, err := embeddings.New(embCfg)
	if err != nil {
		return fmt.Errorf("failed to build embeddings provider: %w", err)
	}
	cache, err := e.newCache()
	if err != nil {
		return err
	}
	e.embedder = embeddings.NewEmbedder(provider, cache, e.log)

	opts := []ingest.Option{
		ingest.WithEmbedder(e.embedder),
		ingest.WithBatchSize(cfg.Embeddings.BatchSize),
		ingest.WithLogger(e.log),
	}
	if e.db != nil {
		opts = append(opts, ingest.WithStore(e.db))
	}
	e.ingest = ingest.New(e.graph, e.index, opts...)

	e.retriever = retrieval.New(cfg.Retrieval, retrieval.Deps{
		Graph:    e.graph,
		Lookup:   e.graph,
		Vectors:  e.index,
		Embedder: e.embedder,
		Resolver: resolver.New(e.graph, 0),
		Logger:   e.log,
	})

	reasoner, err := reasoning.New(cfg.Reasoning, e.log)
	if err != nil {
		return fmt.Errorf("failed to build reasoning backend: %w", err)
	}
	deps := pipeline.Deps{
		Retriever:    e.retriever,
		Orchestrator: orchestrator.New(cfg.Orchestrator, reasoner, orchestrator.WithLogger(e.log)),
		Aggregator:   aggregator.New(cfg.Aggregator),
		Logger:       e.log,
	}
	if e.db != nil {
		deps.Store = e.db
	}
	e.pipeline = pipeline.New(cfg.Pipeline, deps)
	return nil
}

func (e *Engine) newCache() (embeddings.Cache, error) {
	c := e.cfg.Embeddings.Cache
	switch c.Backend {
	case "none":
		return nil, nil
	case "redis":
		rc, err := embeddings.NewRedisCache(embeddings.RedisOptions{URL: c.RedisURL, TTL: c.TTL})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, rc)
		return rc, nil
	default:
		return embeddings.NewMemoryCache(c.Size), nil
	}
}

// Close releases the database and cache connections
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Handle answers one query. A zero deadline uses the configured default.
func (e *Engine) Handle(ctx context.Context, query string, t apptype.ArtifactType, deadline time.Time) (*apptype.OutputArtifact, error) {
	return e.pipeline.Handle(ctx, query, t, deadline)
}

// Ingest returns the write side of the stores
func (e *Engine) Ingest() *ingest.Service { return e.ingest }

// Retrieve builds the grounding context for query without reasoning over it
func (e *Engine) Retrieve(ctx context.Context, query string) (apptype.RetrievalContext, error) {
	return e.retriever.Retrieve(ctx, query)
}

// Traverse walks the graph from startID
func (e *Engine) Traverse(ctx context.Context, startID string, kinds []string, maxDepth int) ([]apptype.TraversalHit, error) {
	allowed := make([]apptype.RelationKind, len(kinds))
	for i, k := range kinds {
		allowed[i] = apptype.RelationKind(k)
		if !allowed[i].Valid() {
			return nil, faults.New(faults.InvalidArgument, component, "unknown relation kind %q", k)
		}
	}
	reached, err := e.graph.Traverse(ctx, startID, allowed, maxDepth)
	if err != nil {
		return nil, err
	}
	out := make([]apptype.TraversalHit, len(reached))
	for i, r := range reached {
		out[i] = apptype.TraversalHit{Entity: r.Entity, Hop: r.Hop}
	}
	return out, nil
}

// SearchSimilar returns the k nearest entities to vector, or to the
// embedding of query when vector is empty
func (e *Engine) SearchSimilar(ctx context.Context, query string, vector []float32, k int) ([]apptype.SimilarityHit, error) {
	if len(vector) == 0 {
		if strings.TrimSpace(query) == "" {
			return nil, faults.New(faults.InvalidArgument, component, "query or vector is required")
		}
		v, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		vector = v.Components
	}
	hits, err := e.index.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	out := make([]apptype.SimilarityHit, len(hits))
	for i, h := range hits {
		out[i] = apptype.SimilarityHit{EntityID: h.EntityID, Similarity: h.Similarity}
	}
	return out, nil
}

// AddEntities inserts new entities
func (e *Engine) AddEntities(ctx context.Context, entities []apptype.Entity) error {
	return e.ingest.AddEntities(ctx, entities)
}

// AddRelations inserts relations between existing entities
func (e *Engine) AddRelations(ctx context.Context, relations []apptype.Relation) error {
	return e.ingest.AddRelations(ctx, relations)
}

// UpsertEmbeddings stores client supplied vectors
func (e *Engine) UpsertEmbeddings(ctx context.Context, in []apptype.EmbeddingInput) error {
	vecs := make([]apptype.EmbeddingVector, len(in))
	for i, v := range in {
		vecs[i] = apptype.EmbeddingVector{EntityID: v.EntityID, Dims: len(v.Components), Components: v.Components, Model: v.Model}
	}
	return e.ingest.UpsertEmbeddings(ctx, vecs)
}

// EmbedEntities embeds the given entities, or all entities lacking a vector
func (e *Engine) EmbedEntities(ctx context.Context, ids []string) (int, error) {
	return e.ingest.EmbedEntities(ctx, ids)
}

// GetArtifact returns a persisted artifact
func (e *Engine) GetArtifact(ctx context.Context, id string) (*apptype.OutputArtifact, error) {
	if e.db == nil {
		return nil, errNoStore()
	}
	art, err := e.db.GetArtifact(ctx, id)
	if errors.Is(err, database.ErrArtifactNotFound) {
		return nil, faults.Wrap(err, faults.InvalidArgument, component, fmt.Sprintf("artifact %q not found", id))
	}
	return art, err
}

// ListArtifacts returns persisted artifacts, newest first
func (e *Engine) ListArtifacts(ctx context.Context, t apptype.ArtifactType, limit int) ([]apptype.OutputArtifact, error) {
	if e.db == nil {
		return nil, errNoStore()
	}
	if t != "" && !t.Valid() {
		return nil, faults.New(faults.InvalidArgument, component, "unknown artifact type %q", t)
	}
	return e.db.ListArtifacts(ctx, t, limit)
}

func errNoStore() error {
	return faults.New(faults.Storage, component, "no database configured; artifacts are not persisted")
}

// Health reports build information and store sizes. The database is pinged
// when configured.
func (e *Engine) Health(ctx context.Context) (apptype.HealthResult, error) {
	stats := e.graph.Stats()
	res := apptype.HealthResult{
		Name:             "agentic-finance-rag",
		Version:          buildinfo.Version,
		Revision:         buildinfo.Revision,
		BuildDate:        buildinfo.BuildDate,
		EmbeddingDims:    e.index.Dims(),
		Entities:         stats.Entities,
		Relations:        stats.Relations,
		Vectors:          e.index.Len(),
		Durable:          e.db != nil,
		ReasoningBackend: e.cfg.Reasoning.Backend,
	}
	if res.ReasoningBackend == "" {
		res.ReasoningBackend = "heuristic"
	}
	if e.db != nil {
		if err := e.db.Ping(ctx); err != nil {
			return res, faults.Wrap(err, faults.Storage, component, "ping database")
		}
	}
	return res, nil
}

// ReportPoolStats publishes connection pool gauges; a no-op without a database
func (e *Engine) ReportPoolStats() {
	if e.db != nil {
		e.db.ReportPoolStats()
	}
}
