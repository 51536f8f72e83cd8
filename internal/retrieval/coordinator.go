// Package retrieval builds the grounding context of a request by running graph
// traversal and vector search side by side and merging their hits.
package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/graphstore"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/vectorindex"
)

const (
	component    = "retrieval"
	sourceGraph  = "graph"
	sourceVector = "vector"
)

var tracer = otel.Tracer("github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/retrieval")

// GraphSource is the traversal side of retrieval
type GraphSource interface {
	Traverse(ctx context.Context, startID string, allowedKinds []apptype.RelationKind, maxDepth int) ([]graphstore.Reached, error)
}

// EntityLookup resolves vector hits to graph entities for their payload
type EntityLookup interface {
	Get(id string) (apptype.Entity, bool)
}

// VectorSource is the similarity side of retrieval
type VectorSource interface {
	Search(ctx context.Context, query []float32, k int) ([]vectorindex.Hit, error)
}

// Embedder produces the query embedding
type Embedder interface {
	Embed(ctx context.Context, text string) (apptype.EmbeddingVector, error)
}

// Resolver maps the query to seed entity ids
type Resolver interface {
	Resolve(ctx context.Context, query string) ([]string, error)
}

// Config tunes retrieval. Start from DefaultConfig; a zero GraphDepth or
// VectorK is honored as given.
type Config struct {
	GraphDepth      int                    `yaml:"graph_depth"`
	HopDecay        float64                `yaml:"hop_decay"`
	VectorK         int                    `yaml:"vector_k"`
	MaxItems        int                    `yaml:"max_items"`
	GraphTimeout    time.Duration          `yaml:"graph_timeout"`
	VectorTimeout   time.Duration          `yaml:"vector_timeout"`
	RelationKinds   []apptype.RelationKind `yaml:"relation_kinds"`
	SeedConcurrency int                    `yaml:"seed_concurrency"`
}

// DefaultConfig returns the standard retrieval settings
func DefaultConfig() Config {
	return Config{
		GraphDepth:      2,
		HopDecay:        0.6,
		VectorK:         10,
		MaxItems:        50,
		GraphTimeout:    2 * time.Second,
		VectorTimeout:   3 * time.Second,
		SeedConcurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GraphDepth < 0 {
		c.GraphDepth = d.GraphDepth
	}
	if c.HopDecay <= 0 || c.HopDecay > 1 {
		c.HopDecay = d.HopDecay
	}
	if c.VectorK < 0 {
		c.VectorK = d.VectorK
	}
	if c.MaxItems <= 0 {
		c.MaxItems = d.MaxItems
	}
	if c.GraphTimeout <= 0 {
		c.GraphTimeout = d.GraphTimeout
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = d.VectorTimeout
	}
	if c.SeedConcurrency <= 0 {
		c.SeedConcurrency = d.SeedConcurrency
	}
	return c
}

// Coordinator runs both retrieval sources and merges them
type Coordinator struct {
	cfg      Config
	graph    GraphSource
	lookup   EntityLookup
	vectors  VectorSource
	embedder Embedder
	resolver Resolver
	log      logrus.FieldLogger
}

// Deps are the collaborators of a Coordinator. Vectors and Embedder may be nil,
// in which case every context is graph-only and degraded.
type Deps struct {
	Graph    GraphSource
	Lookup   EntityLookup
	Vectors  VectorSource
	Embedder Embedder
	Resolver Resolver
	Logger   logrus.FieldLogger
}

// New returns a Coordinator
func New(cfg Config, deps Deps) *Coordinator {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		graph:    deps.Graph,
		lookup:   deps.Lookup,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		resolver: deps.Resolver,
		log:      log.WithField("component", component),
	}
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config { return c.cfg }

// collector gathers faults from both branches
type collector struct {
	mu       sync.Mutex
	faults   []apptype.Fault
	degraded bool
}

func (c *collector) add(f apptype.Fault, degrade bool) {
	c.mu.Lock()
	c.faults = append(c.faults, f)
	c.degraded = c.degraded || degrade
	c.mu.Unlock()
}

// Retrieve resolves the query, runs graph traversal and vector search in
// parallel under their own timeouts, and merges the results. Source failures
// and timeouts degrade the context instead of failing the call; only
// cancellation of ctx is returned as an error.
func (c *Coordinator) Retrieve(ctx context.Context, query string) (apptype.RetrievalContext, error) {
	ctx, span := tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()
	start := time.Now()

	rc := apptype.RetrievalContext{Query: query}
	col := &collector{}

	var seeds []string
	if c.graph == nil || c.resolver == nil {
		col.add(apptype.Fault{Kind: string(faults.Internal), Component: component, Message: "graph source not configured"}, true)
	} else {
		s, err := c.resolver.Resolve(ctx, query)
		switch {
		case err == nil:
			seeds = s
		case ctx.Err() != nil:
			return c.cancelled(ctx, span)
		case errors.Is(err, faults.ErrNoSeedEntities):
			// vector-only retrieval; informational, not a degradation
			col.add(faults.From(err, component).Fault(), false)
		default:
			col.add(faults.From(err, component).Fault(), true)
		}
	}
	rc.SeedIDs = seeds

	var (
		graphHits  []GraphHit
		vectorHits []VectorHit
		g          errgroup.Group
	)
	if len(seeds) > 0 {
		g.Go(func() error {
			graphHits = c.runGraph(ctx, seeds, col)
			return nil
		})
	}
	g.Go(func() error {
		vectorHits = c.runVector(ctx, query, col)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return c.cancelled(ctx, span)
	}

	rc.Items = Merge(graphHits, vectorHits, c.cfg.HopDecay, c.cfg.MaxItems)
	rc.Faults = col.faults
	rc.Degraded = col.degraded
	span.SetAttributes(
		attribute.Int("retrieval.seeds", len(seeds)),
		attribute.Int("retrieval.items", len(rc.Items)),
		attribute.Bool("retrieval.degraded", rc.Degraded),
	)
	c.log.WithFields(logrus.Fields{
		"seeds":    len(seeds),
		"graph":    len(graphHits),
		"vector":   len(vectorHits),
		"items":    len(rc.Items),
		"degraded": rc.Degraded,
		"elapsed":  time.Since(start).String(),
	}).Debug("retrieval complete")
	return rc, nil
}

func (c *Coordinator) cancelled(ctx context.Context, span trace.Span) (apptype.RetrievalContext, error) {
	span.SetStatus(codes.Error, "cancelled")
	return apptype.RetrievalContext{}, faults.Wrap(ctx.Err(), faults.RequestCancelled, component, "retrieval cancelled")
}

// runGraph traverses from every seed and keeps the minimal hop per entity
func (c *Coordinator) runGraph(ctx context.Context, seeds []string, col *collector) []GraphHit {
	ctx, span := tracer.Start(ctx, "retrieval.graph")
	defer span.End()

	type seedResult struct {
		seed    string
		reached []graphstore.Reached
		err     error
	}
	results, err := bounded(ctx, c.cfg.GraphTimeout, func(sctx context.Context) ([]seedResult, error) {
		out := make([]seedResult, len(seeds))
		var g errgroup.Group
		g.SetLimit(c.cfg.SeedConcurrency)
		for i, seed := range seeds {
			g.Go(func() error {
				r, err := c.graph.Traverse(sctx, seed, c.cfg.RelationKinds, c.cfg.GraphDepth)
				out[i] = seedResult{seed: seed, reached: r, err: err}
				return nil
			})
		}
		_ = g.Wait()
		return out, sctx.Err()
	})
	if err != nil {
		c.sourceFailed(ctx, sourceGraph, err, col)
		span.SetStatus(codes.Error, err.Error())
		return nil
	}

	hops := map[string]GraphHit{}
	ok := 0
	for _, r := range results {
		if r.err != nil {
			c.log.WithError(r.err).WithField("seed", r.seed).Warn("seed traversal failed")
			col.add(faults.From(r.err, component).Fault(), false)
			continue
		}
		ok++
		for _, re := range r.reached {
			if cur, seen := hops[re.Entity.ID]; !seen || re.Hop < cur.Hop {
				hops[re.Entity.ID] = GraphHit{Entity: re.Entity, Hop: re.Hop}
			}
		}
	}
	if ok == 0 {
		c.sourceFailed(ctx, sourceGraph, faults.New(faults.UnknownEntity, component, "no seed could be traversed"), col)
		return nil
	}
	metrics.Default().IncRetrievalSource(sourceGraph, "ok")
	out := make([]GraphHit, 0, len(hops))
	for _, h := range hops {
		out = append(out, h)
	}
	span.SetAttributes(attribute.Int("graph.hits", len(out)))
	return out
}

// runVector embeds the query and searches the index within one timeout
func (c *Coordinator) runVector(ctx context.Context, query string, col *collector) []VectorHit {
	ctx, span := tracer.Start(ctx, "retrieval.vector")
	defer span.End()

	if c.vectors == nil || c.embedder == nil {
		c.sourceFailed(ctx, sourceVector, faults.New(faults.EmbeddingUnavailable, component, "vector source not configured"), col)
		return nil
	}
	hits, err := bounded(ctx, c.cfg.VectorTimeout, func(vctx context.Context) ([]vectorindex.Hit, error) {
		qv, err := c.embedder.Embed(vctx, query)
		if err != nil {
			return nil, err
		}
		return c.vectors.Search(vctx, qv.Components, c.cfg.VectorK)
	})
	if err != nil {
		c.sourceFailed(ctx, sourceVector, err, col)
		span.SetStatus(codes.Error, err.Error())
		return nil
	}
	metrics.Default().IncRetrievalSource(sourceVector, "ok")
	out := make([]VectorHit, len(hits))
	for i, h := range hits {
		out[i] = VectorHit{EntityID: h.EntityID, Similarity: h.Similarity}
		if c.lookup != nil {
			if e, ok := c.lookup.Get(h.EntityID); ok {
				out[i].Entity = &e
			}
		}
	}
	span.SetAttributes(attribute.Int("vector.hits", len(out)))
	return out
}

// sourceFailed records a failed source unless the whole request was cancelled
func (c *Coordinator) sourceFailed(ctx context.Context, source string, err error, col *collector) {
	if ctx.Err() != nil {
		return
	}
	outcome := "error"
	fe := faults.From(err, component)
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
		fe = faults.Wrap(err, faults.RetrievalTimeout, component, source+" source timed out")
	}
	metrics.Default().IncRetrievalSource(source, outcome)
	c.log.WithError(err).WithField("source", source).Warn("retrieval source degraded")
	f := fe.Fault()
	if f.Component == "" {
		f.Component = component
	}
	f.Stage = source
	col.add(f, true)
}

// bounded runs fn with a timeout and returns as soon as the timeout elapses,
// even if fn does not observe its context.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		return zero, cctx.Err()
	}
}
