// Package ingest is the write side of the knowledge graph and vector index.
// Every write lands in the in-memory stores first, which validate it, and is
// then persisted to the durable store when one is configured.
package ingest

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/embeddings"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

const component = "ingest"

// Graph is the in-memory knowledge graph
type Graph interface {
	AddEntities(ctx context.Context, entities []apptype.Entity) error
	AddRelations(ctx context.Context, relations []apptype.Relation) error
	Get(id string) (apptype.Entity, bool)
	Entities() []apptype.Entity
}

// Vectors is the in-memory vector index
type Vectors interface {
	UpsertBatch(ctx context.Context, vecs []apptype.EmbeddingVector) error
	Get(entityID string) (apptype.EmbeddingVector, bool)
	Dims() int
}

// Embedder produces vectors for entity text
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Vector(entityID string, comps []float32) apptype.EmbeddingVector
}

// Store is the durable side. database.DBManager implements it.
type Store interface {
	SaveEntities(ctx context.Context, entities []apptype.Entity) error
	SaveRelations(ctx context.Context, relations []apptype.Relation) error
	SaveEmbeddings(ctx context.Context, vecs []apptype.EmbeddingVector) error
	LoadGraph(ctx context.Context) ([]apptype.Entity, []apptype.Relation, error)
	LoadEmbeddings(ctx context.Context) ([]apptype.EmbeddingVector, error)
}

// Service applies writes. Store and Embedder may be nil.
type Service struct {
	graph     Graph
	vectors   Vectors
	embedder  Embedder
	store     Store
	batchSize int
	log       logrus.FieldLogger
}

// Option configures a Service
type Option func(*Service)

// WithStore persists every write
func WithStore(s Store) Option { return func(svc *Service) { svc.store = s } }

// WithEmbedder enables EmbedEntities
func WithEmbedder(e Embedder) Option { return func(svc *Service) { svc.embedder = e } }

// WithBatchSize sets how many entities go into one provider call
func WithBatchSize(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.batchSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.log = l
		}
	}
}

// New returns a Service writing to graph and vectors
func New(graph Graph, vectors Vectors, opts ...Option) *Service {
	s := &Service{graph: graph, vectors: vectors, batchSize: 32, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("component", component)
	return s
}

// AddEntity adds one entity
func (s *Service) AddEntity(ctx context.Context, e apptype.Entity) error {
	return s.AddEntities(ctx, []apptype.Entity{e})
}

// AddEntities adds a batch of new entities. A duplicate id rejects the batch.
func (s *Service) AddEntities(ctx context.Context, entities []apptype.Entity) error {
	if err := s.graph.AddEntities(ctx, entities); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveEntities(ctx, entities); err != nil {
			return s.storageFault(err, "persist entities", len(entities))
		}
	}
	return nil
}

// AddRelation adds one relation
func (s *Service) AddRelation(ctx context.Context, r apptype.Relation) error {
	return s.AddRelations(ctx, []apptype.Relation{r})
}

// AddRelations adds relations between existing entities
func (s *Service) AddRelations(ctx context.Context, relations []apptype.Relation) error {
	if err := s.graph.AddRelations(ctx, relations); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveRelations(ctx, relations); err != nil {
			return s.storageFault(err, "persist relations", len(relations))
		}
	}
	return nil
}

// UpsertEmbedding stores one vector
func (s *Service) UpsertEmbedding(ctx context.Context, v apptype.EmbeddingVector) error {
	return s.UpsertEmbeddings(ctx, []apptype.EmbeddingVector{v})
}

// UpsertEmbeddings stores vectors for entities already in the graph
func (s *Service) UpsertEmbeddings(ctx context.Context, vecs []apptype.EmbeddingVector) error {
	for _, v := range vecs {
		if _, ok := s.graph.Get(v.EntityID); !ok {
			return faults.New(faults.UnknownEntity, component, "no entity %q for embedding", v.EntityID)
		}
	}
	if err := s.vectors.UpsertBatch(ctx, vecs); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveEmbeddings(ctx, vecs); err != nil {
			return s.storageFault(err, "persist embeddings", len(vecs))
		}
	}
	return nil
}

// EmbedEntities embeds the given entities, or every entity without a vector
// when ids is empty, and upserts the results. It returns the number of
// vectors written.
func (s *Service) EmbedEntities(ctx context.Context, ids []string) (int, error) {
	if s.embedder == nil {
		return 0, faults.New(faults.EmbeddingUnavailable, component, "no embeddings provider configured")
	}
	var targets []apptype.Entity
	if len(ids) == 0 {
		for _, e := range s.graph.Entities() {
			if _, ok := s.vectors.Get(e.ID); !ok {
				targets = append(targets, e)
			}
		}
	} else {
		for _, id := range ids {
			e, ok := s.graph.Get(id)
			if !ok {
				return 0, faults.New(faults.UnknownEntity, component, "entity %q not found", id)
			}
			targets = append(targets, e)
		}
	}

	written := 0
	for start := 0; start < len(targets); start += s.batchSize {
		end := min(start+s.batchSize, len(targets))
		batch := targets[start:end]
		texts := make([]string, len(batch))
		for i, e := range batch {
			texts[i] = embeddings.EntityText(e)
		}
		comps, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, err
		}
		vecs := make([]apptype.EmbeddingVector, len(batch))
		for i, e := range batch {
			vecs[i] = s.embedder.Vector(e.ID, comps[i])
		}
		if err := s.UpsertEmbeddings(ctx, vecs); err != nil {
			return written, err
		}
		written += len(vecs)
	}
	s.log.WithFields(logrus.Fields{"embedded": written, "requested": len(ids)}).Debug("entities embedded")
	return written, nil
}

// Hydrate loads the durable store into the in-memory graph and index.
// Vectors whose dimension no longer matches the index are skipped.
func (s *Service) Hydrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ents, rels, err := s.store.LoadGraph(ctx)
	if err != nil {
		return faults.Wrap(err, faults.Storage, component, "load graph")
	}
	if err := s.graph.AddEntities(ctx, ents); err != nil {
		return err
	}
	if err := s.graph.AddRelations(ctx, rels); err != nil {
		return err
	}
	vecs, err := s.store.LoadEmbeddings(ctx)
	if err != nil {
		return faults.Wrap(err, faults.Storage, component, "load embeddings")
	}
	keep := vecs[:0]
	for _, v := range vecs {
		if len(v.Components) != s.vectors.Dims() {
			s.log.WithFields(logrus.Fields{"entity": v.EntityID, "dims": len(v.Components)}).Warn("skipping stored embedding with wrong dimension")
			continue
		}
		keep = append(keep, v)
	}
	if err := s.vectors.UpsertBatch(ctx, keep); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"entities": len(ents), "relations": len(rels), "embeddings": len(keep)}).Info("stores hydrated")
	return nil
}

func (s *Service) storageFault(err error, op string, n int) error {
	s.log.WithError(err).WithField("count", n).Error(op + " failed; write kept in memory only")
	return faults.Wrap(err, faults.Storage, component, op)
}
