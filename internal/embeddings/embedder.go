package embeddings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

const component = "embeddings"

// Embedder turns a single text into an EmbeddingVector through a Provider,
// consulting an optional Cache first. Provider failures surface as
// EmbeddingUnavailable; cache failures are logged and bypassed.
type Embedder struct {
	provider Provider
	cache    Cache
	log      logrus.FieldLogger
}

// NewEmbedder wraps provider. cache may be nil.
func NewEmbedder(provider Provider, cache Cache, log logrus.FieldLogger) *Embedder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Embedder{provider: provider, cache: cache, log: log.WithField("component", component)}
}

// Dims returns the vector dimension produced
func (e *Embedder) Dims() int { return e.provider.Dimensions() }

// Model returns the source model tag attached to produced vectors
func (e *Embedder) Model() string { return e.provider.Name() }

// Embed returns the embedding of text. The EntityID of the result is empty.
func (e *Embedder) Embed(ctx context.Context, text string) (apptype.EmbeddingVector, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return apptype.EmbeddingVector{}, faults.New(faults.InvalidArgument, component, "cannot embed empty text")
	}
	key := CacheKey(e.provider.Name(), text)
	if e.cache != nil {
		vec, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.log.WithError(err).Warn("embedding cache read failed")
		} else if ok && len(vec) == e.provider.Dimensions() {
			return e.wrap("", vec), nil
		}
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return apptype.EmbeddingVector{}, err
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, key, vecs[0]); err != nil {
			e.log.WithError(err).Warn("embedding cache write failed")
		}
	}
	return e.wrap("", vecs[0]), nil
}

// EmbedBatch embeds several texts in one provider call, bypassing the cache.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, faults.Wrap(ctx.Err(), faults.KindOf(ctx.Err()), component, "embedding interrupted")
		}
		return nil, faults.Wrap(err, faults.EmbeddingUnavailable, component, "provider "+e.provider.Name()+" failed")
	}
	if len(vecs) != len(texts) {
		return nil, faults.New(faults.EmbeddingUnavailable, component, "provider returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != e.provider.Dimensions() {
			return nil, faults.New(faults.DimensionMismatch, component, "provider returned %d dims, expected %d", len(v), e.provider.Dimensions())
		}
	}
	return vecs, nil
}

// Vector builds an EmbeddingVector for entityID tagged with this embedder's model
func (e *Embedder) Vector(entityID string, comps []float32) apptype.EmbeddingVector {
	return e.wrap(entityID, comps)
}

func (e *Embedder) wrap(entityID string, comps []float32) apptype.EmbeddingVector {
	return apptype.EmbeddingVector{EntityID: entityID, Dims: len(comps), Components: comps, Model: e.provider.Name()}
}

// EntityText renders the text embedded for an entity: id, kind and the
// attributes in key order.
func EntityText(ent apptype.Entity) string {
	var b strings.Builder
	b.WriteString(ent.ID)
	b.WriteString(" ")
	b.WriteString(string(ent.Kind))
	keys := make([]string, 0, len(ent.Attributes))
	for k := range ent.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(strings.TrimSpace(fmt.Sprint(ent.Attributes[k])))
	}
	return b.String()
}
