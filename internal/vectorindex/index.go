// Package vectorindex is an in-process exact cosine k-nearest-neighbor index
// over entity embeddings. It uses the same snapshot discipline as graphstore:
// lock-free reads over an immutable map, serialized copy-on-write updates.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

const component = "vectorindex"

type entry struct {
	vec  apptype.EmbeddingVector
	norm float64
}

// Index holds vectors of a single fixed dimension
type Index struct {
	dims    int
	writeMu sync.Mutex
	snap    atomic.Pointer[map[string]entry]
}

// Hit is a search result
type Hit struct {
	EntityID   string  `json:"entityId"`
	Similarity float64 `json:"similarity"`
}

// New returns an empty index for vectors of length dims
func New(dims int) (*Index, error) {
	if dims <= 0 || dims > 65536 {
		return nil, faults.New(faults.InvalidArgument, component, "dimension must be between 1 and 65536, got %d", dims)
	}
	idx := &Index{dims: dims}
	empty := map[string]entry{}
	idx.snap.Store(&empty)
	return idx, nil
}

// Dims returns the fixed dimension of the index
func (x *Index) Dims() int { return x.dims }

// Len returns the number of stored vectors
func (x *Index) Len() int { return len(*x.snap.Load()) }

// Get returns the stored vector for an entity
func (x *Index) Get(entityID string) (apptype.EmbeddingVector, bool) {
	e, ok := (*x.snap.Load())[entityID]
	return e.vec, ok
}

// Upsert inserts or replaces a single vector
func (x *Index) Upsert(ctx context.Context, v apptype.EmbeddingVector) error {
	return x.UpsertBatch(ctx, []apptype.EmbeddingVector{v})
}

// UpsertBatch inserts or replaces vectors. The batch is rejected as a whole
// if any vector has the wrong dimension or an empty entity id.
func (x *Index) UpsertBatch(ctx context.Context, vecs []apptype.EmbeddingVector) error {
	done := metrics.TimeOp("vector_upsert")
	success := false
	defer func() { done(success) }()

	for _, v := range vecs {
		if v.EntityID == "" {
			return faults.New(faults.InvalidArgument, component, "embedding entity id cannot be empty")
		}
		if len(v.Components) != x.dims || (v.Dims != 0 && v.Dims != x.dims) {
			return faults.New(faults.DimensionMismatch, component, "vector for %q has %d components, index expects %d", v.EntityID, len(v.Components), x.dims)
		}
	}
	if len(vecs) == 0 {
		success = true
		return nil
	}

	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return faults.Wrap(err, faults.RequestCancelled, component, "upsert")
	}
	cur := *x.snap.Load()
	next := make(map[string]entry, len(cur)+len(vecs))
	for k, v := range cur {
		next[k] = v
	}
	for _, v := range vecs {
		comps := make([]float32, len(v.Components))
		for i, c := range v.Components {
			if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
				c = 0
			}
			comps[i] = c
		}
		v.Components = comps
		v.Dims = x.dims
		next[v.EntityID] = entry{vec: v, norm: norm(comps)}
	}
	x.snap.Store(&next)
	success = true
	return nil
}

// Delete removes the vectors of the given entities; unknown ids are ignored
func (x *Index) Delete(ctx context.Context, entityIDs ...string) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return faults.Wrap(err, faults.RequestCancelled, component, "delete")
	}
	cur := *x.snap.Load()
	next := make(map[string]entry, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	for _, id := range entityIDs {
		delete(next, id)
	}
	x.snap.Store(&next)
	return nil
}

// Search returns up to k entities most similar to query by cosine similarity,
// sorted by similarity descending and entity id ascending on ties.
// k <= 0 yields an empty result.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	done := metrics.TimeOp("vector_search")
	success := false
	defer func() { done(success) }()

	if len(query) != x.dims {
		return nil, faults.New(faults.DimensionMismatch, component, "query has %d components, index expects %d", len(query), x.dims)
	}
	for i, c := range query {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			return nil, faults.New(faults.InvalidArgument, component, "query component %d is not finite", i)
		}
	}
	if k <= 0 {
		success = true
		return []Hit{}, nil
	}
	snap := *x.snap.Load()
	qn := norm(query)
	hits := make([]Hit, 0, len(snap))
	n := 0
	for id, e := range snap {
		if n++; n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, faults.Wrap(err, faults.KindOf(err), component, "search interrupted")
			}
		}
		hits = append(hits, Hit{EntityID: id, Similarity: cosine(query, qn, e.vec.Components, e.norm)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EntityID < hits[j].EntityID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	success = true
	return hits, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, c := range v {
		s += float64(c) * float64(c)
	}
	return math.Sqrt(s)
}

// cosine returns 0 when either vector has zero norm or the result is not a number
func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (an * bn)
	if math.IsNaN(sim) {
		return 0
	}
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}
