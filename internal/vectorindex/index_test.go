package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(id string, c ...float32) apptype.EmbeddingVector {
	return apptype.EmbeddingVector{EntityID: id, Components: c, Model: "test"}
}

func newIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(3)
	require.NoError(t, err)
	require.NoError(t, idx.UpsertBatch(context.Background(), []apptype.EmbeddingVector{
		vec("AAPL", 1, 0, 0),
		vec("MSFT", 0.9, 0.1, 0),
		vec("GOOGL", 0, 1, 0),
		vec("BBB", 2, 0, 0),
		vec("AAA", 3, 0, 0),
		vec("ZERO", 0, 0, 0),
	}))
	return idx
}

func TestSearchOrderAndTies(t *testing.T) {
	idx := newIndex(t)
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	// AAA, AAPL and BBB are colinear with the query and tie at 1.0
	assert.Equal(t, "AAA", hits[0].EntityID)
	assert.Equal(t, "AAPL", hits[1].EntityID)
	assert.Equal(t, "BBB", hits[2].EntityID)
	assert.Equal(t, "MSFT", hits[3].EntityID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestSearchKNonPositive(t *testing.T) {
	idx := newIndex(t)
	for _, k := range []int{0, -3} {
		hits, err := idx.Search(context.Background(), []float32{1, 0, 0}, k)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx := newIndex(t)
	_, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrDimensionMismatch))
}

func TestUpsertRejectsWrongDims(t *testing.T) {
	idx := newIndex(t)
	before := idx.Len()
	err := idx.UpsertBatch(context.Background(), []apptype.EmbeddingVector{vec("NEW", 1, 1, 1), vec("BAD", 1)})
	assert.True(t, errors.Is(err, faults.ErrDimensionMismatch))
	assert.Equal(t, before, idx.Len())
	_, ok := idx.Get("NEW")
	assert.False(t, ok)
}

func TestUpsertReplacesAndDelete(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, vec("GOOGL", 1, 0, 0)))
	hits, err := idx.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	assert.NotEqual(t, "GOOGL", hits[0].EntityID)

	require.NoError(t, idx.Delete(ctx, "GOOGL", "missing"))
	_, ok := idx.Get("GOOGL")
	assert.False(t, ok)
}

func TestZeroVectorsScoreZero(t *testing.T) {
	idx := newIndex(t)
	hits, err := idx.Search(context.Background(), []float32{0, 0, 0}, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, 0.0, h.Similarity)
	}
	// all tied at zero, so ordering falls back to id
	got := make([]string, len(hits))
	for i, h := range hits {
		got[i] = h.EntityID
	}
	assert.True(t, sort.StringsAreSorted(got))
}

func TestSearchRejectsNonFiniteQuery(t *testing.T) {
	idx := newIndex(t)
	nan := float32(math.NaN())
	inf := float32(math.Inf(-1))
	for _, q := range [][]float32{{nan, 1, 0}, {1, inf, 0}} {
		hits, err := idx.Search(context.Background(), q, 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, faults.ErrInvalidArgument))
		assert.Nil(t, hits)
	}
	// k <= 0 does not bypass the check
	_, err := idx.Search(context.Background(), []float32{nan, 0, 0}, 0)
	assert.True(t, errors.Is(err, faults.ErrInvalidArgument))
}

func TestCosineNeverReturnsNaN(t *testing.T) {
	a := []float32{1, 0}
	assert.Zero(t, cosine(a, math.NaN(), a, 1))
	assert.Zero(t, cosine(a, math.Inf(1), a, math.Inf(1)))
	assert.InDelta(t, 1.0, cosine(a, 1, a, 1), 1e-12)
}

func TestSearchSortedProperty(t *testing.T) {
	idx, err := New(8)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(7))
	var batch []apptype.EmbeddingVector
	for i := 0; i < 300; i++ {
		c := make([]float32, 8)
		for j := range c {
			// coarse values force plenty of exact ties
			c[j] = float32(rng.Intn(3) - 1)
		}
		batch = append(batch, vec(fmt.Sprintf("e%03d", i), c...))
	}
	require.NoError(t, idx.UpsertBatch(context.Background(), batch))

	for trial := 0; trial < 20; trial++ {
		q := make([]float32, 8)
		for j := range q {
			q[j] = float32(rng.Intn(3) - 1)
		}
		hits, err := idx.Search(context.Background(), q, 50)
		require.NoError(t, err)
		require.Len(t, hits, 50)
		for i := 1; i < len(hits); i++ {
			a, b := hits[i-1], hits[i]
			ok := a.Similarity > b.Similarity || (a.Similarity == b.Similarity && a.EntityID < b.EntityID)
			require.True(t, ok, "unordered at %d: %+v %+v", i, a, b)
		}
	}
}

func TestConcurrentSearchDuringUpserts(t *testing.T) {
	idx := newIndex(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = idx.Upsert(ctx, vec(fmt.Sprintf("n%d", i), float32(i), 1, 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := idx.Search(ctx, []float32{1, 1, 0}, 5); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, 206, idx.Len())
}

func TestNewRejectsBadDims(t *testing.T) {
	_, err := New(0)
	assert.True(t, errors.Is(err, faults.ErrInvalidArgument))
}
