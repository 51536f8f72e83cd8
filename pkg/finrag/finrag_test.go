package finrag

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

func testConfig(dbURL string) *Config {
	cfg := DefaultConfig()
	cfg.Database.URL = dbURL
	cfg.Embeddings.Dims = 32
	return cfg
}

func seeded(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	seed, err := LoadSeed(filepath.Join("testdata", "market.yaml"))
	require.NoError(t, err)
	require.NoError(t, e.ApplySeed(ctx, seed))
	return e
}

func TestEngineInMemory(t *testing.T) {
	e := seeded(t, testConfig(""))
	ctx := context.Background()

	h, err := e.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, h.Entities)
	assert.Equal(t, 8, h.Relations)
	assert.Equal(t, 8, h.Vectors)
	assert.Equal(t, 32, h.EmbeddingDims)
	assert.False(t, h.Durable)
	assert.Equal(t, "heuristic", h.ReasoningBackend)

	art, err := e.Handle(ctx, "Where is AAPL heading?", apptype.ArtifactTrend, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, art.Trend)
	assert.Equal(t, "AAPL", art.Trend.Symbol)
	assert.NotEmpty(t, art.ContextRefs)

	_, err = e.ListArtifacts(ctx, "", 0)
	assert.ErrorIs(t, err, faults.ErrStorage)
}

func TestEngineTraverseAndSearch(t *testing.T) {
	e := seeded(t, testConfig(""))
	ctx := context.Background()

	hits, err := e.Traverse(ctx, "AAPL", []string{"correlates_with", "belongs_to_sector"}, 1)
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.Entity.ID)
	}
	assert.Equal(t, []string{"AAPL", "MSFT", "tech_sector"}, ids)

	sim, err := e.SearchSimilar(ctx, "Apple Inc AAPL", nil, 3)
	require.NoError(t, err)
	assert.Len(t, sim, 3)

	_, err = e.SearchSimilar(ctx, " ", nil, 3)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)
	_, err = e.SearchSimilar(ctx, "", []float32{1, 2}, 3)
	assert.ErrorIs(t, err, faults.ErrDimensionMismatch)
}

func TestEngineTraverseRejectsUnknownKinds(t *testing.T) {
	e := seeded(t, testConfig(""))
	ctx := context.Background()

	hits, err := e.Traverse(ctx, "AAPL", []string{"correlates_with", "owns"}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)
	assert.Contains(t, err.Error(), `"owns"`)
	assert.Nil(t, hits)

	hits, err = e.Traverse(ctx, "AAPL", nil, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "AAPL", hits[0].Entity.ID)
}

func TestEngineSearchRejectsNonFiniteVector(t *testing.T) {
	e := seeded(t, testConfig(""))
	q := make([]float32, 32)
	q[3] = float32(math.NaN())
	_, err := e.SearchSimilar(context.Background(), "", q, 3)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)
}

func TestSeedIsIdempotent(t *testing.T) {
	e := seeded(t, testConfig(""))
	seed, err := LoadSeed(filepath.Join("testdata", "market.yaml"))
	require.NoError(t, err)
	require.NoError(t, e.ApplySeed(context.Background(), seed))
	h, err := e.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, h.Entities)
	assert.Equal(t, 8, h.Relations)
}

func TestEngineDurableRoundTrip(t *testing.T) {
	ctx := context.Background()
	url := fmt.Sprintf("file:%s", filepath.Join(t.TempDir(), "finrag.db"))

	e := seeded(t, testConfig(url))
	art, err := e.Handle(ctx, "Trading signal for AAPL", apptype.ArtifactSignal, time.Time{})
	require.NoError(t, err)
	require.False(t, art.Degraded, "%+v", art.Faults)

	got, err := e.GetArtifact(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, art.RequestID, got.RequestID)
	_, err = e.GetArtifact(ctx, "nope")
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)
	require.NoError(t, e.Close())

	// a second engine over the same file sees the graph, vectors and history
	cfg := testConfig(url)
	cfg.Embeddings.Dims = 64
	again, err := New(ctx, cfg)
	require.NoError(t, err)
	defer again.Close()

	h, err := again.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.Durable)
	assert.Equal(t, 32, h.EmbeddingDims, "existing database keeps its dimension")
	assert.Equal(t, 8, h.Entities)
	assert.Equal(t, 8, h.Vectors)

	list, err := again.ListArtifacts(ctx, apptype.ArtifactSignal, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, art.ID, list[0].ID)

	_, err = again.ListArtifacts(ctx, "poem", 10)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig("")
	cfg.Reasoning.Backend = "oracle"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
