package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

var dbSeq atomic.Int64

func setupTestDB(t *testing.T) *DBManager {
	t.Helper()
	config := NewConfig()
	// cache=shared lets every pooled connection see the same in-memory database
	config.URL = fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	config.EmbeddingDims = 4
	db, err := NewDBManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })
	return db
}

func weight(w float64) *float64 { return &w }

func TestSaveAndLoadGraph(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ents := []apptype.Entity{
		{ID: "AAPL", Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": "AAPL", "beta": 1.2}},
		{ID: "aapl_p1", Kind: apptype.KindPricePoint, Attributes: map[string]any{"close": 101.5}},
		{ID: "MSFT", Kind: apptype.KindAsset},
	}
	require.NoError(t, db.SaveEntities(ctx, ents))
	require.NoError(t, db.SaveRelations(ctx, []apptype.Relation{
		{Source: "AAPL", Kind: apptype.RelHasPricePoint, Target: "aapl_p1"},
		{Source: "AAPL", Kind: apptype.RelCorrelatesWith, Target: "MSFT", Weight: weight(0.4)},
	}))

	gotEnts, gotRels, err := db.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, gotEnts, 3)
	assert.Equal(t, "AAPL", gotEnts[0].ID)
	assert.Equal(t, apptype.KindAsset, gotEnts[0].Kind)
	assert.Equal(t, "AAPL", gotEnts[0].Attributes["symbol"])
	assert.Equal(t, 1.2, gotEnts[0].Attributes["beta"])
	assert.Nil(t, gotEnts[2].Attributes)

	require.Len(t, gotRels, 2)
	assert.Nil(t, gotRels[0].Weight)
	require.NotNil(t, gotRels[1].Weight)
	assert.Equal(t, 0.4, *gotRels[1].Weight)
}

func TestEntitiesAreImmutable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveEntities(ctx, []apptype.Entity{{ID: "AAPL", Kind: apptype.KindAsset, Attributes: map[string]any{"name": "Apple"}}}))
	require.NoError(t, db.SaveEntities(ctx, []apptype.Entity{{ID: "AAPL", Kind: apptype.KindIndicator, Attributes: map[string]any{"name": "other"}}}))

	ents, _, err := db.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, apptype.KindAsset, ents[0].Kind)
	assert.Equal(t, "Apple", ents[0].Attributes["name"])
}

func TestRelationTupleIsUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rel := apptype.Relation{Source: "AAPL", Kind: apptype.RelCorrelatesWith, Target: "MSFT", Weight: weight(0.1)}
	require.NoError(t, db.SaveRelations(ctx, []apptype.Relation{rel}))
	rel.Weight = weight(0.9)
	require.NoError(t, db.SaveRelations(ctx, []apptype.Relation{rel, {Source: "AAPL", Kind: apptype.RelTracks, Target: "MSFT"}}))

	_, rels, err := db.LoadGraph(ctx)
	require.NoError(t, err)
	require.Len(t, rels, 2, "a second kind may join the same pair")
	assert.Equal(t, 0.9, *rels[0].Weight)
}

func TestEmbeddingsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveEmbeddings(ctx, []apptype.EmbeddingVector{
		{EntityID: "AAPL", Dims: 4, Components: []float32{0.5, -0.25, 0, 1}, Model: "hash"},
	}))
	require.NoError(t, db.SaveEmbeddings(ctx, []apptype.EmbeddingVector{
		{EntityID: "AAPL", Dims: 4, Components: []float32{1, 0, 0, 0}, Model: "hash-v2"},
		{EntityID: "MSFT", Dims: 4, Components: []float32{0, 1, 0, 0}, Model: "hash-v2"},
	}))

	vecs, err := db.LoadEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, "AAPL", vecs[0].EntityID)
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[0].Components)
	assert.Equal(t, "hash-v2", vecs[0].Model)
	assert.Equal(t, 4, vecs[0].Dims)

	err = db.SaveEmbeddings(ctx, []apptype.EmbeddingVector{{EntityID: "X", Components: []float32{1, 2}}})
	assert.Error(t, err)
}

func TestArtifacts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	arts := []apptype.OutputArtifact{
		{ID: "a1", Type: apptype.ArtifactTrend, RequestID: "r1", Query: "AAPL", Confidence: 0.7, CreatedAt: base,
			Trend: &apptype.TrendAssessment{Symbol: "AAPL", Direction: apptype.TrendBullish, Confidence: 0.7}},
		{ID: "a2", Type: apptype.ArtifactSignal, RequestID: "r2", Query: "AAPL", Confidence: 0.5, Degraded: true, CreatedAt: base.Add(time.Minute),
			Signal: &apptype.TradingSignal{Symbol: "AAPL", Signal: apptype.SignalHold}},
		{ID: "a3", Type: apptype.ArtifactTrend, RequestID: "r3", Query: "MSFT", Confidence: 0.6, CreatedAt: base.Add(2 * time.Minute),
			Stages: []apptype.StageTrace{{Stage: apptype.StageAnalyst, Status: apptype.StatusOK, ContextItems: []string{"MSFT"}}}},
	}
	for _, a := range arts {
		require.NoError(t, db.SaveArtifact(ctx, a))
	}
	assert.Error(t, db.SaveArtifact(ctx, arts[0]), "ids are unique")
	assert.Error(t, db.SaveArtifact(ctx, apptype.OutputArtifact{}))

	got, err := db.GetArtifact(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, apptype.TrendBullish, got.Trend.Direction)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = db.GetArtifact(ctx, "nope")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	all, err := db.ListArtifacts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a3", all[0].ID)
	assert.Equal(t, []string{"MSFT"}, all[0].Stages[0].ContextItems)

	trends, err := db.ListArtifacts(ctx, apptype.ArtifactTrend, 1)
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, "a3", trends[0].ID)

	s, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Artifacts)
	assert.NoError(t, db.Ping(ctx))
}

func TestExistingDatabaseKeepsItsDims(t *testing.T) {
	url := "file:" + filepath.Join(t.TempDir(), "finrag.db")
	db, err := NewDBManager(&Config{URL: url, EmbeddingDims: 4})
	require.NoError(t, err)
	require.NoError(t, db.SaveEmbeddings(context.Background(), []apptype.EmbeddingVector{
		{EntityID: "AAPL", Components: []float32{1, 0, 0, 0}},
	}))
	require.NoError(t, db.Close())

	db, err = NewDBManager(&Config{URL: url, EmbeddingDims: 8})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 4, db.Dims())

	vecs, err := db.LoadEmbeddings(context.Background())
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, 4, vecs[0].Dims)
}

func TestInvalidDims(t *testing.T) {
	_, err := NewDBManager(&Config{URL: "file::memory:", EmbeddingDims: 0})
	assert.Error(t, err)
}

func TestConnectionURL(t *testing.T) {
	assert.Equal(t, "file:./x.db", connectionURL("file:./x.db", "tok"))
	assert.Equal(t, "libsql://db.turso.io", connectionURL("libsql://db.turso.io", ""))
	assert.Equal(t, "libsql://db.turso.io?authToken=a%2Bb", connectionURL("libsql://db.turso.io", "a+b"))
}
