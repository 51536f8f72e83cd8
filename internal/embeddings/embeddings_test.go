package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

type countingProvider struct {
	dims  int
	calls atomic.Int32
	err   error
}

func (p *countingProvider) Name() string    { return "counting" }
func (p *countingProvider) Dimensions() int { return p.dims }
func (p *countingProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, p.dims)
		v[0] = float32(len(in))
		out[i] = v
	}
	return out, nil
}

func TestHashProviderDeterministicAndNormalized(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()
	a, err := p.Embed(ctx, []string{"Apple AAPL earnings beat", "apple aapl EARNINGS beat"})
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, a[0], a[1])
	assert.Len(t, a[0], 64)

	var n float64
	for _, v := range a[0] {
		n += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, n, 1e-5)

	empty, err := p.Embed(ctx, []string{"   "})
	require.NoError(t, err)
	for _, v := range empty[0] {
		assert.Zero(t, v)
	}
}

func TestWrapToDims(t *testing.T) {
	base := &countingProvider{dims: 4}
	assert.Same(t, Provider(base), WrapToDims(base, 4, ""))

	padded := WrapToDims(base, 6, "")
	assert.Equal(t, 6, padded.Dimensions())
	out, err := padded.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 0, 0, 0, 0}, out[0])

	trunc := WrapToDims(base, 2, "truncate")
	out, err = trunc.Embed(context.Background(), []string{"abcd"})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0}, out[0])

	strict := WrapToDims(base, 2, "pad")
	_, err = strict.Embed(context.Background(), []string{"abcd"})
	assert.Error(t, err)
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(Config{Dims: 32})
	require.NoError(t, err)
	assert.Equal(t, "hash", p.Name())
	assert.Equal(t, 32, p.Dimensions())

	_, err = New(Config{Provider: "openai"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "bogus"})
	assert.Error(t, err)

	p, err = New(Config{Provider: "ollama", Dims: 16})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, 16, p.Dimensions())
}

func TestOpenAIProviderAgainstCompatibleServer(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		data := make([]map[string]any, len(req.Input))
		// answer out of order to exercise index handling
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"object": "embedding", "index": j, "embedding": []float32{float32(j), 1, 0}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	p, err := New(Config{Provider: "localai", BaseURL: srv.URL, Model: "bge-small", Dims: 3})
	require.NoError(t, err)
	out, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "bge-small", gotModel)
	assert.Equal(t, []float32{0, 1, 0}, out[0])
	assert.Equal(t, []float32{1, 1, 0}, out[1])
}

func TestEmbedderCachesAndClassifiesErrors(t *testing.T) {
	base := &countingProvider{dims: 3}
	cache := NewMemoryCache(8)
	e := NewEmbedder(base, cache, nil)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "AAPL outlook")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "  AAPL outlook ")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), base.calls.Load())
	assert.Equal(t, "counting", v1.Model)
	assert.Equal(t, 3, v1.Dims)

	_, err = e.Embed(ctx, "")
	assert.True(t, errors.Is(err, faults.ErrInvalidArgument))

	down := NewEmbedder(&countingProvider{dims: 3, err: errors.New("connection refused")}, nil, nil)
	_, err = down.Embed(ctx, "x")
	assert.True(t, errors.Is(err, faults.ErrEmbeddingUnavailable))
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []float32{1}))
	require.NoError(t, c.Set(ctx, "b", []float32{2}))
	// touching a makes b the eviction candidate
	_, ok, _ := c.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, c.Set(ctx, "c", []float32{3}))

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok, _ := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []float32{1}, v)
	v, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, []float32{3}, v)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()
	in := []float32{1, 2}
	require.NoError(t, c.Set(ctx, "k", in))
	in[0] = 9
	v, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	v[1] = 7
	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []float32{1, 2}, again)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	key := CacheKey("hash", "AAPL outlook")
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []float32{0.25, -1, 3.5}))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.25, -1, 3.5}, got)
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key).Hours(), 23.0)
}

func TestRedisCacheConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewRedisCache(RedisOptions{URL: "redis://" + addr})
	assert.Error(t, err)
}

func TestEntityText(t *testing.T) {
	txt := EntityText(apptype.Entity{ID: "AAPL", Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": "AAPL", "beta": 1.2}})
	assert.Equal(t, "AAPL asset beta 1.2 symbol AAPL", txt)
}
