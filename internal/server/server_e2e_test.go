package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/pkg/finrag"
)

// pickFreePort tries to get a free TCP port on 127.0.0.1
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func marketSeed() *finrag.Seed {
	s := &finrag.Seed{Entities: []apptype.Entity{
		{ID: "AAPL", Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": "AAPL", "name": "Apple", "beta": 1.2}},
		{ID: "MSFT", Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": "MSFT", "name": "Microsoft"}},
	}}
	for i, c := range []float64{100, 102, 104, 103, 110} {
		id := fmt.Sprintf("aapl_p%d", i+1)
		s.Entities = append(s.Entities, apptype.Entity{ID: id, Kind: apptype.KindPricePoint, Attributes: map[string]any{"symbol": "AAPL", "close": c, "ts": i + 1}})
		s.Relations = append(s.Relations, apptype.Relation{Source: "AAPL", Kind: apptype.RelHasPricePoint, Target: id})
	}
	s.Relations = append(s.Relations, apptype.Relation{Source: "AAPL", Kind: apptype.RelCorrelatesWith, Target: "MSFT"})
	return s
}

func startSSE(t *testing.T) *mcp.ClientSession {
	t.Helper()
	cfg := finrag.DefaultConfig()
	cfg.Database.URL = ""
	cfg.Embeddings.Dims = 16
	engine, err := finrag.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.ApplySeed(context.Background(), marketSeed()))

	srv := NewMCPServer(engine)

	port, err := pickFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	endpoint := "/sse"

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// start SSE server
	go func() { _ = srv.RunSSE(ctx, addr, endpoint) }()

	// wait briefly for server to bind
	time.Sleep(150 * time.Millisecond)

	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)
	transport := mcp.NewSSEClientTransport("http://"+addr+endpoint, nil)

	// retry connect a few times to avoid flakes
	var session *mcp.ClientSession
	for i := 0; i < 5; i++ {
		session, err = client.Connect(ctx, transport)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: json.RawMessage(raw)})
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestSSEServer_ListTools(t *testing.T) {
	session := startSSE(t)
	tools, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"analyze", "retrieve", "traverse", "search_similar", "add_entities", "add_relations",
		"upsert_embeddings", "embed_entities", "get_artifact", "list_artifacts", "health_check"} {
		assert.Contains(t, names, want)
	}
}

func TestSSEServer_Analyze(t *testing.T) {
	session := startSSE(t)

	res, err := call(t, session, "analyze", apptype.AnalyzeArgs{Query: "What is the outlook for AAPL?", ArtifactType: "trend_assessment"})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var art apptype.OutputArtifact
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &art))
	assert.Equal(t, apptype.ArtifactTrend, art.Type)
	require.NotNil(t, art.Trend)
	assert.Equal(t, "AAPL", art.Trend.Symbol)
	assert.NotEmpty(t, art.ContextRefs)

	res, err = call(t, session, "analyze", apptype.AnalyzeArgs{Query: "AAPL", ArtifactType: "horoscope"})
	require.NoError(t, err)
	require.True(t, res.IsError)
	var rep apptype.FaultReport
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &rep))
	assert.Equal(t, "INVALID_ARGUMENT", rep.Kind)
	assert.NotEmpty(t, rep.RequestID)
}

func TestSSEServer_WritesAndReads(t *testing.T) {
	session := startSSE(t)

	res, err := call(t, session, "add_entities", apptype.AddEntitiesArgs{Entities: []apptype.Entity{
		{ID: "NVDA", Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": "NVDA"}},
	}})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = call(t, session, "add_relations", apptype.AddRelationsArgs{Relations: []apptype.Relation{
		{Source: "NVDA", Kind: apptype.RelCorrelatesWith, Target: "MSFT"},
	}})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	res, err = call(t, session, "embed_entities", apptype.EmbedEntitiesArgs{})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Embedded 1 entities", text(t, res))

	res, err = call(t, session, "traverse", apptype.TraverseArgs{StartID: "NVDA", MaxDepth: intPtr(1)})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Reached 2 entities", text(t, res))

	res, err = call(t, session, "search_similar", apptype.SearchSimilarArgs{Query: "NVDA", K: 3})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "Found 3 similar entities", text(t, res))

	// relation to an unknown entity is rejected
	res, err = call(t, session, "add_relations", apptype.AddRelationsArgs{Relations: []apptype.Relation{
		{Source: "NVDA", Kind: apptype.RelCorrelatesWith, Target: "TSLA"},
	}})
	assert.True(t, err != nil || res.IsError)

	// no database configured, so history is unavailable
	res, err = call(t, session, "list_artifacts", apptype.ListArtifactsArgs{})
	assert.True(t, err != nil || res.IsError)

	res, err = call(t, session, "health_check", apptype.HealthArgs{})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "ok", text(t, res))
}

func intPtr(v int) *int { return &v }

func TestSSEServer_TraverseDepth(t *testing.T) {
	session := startSSE(t)

	cases := []struct {
		name string
		args apptype.TraverseArgs
		want string
	}{
		{"zero depth returns only the start", apptype.TraverseArgs{StartID: "AAPL", MaxDepth: intPtr(0)}, "Reached 1 entities"},
		{"absent depth defaults to two hops", apptype.TraverseArgs{StartID: "AAPL"}, "Reached 7 entities"},
		{"kind filter", apptype.TraverseArgs{StartID: "AAPL", RelationKinds: []string{"has_price_point"}}, "Reached 6 entities"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := call(t, session, "traverse", tc.args)
			require.NoError(t, err)
			require.False(t, res.IsError, text(t, res))
			assert.Equal(t, tc.want, text(t, res))
		})
	}

	res, err := call(t, session, "traverse", apptype.TraverseArgs{StartID: "AAPL", RelationKinds: []string{"owns"}})
	assert.True(t, err != nil || res.IsError)
}
