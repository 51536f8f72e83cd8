package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

func item(id string, kind apptype.EntityKind, score float64, attrs map[string]any) apptype.RetrievalItem {
	return apptype.RetrievalItem{EntityID: id, Kind: kind, Provenance: apptype.ProvenanceGraph, Score: score, Payload: attrs}
}

func aaplContext() apptype.RetrievalContext {
	return apptype.RetrievalContext{
		RequestID: "req-1",
		Query:     "AAPL outlook",
		SeedIDs:   []string{"AAPL"},
		Items: []apptype.RetrievalItem{
			item("AAPL", apptype.KindAsset, 1, map[string]any{"symbol": "AAPL", "beta": 1.1}),
			item("aapl_p3", apptype.KindPricePoint, 0.6, map[string]any{"close": 104.0, "ts": 3}),
			item("aapl_p1", apptype.KindPricePoint, 0.6, map[string]any{"close": 100.0, "ts": 1}),
			item("aapl_p2", apptype.KindPricePoint, 0.6, map[string]any{"close": 102.0, "ts": 2}),
			item("aapl_p4", apptype.KindPricePoint, 0.6, map[string]any{"close": 103.0, "ts": 4}),
			item("aapl_p5", apptype.KindPricePoint, 0.6, map[string]any{"close": 108.0, "ts": 5}),
			item("aapl_rsi", apptype.KindIndicator, 0.6, map[string]any{"name": "RSI_14", "value": 62.0}),
			item("aapl_sma50", apptype.KindIndicator, 0.6, map[string]any{"name": "sma", "window": 50, "value": 104.0}),
			item("aapl_sma200", apptype.KindIndicator, 0.6, map[string]any{"name": "sma", "window": 200, "value": 98.0}),
			item("aapl_news", apptype.KindSignal, 0.5, map[string]any{"sentiment": 0.4}),
			item("msft_p1", apptype.KindPricePoint, 0.36, map[string]any{"symbol": "MSFT", "close": 400.0, "ts": 1}),
		},
	}
}

func runAll(t *testing.T, r Reasoner, rc apptype.RetrievalContext) []apptype.AgentStageResult {
	t.Helper()
	var prior []apptype.AgentStageResult
	for _, st := range apptype.Stages {
		res, err := r.Run(context.Background(), st, rc, prior)
		require.NoError(t, err, st)
		require.Equal(t, st, res.Stage)
		prior = append(prior, res)
	}
	return prior
}

func TestHeuristicAnalyst(t *testing.T) {
	res, err := NewHeuristic().Run(context.Background(), apptype.StageAnalyst, aaplContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, apptype.StatusOK, res.Status)

	p := res.Payload
	assert.Equal(t, "AAPL", apptype.String(p, apptype.KeySymbol))
	last, _ := apptype.Float(p, apptype.KeyLastPrice)
	assert.Equal(t, 108.0, last)
	assert.Equal(t, []float64{100, 102, 104, 103, 108}, apptype.Floats(p, apptype.KeyPrices))
	mom, _ := apptype.Float(p, apptype.KeyMomentum)
	assert.InDelta(t, 0.08, mom, 1e-9)
	sent, _ := apptype.Float(p, apptype.KeySentiment)
	assert.InDelta(t, 0.4, sent, 1e-9)
	_, ok := apptype.Float(p, apptype.KeyVolatility)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"positive_momentum", "golden_cross"}, apptype.Strings(p, apptype.KeyTechnicalSignals))

	assert.Contains(t, res.Consumed, "AAPL")
	assert.Contains(t, res.Consumed, "aapl_rsi")
	assert.Contains(t, res.Consumed, "aapl_news")
	assert.NotContains(t, res.Consumed, "msft_p1")
}

func TestHeuristicAnalystInsufficientData(t *testing.T) {
	rc := apptype.RetrievalContext{Query: "anything", Items: []apptype.RetrievalItem{
		item("AAPL", apptype.KindAsset, 1, map[string]any{"symbol": "AAPL"}),
	}}
	res, err := NewHeuristic().Run(context.Background(), apptype.StageAnalyst, rc, nil)
	require.NoError(t, err)
	assert.Equal(t, apptype.StatusDegraded, res.Status)
	require.Len(t, res.Faults, 1)
	assert.Equal(t, string(faults.InsufficientData), res.Faults[0].Kind)
}

func TestHeuristicDegradedContextDoesNotCascade(t *testing.T) {
	rc := aaplContext()
	rc.Degraded = true
	for _, res := range runAll(t, NewHeuristic(), rc) {
		assert.Equal(t, apptype.StatusOK, res.Status, res.Stage)
		assert.Empty(t, res.Faults, res.Stage)
	}
}

func TestHeuristicMissingInputsDegradeOnlyDependents(t *testing.T) {
	rc := apptype.RetrievalContext{Query: "anything", Items: []apptype.RetrievalItem{
		item("AAPL", apptype.KindAsset, 1, map[string]any{"symbol": "AAPL", "beta": 1.3}),
	}}
	results := runAll(t, NewHeuristic(), rc)
	assert.Equal(t, apptype.StatusDegraded, results[0].Status)
	assert.Equal(t, apptype.StatusDegraded, results[1].Status, "no momentum, indicator or sentiment to score")
	assert.Equal(t, apptype.StatusOK, results[2].Status, "beta is still a usable risk input")
	assert.Equal(t, apptype.StatusOK, results[3].Status)
}

func TestHeuristicFullRun(t *testing.T) {
	results := runAll(t, NewHeuristic(), aaplContext())

	pred := results[1]
	assert.Equal(t, "bullish", apptype.String(pred.Payload, apptype.KeyDirection))
	conf, _ := apptype.Float(pred.Payload, apptype.KeyConfidence)
	assert.InDelta(t, 0.732, conf, 1e-9)
	target, _ := apptype.Float(pred.Payload, apptype.KeyPriceTarget)
	assert.InDelta(t, 116.64, target, 1e-9)
	assert.Equal(t, results[0].Consumed, pred.Consumed)

	risk := results[2]
	vol, _ := apptype.Float(risk.Payload, apptype.KeyVolatility)
	var95, _ := apptype.Float(risk.Payload, apptype.KeyVaR95)
	assert.InDelta(t, 1.645*vol, var95, 1e-12)
	assert.Contains(t, []string{"low", "moderate"}, apptype.String(risk.Payload, apptype.KeyRiskLevel))
	dd, _ := apptype.Float(risk.Payload, apptype.KeyMaxDrawdown)
	assert.InDelta(t, 1.0/104.0, dd, 1e-9)

	coord := results[3]
	assert.Equal(t, "buy", apptype.String(coord.Payload, apptype.KeySignal))
	entry, _ := apptype.Float(coord.Payload, apptype.KeyEntryPrice)
	stop, _ := apptype.Float(coord.Payload, apptype.KeyStopLoss)
	assert.Equal(t, 108.0, entry)
	assert.Less(t, stop, entry)
	assert.NotEmpty(t, apptype.String(coord.Payload, apptype.KeyRationale))
	assert.Equal(t, results[0].Consumed, coord.Consumed)
}

func TestHeuristicCoordinatorExtremeRiskHoldsBuys(t *testing.T) {
	prior := []apptype.AgentStageResult{
		{Stage: apptype.StageAnalyst, Status: apptype.StatusOK, Payload: map[string]any{apptype.KeyLastPrice: 50.0}},
		{Stage: apptype.StagePredictor, Status: apptype.StatusOK, Payload: map[string]any{apptype.KeyDirection: "bullish", apptype.KeyConfidence: 0.9}, Consumed: []string{"a"}},
		{Stage: apptype.StageRiskEvaluator, Status: apptype.StatusOK, Payload: map[string]any{apptype.KeyRiskLevel: "extreme", apptype.KeyRiskScore: 0.9}, Consumed: []string{"a", "b"}},
	}
	res, err := NewHeuristic().Run(context.Background(), apptype.StageCoordinator, apptype.RetrievalContext{}, prior)
	require.NoError(t, err)
	assert.Equal(t, "hold", apptype.String(res.Payload, apptype.KeySignal))
	assert.Equal(t, []string{"a", "b"}, res.Consumed)
}

func TestHeuristicBearishStrongSell(t *testing.T) {
	prior := []apptype.AgentStageResult{
		{Stage: apptype.StageAnalyst, Status: apptype.StatusOK, Payload: map[string]any{apptype.KeyLastPrice: 50.0}},
		{Stage: apptype.StagePredictor, Status: apptype.StatusOK, Payload: map[string]any{apptype.KeyDirection: "bearish", apptype.KeyConfidence: 0.8, apptype.KeyPriceTarget: 45.0}},
		{Stage: apptype.StageRiskEvaluator, Status: apptype.StatusOK, Payload: map[string]any{apptype.KeyRiskLevel: "moderate"}},
	}
	res, err := NewHeuristic().Run(context.Background(), apptype.StageCoordinator, apptype.RetrievalContext{}, prior)
	require.NoError(t, err)
	assert.Equal(t, "strong_sell", apptype.String(res.Payload, apptype.KeySignal))
	stop, _ := apptype.Float(res.Payload, apptype.KeyStopLoss)
	assert.Greater(t, stop, 50.0)
}

func TestHeuristicCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeuristic().Run(ctx, apptype.StageAnalyst, aaplContext(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsBackend(t *testing.T) {
	r, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Heuristic{}, r)

	_, err = New(Config{Backend: "openai"}, nil)
	assert.ErrorIs(t, err, faults.ErrInvalidArgument)

	_, err = New(Config{Backend: "bogus"}, nil)
	assert.Error(t, err)
}

func TestDefaultCatalogCoversStages(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)
	for _, st := range apptype.Stages {
		p, ok := c.Get(st)
		require.True(t, ok, st)
		assert.NotEmpty(t, p.Version)
		out, err := p.Render(newPromptData(aaplContext(), nil))
		require.NoError(t, err)
		assert.Contains(t, out, "AAPL outlook")
	}

	_, err = ParseCatalog([]byte("prompts:\n  analyst:\n    template: hi\n"))
	assert.Error(t, err)
}

func chatServer(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req struct {
			Model          string `json:"model"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"backend down","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestLLMRun(t *testing.T) {
	srv := chatServer(t, "Here you go:\n```json\n{\"status\":\"ok\",\"payload\":{\"direction\":\"bearish\",\"confidence\":0.7}}\n```", http.StatusOK)
	defer srv.Close()

	l, err := NewLLM(LLMConfig{BaseURL: srv.URL, Model: "local-model", RequestsPerSecond: 100}, nil)
	require.NoError(t, err)
	rc := aaplContext()
	res, err := l.Run(context.Background(), apptype.StagePredictor, rc, nil)
	require.NoError(t, err)
	assert.Equal(t, apptype.StatusOK, res.Status)
	assert.Equal(t, "bearish", apptype.String(res.Payload, apptype.KeyDirection))
	// no explicit consumed list: every item in the prompt counts
	assert.Equal(t, rc.IDs(), res.Consumed)
}

func TestLLMDegradedAndConsumed(t *testing.T) {
	srv := chatServer(t, `{"status":"degraded","payload":{},"consumed":["AAPL"]}`, http.StatusOK)
	defer srv.Close()

	l, err := NewLLM(LLMConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	res, err := l.Run(context.Background(), apptype.StageAnalyst, aaplContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, apptype.StatusDegraded, res.Status)
	assert.Equal(t, []string{"AAPL"}, res.Consumed)
}

func TestLLMFailuresAreRetryable(t *testing.T) {
	cases := map[string]*httptest.Server{
		"server error": chatServer(t, "", http.StatusInternalServerError),
		"no json":      chatServer(t, "I cannot help with that", http.StatusOK),
		"bad status":   chatServer(t, `{"status":"failed"}`, http.StatusOK),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			defer srv.Close()
			l, err := NewLLM(LLMConfig{BaseURL: srv.URL}, nil)
			require.NoError(t, err)
			_, err = l.Run(context.Background(), apptype.StageAnalyst, aaplContext(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, faults.ErrReasoningUnavailable)
			assert.True(t, faults.IsRetryable(err))
		})
	}
}

func TestLLMCancelled(t *testing.T) {
	srv := chatServer(t, `{"status":"ok"}`, http.StatusOK)
	defer srv.Close()
	l, err := NewLLM(LLMConfig{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Run(ctx, apptype.StageAnalyst, aaplContext(), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLLMTokenBudgetDropsLowestRanked(t *testing.T) {
	l, err := NewLLM(LLMConfig{BaseURL: "http://127.0.0.1:1", TokenBudget: 200}, nil)
	require.NoError(t, err)
	// use the rune estimate so the test stays offline
	l.tokens.once.Do(func() {})
	l.tokens.err = errors.New("offline")

	p, _ := l.prompts.Get(apptype.StageAnalyst)
	rc := aaplContext()
	text, ids, err := l.render(p, rc, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, l.tokens.Count(text), 200)
	require.NotEmpty(t, ids)
	assert.Less(t, len(ids), len(rc.Items))
	assert.Equal(t, rc.IDs()[:len(ids)], ids)
}

func TestParseStageOutput(t *testing.T) {
	out, err := parseStageOutput("noise {\"payload\":{\"signal\":\"buy\"},\"consumed\":[\"x\"]} trailing")
	require.NoError(t, err)
	assert.Equal(t, "buy", out.Payload["signal"])
	assert.Equal(t, []string{"x"}, out.Consumed)

	_, err = parseStageOutput("{broken")
	assert.Error(t, err)
}
