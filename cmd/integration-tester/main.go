package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	SSEURL     string       `json:"sse_url"`
	Symbol     string       `json:"symbol"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	sseURL := flag.String("sse-url", "http://localhost:8080/sse", "SSE endpoint URL")
	symbol := flag.String("symbol", "", "Ticker to seed (default: a fresh one per run)")
	timeout := flag.Duration("timeout", 60*time.Second, "Overall timeout")
	flag.Parse()

	if *symbol == "" {
		*symbol = fmt.Sprintf("ITS%d", time.Now().Unix()%1000000)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration-tester", Version: "dev"}, nil)
	transport := mcp.NewSSEClientTransport(*sseURL, nil)

	start := time.Now()
	report := Report{SSEURL: *sseURL, Symbol: *symbol, StartedAt: start}
	steps := make([]StepResult, 0, 16)

	// Connect
	tConn := time.Now()
	connRes := StepResult{Name: "connect"}
	session, err := client.Connect(ctx, transport)
	if err != nil {
		connRes.Error = err.Error()
		connRes.ElapsedMs = elapsedMsSince(tConn)
		report.Steps = append(steps, connRes)
		report.DurationMs = elapsedMsSince(start)
		emit(report)
		os.Exit(1)
	}
	defer session.Close()
	connRes.Success = true
	connRes.ElapsedMs = elapsedMsSince(tConn)
	steps = append(steps, connRes)

	ents, rels := seedGraph(*symbol)
	steps = append(steps, runListTools(ctx, session))
	steps = append(steps, callStep(ctx, session, "add_entities", apptype.AddEntitiesArgs{Entities: ents}, nil))
	steps = append(steps, callStep(ctx, session, "add_relations", apptype.AddRelationsArgs{Relations: rels}, nil))
	steps = append(steps, callStep(ctx, session, "embed_entities", apptype.EmbedEntitiesArgs{}, nil))
	steps = append(steps, callStep(ctx, session, "traverse", apptype.TraverseArgs{StartID: *symbol, MaxDepth: intPtr(1)}, nil))
	steps = append(steps, callStep(ctx, session, "search_similar", apptype.SearchSimilarArgs{Query: *symbol, K: 5}, nil))
	steps = append(steps, callStep(ctx, session, "retrieve", apptype.RetrieveArgs{Query: "context for " + *symbol}, nil))

	var produced []string
	for _, t := range []apptype.ArtifactType{apptype.ArtifactTrend, apptype.ArtifactRisk, apptype.ArtifactSignal} {
		args := apptype.AnalyzeArgs{Query: fmt.Sprintf("What is the outlook for %s?", *symbol), ArtifactType: string(t)}
		step := callStep(ctx, session, "analyze", args, func(text string) (string, error) {
			var art apptype.OutputArtifact
			if err := json.Unmarshal([]byte(text), &art); err != nil {
				return "", fmt.Errorf("decode artifact: %w", err)
			}
			if art.Type != t {
				return "", fmt.Errorf("got artifact type %q", art.Type)
			}
			if !art.Degraded {
				produced = append(produced, art.ID)
			}
			return fmt.Sprintf("id=%s confidence=%.2f degraded=%t", art.ID, art.Confidence, art.Degraded), nil
		})
		step.Name = "analyze_" + string(t)
		steps = append(steps, step)
	}

	// history is only available when the server has a database
	if len(produced) > 0 {
		steps = append(steps, callStep(ctx, session, "get_artifact", apptype.GetArtifactArgs{ID: produced[0]}, nil))
		steps = append(steps, callStep(ctx, session, "list_artifacts", apptype.ListArtifactsArgs{Limit: 5}, nil))
	}
	steps = append(steps, callStep(ctx, session, "health_check", apptype.HealthArgs{}, nil))

	// finalize report
	report.Steps = steps
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range steps {
		if !s.Success {
			report.Passed = false
			break
		}
	}
	emit(report)

	if !report.Passed {
		os.Exit(1)
	}
}

// seedGraph returns an asset with five rising closes and one peer
func seedGraph(symbol string) ([]apptype.Entity, []apptype.Relation) {
	peer := symbol + "_PEER"
	ents := []apptype.Entity{
		{ID: symbol, Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": symbol, "beta": 1.1}},
		{ID: peer, Kind: apptype.KindAsset, Attributes: map[string]any{"symbol": peer}},
	}
	rels := []apptype.Relation{{Source: symbol, Kind: apptype.RelCorrelatesWith, Target: peer}}
	for i, c := range []float64{50, 51, 52.5, 52, 55} {
		id := fmt.Sprintf("%s_p%d", symbol, i+1)
		ents = append(ents, apptype.Entity{ID: id, Kind: apptype.KindPricePoint, Attributes: map[string]any{"symbol": symbol, "close": c, "ts": i + 1}})
		rels = append(rels, apptype.Relation{Source: symbol, Kind: apptype.RelHasPricePoint, Target: id})
	}
	return ents, rels
}

func runListTools(ctx context.Context, session *mcp.ClientSession) StepResult {
	t0 := time.Now()
	res := StepResult{Name: "list_tools"}
	if tools, err := session.ListTools(ctx, &mcp.ListToolsParams{}); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
		res.Detail = fmt.Sprintf("%d tools", len(tools.Tools))
	}
	res.ElapsedMs = elapsedMsSince(t0)
	return res
}

// callStep calls a tool and, when check is set, validates the first text content
func callStep(ctx context.Context, session *mcp.ClientSession, tool string, args any, check func(text string) (string, error)) (res StepResult) {
	t0 := time.Now()
	res = StepResult{Name: tool}
	defer func() { res.ElapsedMs = elapsedMsSince(t0) }()

	raw, _ := json.Marshal(args)
	out, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: json.RawMessage(raw)})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	text := firstText(out)
	if out.IsError {
		res.Error = text
		return res
	}
	res.Success = true
	if check != nil {
		detail, err := check(text)
		if err != nil {
			res.Success = false
			res.Error = err.Error()
			return res
		}
		res.Detail = detail
	}
	return res
}

func firstText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func emit(r Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(r)
}

// elapsedMsSince returns max(1ms, elapsed) to avoid zero durations on fast steps
func elapsedMsSince(t0 time.Time) int64 {
	d := time.Since(t0) / time.Millisecond
	if d <= 0 {
		return 1
	}
	return int64(d)
}

func intPtr(v int) *int { return &v }
