// Package aggregator turns the stage results of one request into the typed
// output artifact, checking that the stages agree with each other and
// scaling confidence down for every degradation.
package aggregator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

const component = "aggregator"

// Config holds the confidence scaling parameters
type Config struct {
	DegradationFactor float64 `yaml:"degradation_factor"`
	ConfidenceFloor   float64 `yaml:"confidence_floor"`
}

// DefaultConfig returns factor 0.7 and floor 0.1
func DefaultConfig() Config {
	return Config{DegradationFactor: 0.7, ConfidenceFloor: 0.1}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DegradationFactor <= 0 || c.DegradationFactor > 1 {
		c.DegradationFactor = d.DegradationFactor
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		c.ConfidenceFloor = d.ConfidenceFloor
	}
	return c
}

// Policy tells the aggregator which stages are mandatory
type Policy interface {
	IsMandatory(stage apptype.StageName) bool
}

// Aggregator builds artifacts. It is stateless and safe for concurrent use.
type Aggregator struct {
	cfg Config
	now func() time.Time
}

// New returns an Aggregator
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg.withDefaults(), now: time.Now}
}

// Aggregate validates the mandatory stages, builds the artifact of type t
// and attaches the traceability references. The artifact ID is left empty
// for the caller to assign.
func (a *Aggregator) Aggregate(t apptype.ArtifactType, policy Policy, rc apptype.RetrievalContext, results []apptype.AgentStageResult) (apptype.OutputArtifact, error) {
	if !t.Valid() {
		return apptype.OutputArtifact{}, faults.New(faults.InvalidArgument, component, "unknown artifact type %q", t)
	}
	byStage := make(map[apptype.StageName]apptype.AgentStageResult, len(results))
	for _, r := range results {
		byStage[r.Stage] = r
	}
	for _, st := range apptype.Stages {
		if !policy.IsMandatory(st) {
			continue
		}
		r, ok := byStage[st]
		if !ok || (r.Status != apptype.StatusOK && r.Status != apptype.StatusDegraded) {
			return apptype.OutputArtifact{}, faults.New(faults.IncompleteArtifact, component, "mandatory stage %s missing or failed", st).WithStage(string(st))
		}
	}

	art := apptype.OutputArtifact{
		Type:      t,
		RequestID: rc.RequestID,
		Query:     rc.Query,
		CreatedAt: a.now().UTC(),
	}
	art.Faults = append(art.Faults, rc.Faults...)

	var base float64
	switch t {
	case apptype.ArtifactTrend:
		art.Trend = buildTrend(byStage)
		base = art.Trend.Confidence
	case apptype.ArtifactRisk:
		art.Risk = buildRisk(byStage)
		base = art.Risk.Confidence
	case apptype.ArtifactSignal:
		art.Signal = buildSignal(byStage)
		base = art.Signal.Confidence
	}

	degradations := 0
	for _, st := range apptype.Stages {
		r, ok := byStage[st]
		if !ok {
			continue
		}
		art.Faults = append(art.Faults, r.Faults...)
		if r.Status == apptype.StatusDegraded {
			degradations++
		}
	}
	for _, f := range consistency(byStage) {
		art.Faults = append(art.Faults, f)
		degradations++
	}
	art.Degraded = degradations > 0 || rc.Degraded
	art.Confidence = a.scale(base, degradations)

	art.Stages, art.ContextRefs = trace(rc, results)
	return art, nil
}

// scale applies max(floor, base*factor^n) when n > 0
func (a *Aggregator) scale(base float64, n int) float64 {
	base = math.Max(0, math.Min(1, base))
	if n == 0 {
		return base
	}
	return math.Max(a.cfg.ConfidenceFloor, base*math.Pow(a.cfg.DegradationFactor, float64(n)))
}

func trace(rc apptype.RetrievalContext, results []apptype.AgentStageResult) ([]apptype.StageTrace, []apptype.ContextRef) {
	byID := make(map[string]apptype.RetrievalItem, len(rc.Items))
	for _, it := range rc.Items {
		byID[it.EntityID] = it
	}
	stages := make([]apptype.StageTrace, 0, len(results))
	seen := map[string]struct{}{}
	refs := []apptype.ContextRef{}
	for _, r := range results {
		items := make([]string, 0, len(r.Consumed))
		for _, id := range r.Consumed {
			it, ok := byID[id]
			if !ok {
				continue
			}
			items = append(items, id)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			refs = append(refs, apptype.ContextRef{EntityID: id, Provenance: it.Provenance, Score: it.Score})
		}
		stages = append(stages, apptype.StageTrace{Stage: r.Stage, Status: r.Status, ContextItems: items})
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].EntityID < refs[j].EntityID
	})
	return stages, refs
}

func buildTrend(by map[apptype.StageName]apptype.AgentStageResult) *apptype.TrendAssessment {
	an := by[apptype.StageAnalyst].Payload
	pr := by[apptype.StagePredictor].Payload
	rk := by[apptype.StageRiskEvaluator].Payload

	tr := &apptype.TrendAssessment{
		Symbol:           firstString(pr, an, apptype.KeySymbol),
		Direction:        apptype.TrendDirection(apptype.String(pr, apptype.KeyDirection)),
		TimeHorizon:      apptype.String(pr, apptype.KeyTimeHorizon),
		KeyInsights:      apptype.Strings(pr, apptype.KeyInsights),
		TechnicalSignals: apptype.Strings(an, apptype.KeyTechnicalSignals),
	}
	if tr.Direction == "" {
		tr.Direction = apptype.TrendSideways
	}
	if len(tr.KeyInsights) == 0 {
		tr.KeyInsights = apptype.Strings(an, apptype.KeyInsights)
	}
	tr.Confidence, _ = apptype.Float(pr, apptype.KeyConfidence)
	tr.PriceTarget, _ = apptype.Float(pr, apptype.KeyPriceTarget)
	tr.SentimentScore, _ = apptype.Float(an, apptype.KeySentiment)
	for _, f := range riskFactors(rk) {
		if f.Weight > 0 {
			tr.RiskFactors = append(tr.RiskFactors, f.Name)
		}
	}
	return tr
}

func buildRisk(by map[apptype.StageName]apptype.AgentStageResult) *apptype.RiskAssessment {
	an := by[apptype.StageAnalyst].Payload
	rk := by[apptype.StageRiskEvaluator].Payload

	ra := &apptype.RiskAssessment{
		Symbol:          firstString(rk, an, apptype.KeySymbol),
		RiskLevel:       apptype.RiskLevel(apptype.String(rk, apptype.KeyRiskLevel)),
		Factors:         riskFactors(rk),
		Recommendations: apptype.Strings(rk, apptype.KeyRecommendations),
	}
	if ra.RiskLevel == "" {
		ra.RiskLevel = apptype.RiskModerate
	}
	ra.RiskScore, _ = apptype.Float(rk, apptype.KeyRiskScore)
	ra.Confidence, _ = apptype.Float(rk, apptype.KeyConfidence)
	ra.Metrics.Volatility = firstFloat(rk, an, apptype.KeyVolatility)
	ra.Metrics.Beta = firstFloat(rk, an, apptype.KeyBeta)
	ra.Metrics.VaR95, _ = apptype.Float(rk, apptype.KeyVaR95)
	ra.Metrics.MaxDrawdown, _ = apptype.Float(rk, apptype.KeyMaxDrawdown)
	return ra
}

func buildSignal(by map[apptype.StageName]apptype.AgentStageResult) *apptype.TradingSignal {
	an := by[apptype.StageAnalyst].Payload
	co := by[apptype.StageCoordinator].Payload

	ts := &apptype.TradingSignal{
		Symbol:    firstString(co, an, apptype.KeySymbol),
		Signal:    apptype.SignalType(apptype.String(co, apptype.KeySignal)),
		Strategy:  apptype.String(co, apptype.KeyStrategy),
		Rationale: apptype.String(co, apptype.KeyRationale),
	}
	if ts.Signal == "" {
		ts.Signal = apptype.SignalHold
	}
	ts.Confidence, _ = apptype.Float(co, apptype.KeyConfidence)
	ts.EntryPrice, _ = apptype.Float(co, apptype.KeyEntryPrice)
	ts.TargetPrice, _ = apptype.Float(co, apptype.KeyTargetPrice)
	ts.StopLoss, _ = apptype.Float(co, apptype.KeyStopLoss)
	ts.RiskReward, _ = apptype.Float(co, apptype.KeyRiskReward)
	return ts
}

// consistency reports contradictions between stage outputs. Stages with an
// empty payload are not checked.
func consistency(by map[apptype.StageName]apptype.AgentStageResult) []apptype.Fault {
	var out []apptype.Fault
	direction := apptype.TrendDirection(apptype.String(by[apptype.StagePredictor].Payload, apptype.KeyDirection))
	signal := apptype.SignalType(apptype.String(by[apptype.StageCoordinator].Payload, apptype.KeySignal))
	level := apptype.RiskLevel(apptype.String(by[apptype.StageRiskEvaluator].Payload, apptype.KeyRiskLevel))

	if signal != "" && direction != "" {
		if (direction == apptype.TrendBullish && signal.Side() < 0) || (direction == apptype.TrendBearish && signal.Side() > 0) {
			out = append(out, consistencyFault(apptype.StageCoordinator, fmt.Sprintf("signal %s contradicts %s prediction", signal, direction)))
		}
	}
	if signal.Side() > 0 && level == apptype.RiskExtreme {
		out = append(out, consistencyFault(apptype.StageCoordinator, fmt.Sprintf("signal %s issued at %s risk", signal, level)))
	}
	return out
}

func consistencyFault(stage apptype.StageName, msg string) apptype.Fault {
	return apptype.Fault{Kind: string(faults.Consistency), Component: component, Stage: string(stage), Message: msg}
}

// riskFactors accepts both typed factors and the generic JSON form
func riskFactors(m map[string]any) []apptype.RiskFactor {
	var raw []map[string]any
	switch v := m[apptype.KeyRiskFactors].(type) {
	case []apptype.RiskFactor:
		return append([]apptype.RiskFactor(nil), v...)
	case []map[string]any:
		raw = v
	case []any:
		for _, e := range v {
			if f, ok := e.(map[string]any); ok {
				raw = append(raw, f)
			}
		}
	}
	out := make([]apptype.RiskFactor, 0, len(raw))
	for _, f := range raw {
		w, _ := apptype.Float(f, "weight")
		out = append(out, apptype.RiskFactor{
			Name:        apptype.String(f, "name"),
			Weight:      w,
			Description: apptype.String(f, "description"),
		})
	}
	return out
}

func firstString(a, b map[string]any, key string) string {
	if s := apptype.String(a, key); s != "" {
		return s
	}
	return apptype.String(b, key)
}

func firstFloat(a, b map[string]any, key string) float64 {
	if f, ok := apptype.Float(a, key); ok {
		return f
	}
	f, _ := apptype.Float(b, key)
	return f
}
