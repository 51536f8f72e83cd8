package reasoning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
)

// Heuristic is a deterministic, rule-based backend. It never fails to reach
// its backend, so it is the default for local runs and tests.
type Heuristic struct{}

// NewHeuristic returns the rule-based backend
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Run implements Reasoner
func (h *Heuristic) Run(ctx context.Context, stage apptype.StageName, rc apptype.RetrievalContext, prior []apptype.AgentStageResult) (apptype.AgentStageResult, error) {
	if err := ctx.Err(); err != nil {
		return apptype.AgentStageResult{}, err
	}
	switch stage {
	case apptype.StageAnalyst:
		return h.analyst(rc), nil
	case apptype.StagePredictor:
		return h.predictor(prior), nil
	case apptype.StageRiskEvaluator:
		return h.riskEvaluator(prior), nil
	case apptype.StageCoordinator:
		return h.coordinator(prior), nil
	}
	return apptype.AgentStageResult{}, faults.New(faults.InvalidArgument, component, "unknown stage %q", stage)
}

type pricePoint struct {
	id    string
	ts    float64
	hasTS bool
	close float64
}

func (h *Heuristic) analyst(rc apptype.RetrievalContext) apptype.AgentStageResult {
	res := apptype.AgentStageResult{Stage: apptype.StageAnalyst, Status: apptype.StatusOK}
	payload := map[string]any{}
	var consumed []string

	var asset *apptype.RetrievalItem
	for i := range rc.Items {
		if rc.Items[i].Kind == apptype.KindAsset {
			asset = &rc.Items[i]
			break
		}
	}
	symbol := ""
	assetVol, hasAssetVol := 0.0, false
	if asset != nil {
		consumed = append(consumed, asset.EntityID)
		symbol = apptype.String(asset.Payload, "symbol")
		if symbol == "" {
			symbol = asset.EntityID
		}
		payload[apptype.KeySymbol] = symbol
		if b, ok := apptype.Float(asset.Payload, "beta"); ok {
			payload[apptype.KeyBeta] = b
		}
		assetVol, hasAssetVol = apptype.Float(asset.Payload, "volatility")
	}

	// items tagged with a different symbol belong to another asset
	sameAsset := func(it apptype.RetrievalItem) bool {
		s := apptype.String(it.Payload, "symbol")
		return s == "" || symbol == "" || strings.EqualFold(s, symbol)
	}

	var points []pricePoint
	var rsi, smaShort, smaLong float64
	var hasRSI, hasShort, hasLong bool
	var sentSum float64
	var sentN int
	for _, it := range rc.Items {
		switch it.Kind {
		case apptype.KindPricePoint:
			if !sameAsset(it) {
				continue
			}
			c, ok := apptype.Float(it.Payload, "close")
			if !ok {
				c, ok = apptype.Float(it.Payload, "price")
			}
			if !ok {
				continue
			}
			ts, hasTS := apptype.Float(it.Payload, "ts")
			points = append(points, pricePoint{id: it.EntityID, ts: ts, hasTS: hasTS, close: c})
			consumed = append(consumed, it.EntityID)
		case apptype.KindIndicator:
			if !sameAsset(it) {
				continue
			}
			v, ok := apptype.Float(it.Payload, "value")
			if !ok {
				break
			}
			name := strings.ToLower(apptype.String(it.Payload, "name"))
			if name == "" {
				name = strings.ToLower(it.EntityID)
			}
			switch {
			case strings.Contains(name, "rsi"):
				rsi, hasRSI = v, true
			case strings.Contains(name, "sma") || strings.Contains(name, "moving_average"):
				w, _ := apptype.Float(it.Payload, "window")
				if w >= 100 || strings.Contains(name, "long") || strings.Contains(name, "200") {
					smaLong, hasLong = v, true
				} else {
					smaShort, hasShort = v, true
				}
			case strings.Contains(name, "sentiment"):
				sentSum += v
				sentN++
			default:
				continue
			}
			consumed = append(consumed, it.EntityID)
			continue
		}
		if it.Kind != apptype.KindPricePoint {
			if s, ok := apptype.Float(it.Payload, "sentiment"); ok && sameAsset(it) {
				sentSum += s
				sentN++
				if !contains(consumed, it.EntityID) {
					consumed = append(consumed, it.EntityID)
				}
			}
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].hasTS && points[j].hasTS && points[i].ts != points[j].ts {
			return points[i].ts < points[j].ts
		}
		return points[i].id < points[j].id
	})
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.close
	}

	var signals, insights []string
	if len(prices) > 0 {
		last := prices[len(prices)-1]
		payload[apptype.KeyLastPrice] = last
		payload[apptype.KeyPrices] = prices
		insights = append(insights, fmt.Sprintf("%s last price %.2f over %d observations", label(symbol), last, len(prices)))
	}
	if len(prices) >= 2 && prices[0] != 0 {
		mom := prices[len(prices)-1]/prices[0] - 1
		payload[apptype.KeyMomentum] = mom
		switch {
		case mom > 0.05:
			signals = append(signals, "positive_momentum")
		case mom < -0.05:
			signals = append(signals, "negative_momentum")
		}
		insights = append(insights, fmt.Sprintf("price change %+.1f%% across the window", mom*100))
	}
	if vol, ok := volatility(prices); ok {
		payload[apptype.KeyVolatility] = vol
	} else if hasAssetVol {
		payload[apptype.KeyVolatility] = assetVol
	}
	if hasRSI {
		payload[apptype.KeyRSI] = rsi
		switch {
		case rsi > 70:
			signals = append(signals, "rsi_overbought")
		case rsi < 30:
			signals = append(signals, "rsi_oversold")
		}
	}
	if hasShort {
		payload[apptype.KeySMAShort] = smaShort
	}
	if hasLong {
		payload[apptype.KeySMALong] = smaLong
	}
	if hasShort && hasLong {
		if smaShort > smaLong {
			signals = append(signals, "golden_cross")
		} else {
			signals = append(signals, "death_cross")
		}
	}
	if sentN > 0 {
		s := sentSum / float64(sentN)
		payload[apptype.KeySentiment] = s
		insights = append(insights, fmt.Sprintf("average sentiment %.2f from %d sources", s, sentN))
	}
	payload[apptype.KeyTechnicalSignals] = signals
	payload[apptype.KeyInsights] = insights

	quantitative := len(prices) >= 2 || hasRSI || (hasShort && hasLong) || sentN > 0
	if !quantitative {
		res.Status = apptype.StatusDegraded
		res.Faults = append(res.Faults, faults.New(faults.InsufficientData, component, "no price, indicator or sentiment data in context").WithStage(string(apptype.StageAnalyst)).Fault())
	}
	res.Payload = payload
	res.Consumed = consumed
	return res
}

func (h *Heuristic) predictor(prior []apptype.AgentStageResult) apptype.AgentStageResult {
	res := apptype.AgentStageResult{Stage: apptype.StagePredictor, Status: apptype.StatusOK}
	an, ok := findPrior(prior, apptype.StageAnalyst)
	p := an.Payload
	if !ok || !hasSignal(p) {
		res.Status = apptype.StatusDegraded
	}

	score := 0.0
	if mom, ok := apptype.Float(p, apptype.KeyMomentum); ok {
		score += clamp(mom*5, -1, 1) * 0.4
	}
	if rsi, ok := apptype.Float(p, apptype.KeyRSI); ok {
		switch {
		case rsi > 70:
			score -= 0.2
		case rsi < 30:
			score += 0.2
		default:
			score += (rsi - 50) / 100 * 0.2
		}
	}
	short, okS := apptype.Float(p, apptype.KeySMAShort)
	long, okL := apptype.Float(p, apptype.KeySMALong)
	if okS && okL {
		if short > long {
			score += 0.2
		} else {
			score -= 0.2
		}
	}
	if s, ok := apptype.Float(p, apptype.KeySentiment); ok {
		score += clamp(s, -1, 1) * 0.2
	}

	direction := apptype.TrendSideways
	switch {
	case score > directionThreshold:
		direction = apptype.TrendBullish
	case score < -directionThreshold:
		direction = apptype.TrendBearish
	}
	conf := math.Min(0.95, 0.5+math.Abs(score)/2)

	payload := map[string]any{
		apptype.KeyDirection:   string(direction),
		apptype.KeyConfidence:  conf,
		apptype.KeyTimeHorizon: "1-3 months",
	}
	if sym := apptype.String(p, apptype.KeySymbol); sym != "" {
		payload[apptype.KeySymbol] = sym
	}
	if last, ok := apptype.Float(p, apptype.KeyLastPrice); ok && last > 0 {
		mom, _ := apptype.Float(p, apptype.KeyMomentum)
		payload[apptype.KeyPriceTarget] = round2(last * (1 + clamp(mom, -0.2, 0.2)))
	}
	insights := apptype.Strings(p, apptype.KeyInsights)
	insights = append(insights, fmt.Sprintf("composite score %+.2f implies %s outlook", score, direction))
	payload[apptype.KeyInsights] = insights
	res.Payload = payload
	res.Consumed = append([]string(nil), an.Consumed...)
	return res
}

func (h *Heuristic) riskEvaluator(prior []apptype.AgentStageResult) apptype.AgentStageResult {
	res := apptype.AgentStageResult{Stage: apptype.StageRiskEvaluator, Status: apptype.StatusOK}
	an, ok := findPrior(prior, apptype.StageAnalyst)
	if !ok {
		res.Status = apptype.StatusDegraded
	}
	p := an.Payload

	known := 0
	vol, okV := apptype.Float(p, apptype.KeyVolatility)
	if okV {
		known++
	}
	beta, okB := apptype.Float(p, apptype.KeyBeta)
	if okB {
		known++
	} else {
		beta = 1
	}
	sent, okS := apptype.Float(p, apptype.KeySentiment)
	if okS {
		known++
	}
	prices := apptype.Floats(p, apptype.KeyPrices)
	dd := maxDrawdown(prices)
	if len(prices) >= 2 {
		known++
	}

	volNorm := clamp(vol/0.05, 0, 1)
	betaNorm := clamp((beta-0.5)/1.5, 0, 1)
	sentRisk := clamp(-sent, 0, 1)
	ddNorm := clamp(dd/0.3, 0, 1)
	score := 0.4*volNorm + 0.25*betaNorm + 0.15*sentRisk + 0.2*ddNorm
	level := riskLevel(score)

	factors := []map[string]any{
		{"name": "volatility", "weight": round2(0.4 * volNorm), "description": fmt.Sprintf("per-period volatility %.2f%%", vol*100)},
		{"name": "beta", "weight": round2(0.25 * betaNorm), "description": fmt.Sprintf("market beta %.2f", beta)},
		{"name": "sentiment", "weight": round2(0.15 * sentRisk), "description": fmt.Sprintf("sentiment %.2f", sent)},
		{"name": "drawdown", "weight": round2(0.2 * ddNorm), "description": fmt.Sprintf("max drawdown %.1f%%", dd*100)},
	}
	payload := map[string]any{
		apptype.KeyRiskLevel:       string(level),
		apptype.KeyRiskScore:       round2(score),
		apptype.KeyVolatility:      vol,
		apptype.KeyBeta:            beta,
		apptype.KeyVaR95:           1.645 * vol,
		apptype.KeyMaxDrawdown:     dd,
		apptype.KeyRiskFactors:     factors,
		apptype.KeyRecommendations: recommendations(level),
		apptype.KeyConfidence:      0.6 + 0.3*float64(known)/4,
	}
	if sym := apptype.String(p, apptype.KeySymbol); sym != "" {
		payload[apptype.KeySymbol] = sym
	}
	if known == 0 {
		res.Status = apptype.StatusDegraded
		res.Faults = append(res.Faults, faults.New(faults.InsufficientData, component, "no risk inputs available").WithStage(string(apptype.StageRiskEvaluator)).Fault())
	}
	res.Payload = payload
	res.Consumed = append([]string(nil), an.Consumed...)
	return res
}

func (h *Heuristic) coordinator(prior []apptype.AgentStageResult) apptype.AgentStageResult {
	res := apptype.AgentStageResult{Stage: apptype.StageCoordinator, Status: apptype.StatusOK}
	an, _ := findPrior(prior, apptype.StageAnalyst)
	pr, okP := findPrior(prior, apptype.StagePredictor)
	rk, okR := findPrior(prior, apptype.StageRiskEvaluator)
	if !okP || pr.Status == apptype.StatusFailed || !okR || rk.Status == apptype.StatusFailed {
		res.Status = apptype.StatusDegraded
	}

	direction := apptype.TrendDirection(apptype.String(pr.Payload, apptype.KeyDirection))
	if direction == "" {
		direction = apptype.TrendSideways
	}
	conf, ok := apptype.Float(pr.Payload, apptype.KeyConfidence)
	if !ok {
		conf = 0.5
	}
	level := apptype.RiskLevel(apptype.String(rk.Payload, apptype.KeyRiskLevel))
	if level == "" {
		level = apptype.RiskModerate
	}
	riskScore, _ := apptype.Float(rk.Payload, apptype.KeyRiskScore)

	signal := apptype.SignalHold
	switch direction {
	case apptype.TrendBullish:
		signal = apptype.SignalBuy
		if conf >= 0.75 && (level == apptype.RiskVeryLow || level == apptype.RiskLow || level == apptype.RiskModerate) {
			signal = apptype.SignalStrongBuy
		}
	case apptype.TrendBearish:
		signal = apptype.SignalSell
		if conf >= 0.75 {
			signal = apptype.SignalStrongSell
		}
	}
	if signal.Side() > 0 && (level == apptype.RiskVeryHigh || level == apptype.RiskExtreme) {
		signal = apptype.SignalHold
	}

	payload := map[string]any{
		apptype.KeySignal:     string(signal),
		apptype.KeyConfidence: round2(conf * (1 - 0.3*clamp(riskScore, 0, 1))),
	}
	if sym := apptype.String(an.Payload, apptype.KeySymbol); sym != "" {
		payload[apptype.KeySymbol] = sym
	}
	strategy := "range_wait"
	if signal.Side() != 0 {
		strategy = "trend_following"
	}
	payload[apptype.KeyStrategy] = strategy

	if entry, ok := apptype.Float(an.Payload, apptype.KeyLastPrice); ok && entry > 0 {
		target, ok := apptype.Float(pr.Payload, apptype.KeyPriceTarget)
		if !ok {
			target = entry
		}
		vol, _ := apptype.Float(an.Payload, apptype.KeyVolatility)
		band := math.Max(0.02, 2*vol)
		stop := entry * (1 - band)
		if signal.Side() < 0 {
			stop = entry * (1 + band)
		}
		payload[apptype.KeyEntryPrice] = round2(entry)
		payload[apptype.KeyTargetPrice] = round2(target)
		payload[apptype.KeyStopLoss] = round2(stop)
		if d := math.Abs(entry - stop); d > 0 {
			payload[apptype.KeyRiskReward] = round2(math.Abs(target-entry) / d)
		}
	}
	payload[apptype.KeyRationale] = fmt.Sprintf("%s outlook at %.0f%% confidence with %s risk", direction, conf*100, level)

	res.Payload = payload
	res.Consumed = union(pr.Consumed, rk.Consumed)
	return res
}

const directionThreshold = 0.15

func riskLevel(score float64) apptype.RiskLevel {
	switch {
	case score < 0.15:
		return apptype.RiskVeryLow
	case score < 0.3:
		return apptype.RiskLow
	case score < 0.5:
		return apptype.RiskModerate
	case score < 0.7:
		return apptype.RiskHigh
	case score < 0.85:
		return apptype.RiskVeryHigh
	}
	return apptype.RiskExtreme
}

func recommendations(level apptype.RiskLevel) []string {
	switch level {
	case apptype.RiskVeryLow, apptype.RiskLow:
		return []string{"standard position sizing"}
	case apptype.RiskModerate:
		return []string{"standard position sizing", "use a protective stop"}
	case apptype.RiskHigh:
		return []string{"reduce position size", "use a protective stop"}
	}
	return []string{"avoid new long exposure", "hedge existing positions"}
}

// volatility is the sample standard deviation of simple returns
func volatility(prices []float64) (float64, bool) {
	if len(prices) < 3 {
		return 0, false
	}
	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		rets = append(rets, prices[i]/prices[i-1]-1)
	}
	if len(rets) < 2 {
		return 0, false
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1)), true
}

func maxDrawdown(prices []float64) float64 {
	peak, dd := 0.0, 0.0
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			dd = math.Max(dd, (peak-p)/peak)
		}
	}
	return dd
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func label(symbol string) string {
	if symbol == "" {
		return "asset"
	}
	return symbol
}

// hasSignal reports whether an analyst payload carries anything the
// predictor can score.
func hasSignal(p map[string]any) bool {
	for _, k := range []string{apptype.KeyMomentum, apptype.KeyRSI, apptype.KeySMAShort, apptype.KeySentiment} {
		if _, ok := apptype.Float(p, k); ok {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
