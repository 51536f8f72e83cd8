package apptype

import (
	"encoding/json"
	"strconv"
)

// Stage payload keys shared by reasoning backends and the aggregator.
const (
	// analyst
	KeySymbol           = "symbol"
	KeyLastPrice        = "last_price"
	KeyMomentum         = "momentum"
	KeyRSI              = "rsi"
	KeySMAShort         = "sma_short"
	KeySMALong          = "sma_long"
	KeySentiment        = "sentiment"
	KeyVolatility       = "volatility"
	KeyBeta             = "beta"
	KeyInsights         = "insights"
	KeyTechnicalSignals = "technical_signals"
	KeyPrices           = "prices"

	// predictor
	KeyDirection   = "direction"
	KeyConfidence  = "confidence"
	KeyPriceTarget = "price_target"
	KeyTimeHorizon = "time_horizon"

	// risk evaluator
	KeyRiskLevel       = "risk_level"
	KeyRiskScore       = "risk_score"
	KeyVaR95           = "var95"
	KeyMaxDrawdown     = "max_drawdown"
	KeyRiskFactors     = "risk_factors"
	KeyRecommendations = "recommendations"

	// coordinator
	KeySignal      = "signal"
	KeyStrategy    = "strategy"
	KeyEntryPrice  = "entry_price"
	KeyTargetPrice = "target_price"
	KeyStopLoss    = "stop_loss"
	KeyRiskReward  = "risk_reward"
	KeyRationale   = "rationale"
)

// Float reads a numeric payload value. Numbers encoded as strings are accepted.
func Float(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// String reads a string payload value.
func String(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Strings reads a list of strings; []any elements that are not strings are skipped.
func Strings(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Floats reads a list of numbers.
func Floats(m map[string]any, key string) []float64 {
	switch v := m[key].(type) {
	case []float64:
		return append([]float64(nil), v...)
	case []any:
		out := make([]float64, 0, len(v))
		for i := range v {
			if f, ok := Float(map[string]any{"v": v[i]}, "v"); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}
