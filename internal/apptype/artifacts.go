package apptype

import "time"

// StageName identifies one reasoning stage of the pipeline
type StageName string

const (
	StageAnalyst       StageName = "analyst"
	StagePredictor     StageName = "predictor"
	StageRiskEvaluator StageName = "risk_evaluator"
	StageCoordinator   StageName = "coordinator"
)

// Stages lists the reasoning stages in execution order
var Stages = []StageName{StageAnalyst, StagePredictor, StageRiskEvaluator, StageCoordinator}

// StageStatus is the outcome of one stage
type StageStatus string

const (
	StatusOK       StageStatus = "ok"
	StatusDegraded StageStatus = "degraded"
	StatusFailed   StageStatus = "failed"
)

// AgentStageResult is the output of one stage invocation for one request
type AgentStageResult struct {
	Stage    StageName      `json:"stage"`
	Status   StageStatus    `json:"status"`
	Payload  map[string]any `json:"payload,omitempty"`
	Consumed []string       `json:"consumed"`
	Faults   []Fault        `json:"faults,omitempty"`
	Attempts int            `json:"attempts"`
	Elapsed  time.Duration  `json:"elapsedNs"`
}

// ArtifactType selects which structured output a request produces
type ArtifactType string

const (
	ArtifactTrend  ArtifactType = "trend_assessment"
	ArtifactRisk   ArtifactType = "risk_assessment"
	ArtifactSignal ArtifactType = "trading_signal"
)

// Valid reports whether t is a known artifact type
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactTrend, ArtifactRisk, ArtifactSignal:
		return true
	}
	return false
}

// TrendDirection is the predicted market direction
type TrendDirection string

const (
	TrendBullish  TrendDirection = "bullish"
	TrendBearish  TrendDirection = "bearish"
	TrendSideways TrendDirection = "sideways"
)

// RiskLevel buckets a risk score
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "very_low"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
	RiskExtreme  RiskLevel = "extreme"
)

// SignalType is the recommended trading action
type SignalType string

const (
	SignalStrongBuy  SignalType = "strong_buy"
	SignalBuy        SignalType = "buy"
	SignalHold       SignalType = "hold"
	SignalSell       SignalType = "sell"
	SignalStrongSell SignalType = "strong_sell"
)

// Side returns +1 for buy-side signals, -1 for sell-side and 0 for hold
func (s SignalType) Side() int {
	switch s {
	case SignalStrongBuy, SignalBuy:
		return 1
	case SignalSell, SignalStrongSell:
		return -1
	}
	return 0
}

// TrendAssessment is the trend analysis artifact
type TrendAssessment struct {
	Symbol           string         `json:"symbol,omitempty"`
	Direction        TrendDirection `json:"direction"`
	Confidence       float64        `json:"confidence"`
	PriceTarget      float64        `json:"priceTarget,omitempty"`
	TimeHorizon      string         `json:"timeHorizon,omitempty"`
	KeyInsights      []string       `json:"keyInsights,omitempty"`
	TechnicalSignals []string       `json:"technicalSignals,omitempty"`
	SentimentScore   float64        `json:"sentimentScore"`
	RiskFactors      []string       `json:"riskFactors,omitempty"`
}

// RiskFactor is one weighted contributor to a risk assessment
type RiskFactor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description,omitempty"`
}

// RiskMetrics holds the quantitative risk figures
type RiskMetrics struct {
	Volatility  float64 `json:"volatility"`
	Beta        float64 `json:"beta"`
	VaR95       float64 `json:"var95"`
	MaxDrawdown float64 `json:"maxDrawdown"`
}

// RiskAssessment is the risk artifact
type RiskAssessment struct {
	Symbol          string       `json:"symbol,omitempty"`
	RiskLevel       RiskLevel    `json:"riskLevel"`
	RiskScore       float64      `json:"riskScore"`
	Confidence      float64      `json:"confidence"`
	Factors         []RiskFactor `json:"factors,omitempty"`
	Metrics         RiskMetrics  `json:"metrics"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// TradingSignal is the trading signal artifact
type TradingSignal struct {
	Symbol      string     `json:"symbol,omitempty"`
	Signal      SignalType `json:"signal"`
	Confidence  float64    `json:"confidence"`
	Strategy    string     `json:"strategy,omitempty"`
	EntryPrice  float64    `json:"entryPrice,omitempty"`
	TargetPrice float64    `json:"targetPrice,omitempty"`
	StopLoss    float64    `json:"stopLoss,omitempty"`
	RiskReward  float64    `json:"riskReward,omitempty"`
	Rationale   string     `json:"rationale,omitempty"`
}

// StageTrace records which context items a stage consumed
type StageTrace struct {
	Stage        StageName   `json:"stage"`
	Status       StageStatus `json:"status"`
	ContextItems []string    `json:"contextItems"`
}

// ContextRef is a back-reference to a retrieval item used by the artifact
type ContextRef struct {
	EntityID   string     `json:"entityId"`
	Provenance Provenance `json:"provenance"`
	Score      float64    `json:"score"`
}

// OutputArtifact is the final structured result of a request
type OutputArtifact struct {
	ID          string           `json:"id"`
	Type        ArtifactType     `json:"type"`
	RequestID   string           `json:"requestId"`
	Query       string           `json:"query"`
	Confidence  float64          `json:"confidence"`
	Degraded    bool             `json:"degraded"`
	Trend       *TrendAssessment `json:"trend,omitempty"`
	Risk        *RiskAssessment  `json:"risk,omitempty"`
	Signal      *TradingSignal   `json:"signal,omitempty"`
	Stages      []StageTrace     `json:"stages"`
	ContextRefs []ContextRef     `json:"contextRefs"`
	Faults      []Fault          `json:"faults,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}
