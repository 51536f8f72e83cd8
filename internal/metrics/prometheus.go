//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	opTotal         *prom.CounterVec
	opSeconds       *prom.HistogramVec
	toolTotal       *prom.CounterVec
	toolSeconds     *prom.HistogramVec
	stageTotal      *prom.CounterVec
	stageSeconds    *prom.HistogramVec
	stageAttempts   *prom.HistogramVec
	retrievalSource *prom.CounterVec
	artifactTotal   *prom.CounterVec
	stmtCache       *prom.CounterVec
	poolInUse       prom.Gauge
	poolIdle        prom.Gauge
}

func (p *promRecorder) IncOpTotal(op string, success bool) {
	p.opTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveOpSeconds(op string, success bool, seconds float64) {
	p.opSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) ObserveStage(stage, status string, attempts int, seconds float64) {
	p.stageTotal.WithLabelValues(stage, status).Inc()
	p.stageSeconds.WithLabelValues(stage, status).Observe(seconds)
	p.stageAttempts.WithLabelValues(stage).Observe(float64(attempts))
}

func (p *promRecorder) IncRetrievalSource(source, outcome string) {
	p.retrievalSource.WithLabelValues(source, outcome).Inc()
}

func (p *promRecorder) IncArtifact(artifactType, outcome string) {
	p.artifactTotal.WithLabelValues(artifactType, outcome).Inc()
}

func (p *promRecorder) IncStmtCache(result string) {
	p.stmtCache.WithLabelValues(result).Inc()
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

// NewPrometheusRecorder builds a Recorder whose collectors are registered on reg.
func NewPrometheusRecorder(reg prom.Registerer) (Recorder, error) {
	p := &promRecorder{
		opTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "store_ops_total",
			Help: "Total number of store and database operations",
		}, []string{"op", "success"}),
		opSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "store_op_seconds",
			Help:    "Store and database operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		stageTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "agent_stage_total",
			Help: "Reasoning stage results by status",
		}, []string{"stage", "status"}),
		stageSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "agent_stage_seconds",
			Help:    "Reasoning stage duration in seconds, retries included",
			Buckets: prom.DefBuckets,
		}, []string{"stage", "status"}),
		stageAttempts: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "agent_stage_attempts",
			Help:    "Attempts per reasoning stage",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"stage"}),
		retrievalSource: prom.NewCounterVec(prom.CounterOpts{
			Name: "retrieval_source_total",
			Help: "Retrieval source outcomes",
		}, []string{"source", "outcome"}),
		artifactTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "artifacts_total",
			Help: "Artifacts produced by type and outcome",
		}, []string{"type", "outcome"}),
		stmtCache: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_total",
			Help: "Prepared statement cache lookups by result",
		}, []string{"result"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Database connections in use",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_idle",
			Help: "Idle database connections",
		}),
	}
	for _, c := range []prom.Collector{
		p.opTotal, p.opSeconds, p.toolTotal, p.toolSeconds,
		p.stageTotal, p.stageSeconds, p.stageAttempts,
		p.retrievalSource, p.artifactTotal,
		p.stmtCache, p.poolInUse, p.poolIdle,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p, err := NewPrometheusRecorder(registry)
	if err != nil {
		return err
	}
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
