package metrics

import (
	"sync"
	"time"
)

// Package metrics provides a minimal instrumentation interface with a no-op
// default and optional Prometheus-backed implementation enabled via config.

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	IncOpTotal(op string, success bool)
	ObserveOpSeconds(op string, success bool, seconds float64)
	IncToolTotal(tool string, success bool)
	ObserveToolSeconds(tool string, success bool, seconds float64)
	ObserveStage(stage, status string, attempts int, seconds float64)
	IncRetrievalSource(source, outcome string)
	IncArtifact(artifactType, outcome string)
	IncStmtCache(result string)
	ObservePoolStats(inUse, idle int)
}

// noopRecorder implements Recorder with no-ops.
type noopRecorder struct{}

func (n *noopRecorder) IncOpTotal(string, bool) {}
func (n *noopRecorder) ObserveOpSeconds(string, bool, float64) {}
func (n *noopRecorder) IncToolTotal(string, bool) {}
func (n *noopRecorder) ObserveToolSeconds(string, bool, float64) {}
func (n *noopRecorder) ObserveStage(string, string, int, float64) {}
func (n *noopRecorder) IncRetrievalSource(string, string) {}
func (n *noopRecorder) IncArtifact(string, string) {}
func (n *noopRecorder) IncStmtCache(string) {}
func (n *noopRecorder) ObservePoolStats(int, int) {}

var (
	recMu    sync.RWMutex
	recorder Recorder = &noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	if r == nil {
		r = &noopRecorder{}
	}
	recorder = r
}

// TimeOp is a helper to time store and database operations.
func TimeOp(op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncOpTotal(op, success)
		Default().ObserveOpSeconds(op, success, dur)
	}
}

// TimeTool is a helper to time tool handler operations.
func TimeTool(tool string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncToolTotal(tool, success)
		Default().ObserveToolSeconds(tool, success, dur)
	}
}

// Options controls the exporter.
type Options struct {
	Prometheus bool   `yaml:"prometheus"`
	Addr       string `yaml:"addr"`
}

// Init enables the Prometheus exporter when opts.Prometheus is set.
// It also starts a small HTTP server on opts.Addr (default :9090)
// with endpoints: /metrics (prom) and /healthz (200 ok).
func Init(opts Options) error {
	if !opts.Prometheus {
		return nil
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":9090"
	}
	return enablePrometheus(addr)
}

// enablePrometheus is provided by build-tagged files.
