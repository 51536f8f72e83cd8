// Package orchestrator drives one request through the fixed sequence of
// reasoning stages. Each stage gets its own timeout and a bounded number of
// retries; what happens when a stage gives up depends on the artifact type's
// policy.
package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
)

const component = "orchestrator"

var tracer = otel.Tracer("github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/orchestrator")

// State is the position of a request in the stage state machine
type State string

const (
	StatePending        State = "PENDING"
	StateAnalyzing      State = "ANALYZING"
	StatePredicting     State = "PREDICTING"
	StateRiskEvaluating State = "RISK_EVALUATING"
	StateCoordinating   State = "COORDINATING"
	StateComplete       State = "COMPLETE"
	StateFailed         State = "FAILED"
)

func stateFor(stage apptype.StageName) State {
	switch stage {
	case apptype.StageAnalyst:
		return StateAnalyzing
	case apptype.StagePredictor:
		return StatePredicting
	case apptype.StageRiskEvaluator:
		return StateRiskEvaluating
	case apptype.StageCoordinator:
		return StateCoordinating
	}
	return StateFailed
}

// Reasoner runs a single stage
type Reasoner interface {
	Run(ctx context.Context, stage apptype.StageName, rc apptype.RetrievalContext, prior []apptype.AgentStageResult) (apptype.AgentStageResult, error)
}

// Config holds the stage timing and retry settings
type Config struct {
	StageTimeout  time.Duration                       `yaml:"stage_timeout"`
	StageTimeouts map[apptype.StageName]time.Duration `yaml:"stage_timeouts"`
	// Retries is the number of extra attempts after the first one.
	Retries     int           `yaml:"retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	Policies    Policies      `yaml:"-"`
}

// DefaultConfig returns the stock settings
func DefaultConfig() Config {
	return Config{
		StageTimeout: 20 * time.Second,
		Retries:      2,
		BackoffBase:  200 * time.Millisecond,
		BackoffMax:   2 * time.Second,
		Policies:     DefaultPolicies(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StageTimeout <= 0 {
		c.StageTimeout = d.StageTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.Policies == nil {
		c.Policies = d.Policies
	}
	return c
}

func (c Config) timeoutFor(stage apptype.StageName) time.Duration {
	if d, ok := c.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return c.StageTimeout
}

// EventType classifies observer events
type EventType string

const (
	StageStarted  EventType = "stage_started"
	AttemptFailed EventType = "attempt_failed"
	StageFinished EventType = "stage_finished"
)

// Event is emitted as a request moves through its stages
type Event struct {
	RequestID string
	Type      EventType
	Stage     apptype.StageName
	Attempt   int
	Status    apptype.StageStatus
	Err       error
	At        time.Time
}

// Observer receives events synchronously from the request goroutine
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Outcome is what a run produced. Results is nil unless State is COMPLETE.
type Outcome struct {
	RequestID   string
	Artifact    apptype.ArtifactType
	State       State
	Transitions []State
	Results     []apptype.AgentStageResult
	Faults      []apptype.Fault
}

// Orchestrator runs the stage sequence for requests. It holds no per-request
// state and is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	reasoner Reasoner
	observer Observer
	log      logrus.FieldLogger
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithObserver registers an event observer
func WithObserver(o Observer) Option { return func(or *Orchestrator) { or.observer = o } }

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(or *Orchestrator) {
		if l != nil {
			or.log = l.WithField("component", component)
		}
	}
}

// New returns an Orchestrator
func New(cfg Config, r Reasoner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		reasoner: r,
		log:      logrus.StandardLogger().WithField("component", component),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration
func (o *Orchestrator) Config() Config { return o.cfg }

// Policy returns the stage policy for t
func (o *Orchestrator) Policy(t apptype.ArtifactType) (Policy, bool) { return o.cfg.Policies.For(t) }

// Run executes every stage in order against rc. A mandatory stage that gives
// up fails the run with IncompleteArtifact; cancellation of ctx fails it with
// RequestCancelled. Either way no stage results are returned.
func (o *Orchestrator) Run(ctx context.Context, t apptype.ArtifactType, rc apptype.RetrievalContext) (Outcome, error) {
	out := Outcome{RequestID: rc.RequestID, Artifact: t, State: StatePending, Transitions: []State{StatePending}}
	policy, ok := o.Policy(t)
	if !ok {
		return o.fail(out, faults.New(faults.InvalidArgument, component, "unknown artifact type %q", t))
	}
	log := o.log.WithFields(logrus.Fields{"request_id": rc.RequestID, "artifact": t})

	results := make([]apptype.AgentStageResult, 0, len(apptype.Stages))
	for _, stage := range apptype.Stages {
		if ctx.Err() != nil {
			return o.fail(out, o.cancelled(ctx, stage))
		}
		out.State = stateFor(stage)
		out.Transitions = append(out.Transitions, out.State)

		res, err := o.runStage(ctx, stage, rc, results)
		if err != nil {
			if errors.Is(err, faults.ErrRequestCancelled) {
				return o.fail(out, err)
			}
			fe := faults.From(err, component).WithStage(string(stage))
			out.Faults = append(out.Faults, fe.Fault())
			if policy.IsMandatory(stage) {
				log.WithError(err).WithField("stage", stage).Warn("mandatory stage failed")
				return o.fail(out, faults.New(faults.IncompleteArtifact, component, "mandatory stage %s failed", stage).WithStage(string(stage)))
			}
			log.WithError(err).WithField("stage", stage).Info("optional stage failed, carrying forward degraded")
			res = apptype.AgentStageResult{
				Stage:    stage,
				Status:   apptype.StatusDegraded,
				Payload:  map[string]any{},
				Consumed: []string{},
				Faults:   []apptype.Fault{fe.Fault()},
				Attempts: res.Attempts,
				Elapsed:  res.Elapsed,
			}
		}
		results = append(results, res)
	}

	out.State = StateComplete
	out.Transitions = append(out.Transitions, StateComplete)
	out.Results = results
	return out, nil
}

func (o *Orchestrator) fail(out Outcome, err error) (Outcome, error) {
	out.State = StateFailed
	out.Transitions = append(out.Transitions, StateFailed)
	wrapped := faults.WithFaults(err, out.Faults)
	out.Faults = append(out.Faults, faults.From(err, component).Fault())
	out.Results = nil
	return out, wrapped
}

func (o *Orchestrator) cancelled(ctx context.Context, stage apptype.StageName) error {
	return faults.Wrap(ctx.Err(), faults.RequestCancelled, component, "request cancelled").WithStage(string(stage))
}

// runStage makes up to Retries+1 attempts. The returned result carries the
// attempt count and elapsed time even when err is non-nil.
func (o *Orchestrator) runStage(ctx context.Context, stage apptype.StageName, rc apptype.RetrievalContext, prior []apptype.AgentStageResult) (apptype.AgentStageResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.stage")
	defer span.End()
	span.SetAttributes(attribute.String("stage", string(stage)), attribute.String("request_id", rc.RequestID))

	start := time.Now()
	o.notify(Event{RequestID: rc.RequestID, Type: StageStarted, Stage: stage})
	timeout := o.cfg.timeoutFor(stage)

	var (
		res      apptype.AgentStageResult
		err      error
		attempts int
	)
	for attempt := 0; attempt <= o.cfg.Retries; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, o.backoff(attempt-1)); serr != nil {
				err = o.cancelled(ctx, stage)
				break
			}
		}
		attempts++
		res, err = withTimeout(ctx, timeout, func(actx context.Context) (apptype.AgentStageResult, error) {
			return o.reasoner.Run(actx, stage, rc, prior)
		})
		if err == nil && res.Status == apptype.StatusFailed {
			fe := faults.New(faults.ReasoningUnavailable, component, "stage reported failure")
			fe.Retryable = false
			err = fe
		}
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			err = o.cancelled(ctx, stage)
			break
		}
		var fe *faults.Error
		if !errors.As(err, &fe) && errors.Is(err, context.DeadlineExceeded) {
			err = faults.Wrap(err, faults.ReasoningUnavailable, component, "stage attempt timed out after "+timeout.String())
		}
		err = faults.From(err, component).WithStage(string(stage))
		o.notify(Event{RequestID: rc.RequestID, Type: AttemptFailed, Stage: stage, Attempt: attempts, Err: err})
		if !faults.IsRetryable(err) {
			break
		}
	}
	elapsed := time.Since(start)

	status := apptype.StatusFailed
	if err == nil {
		res.Stage = stage
		if res.Status == "" {
			res.Status = apptype.StatusOK
		}
		res.Consumed = filterConsumed(res.Consumed, rc)
		if res.Payload == nil {
			res.Payload = map[string]any{}
		}
		status = res.Status
	} else {
		res = apptype.AgentStageResult{Stage: stage, Status: apptype.StatusFailed}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	res.Attempts = attempts
	res.Elapsed = elapsed

	span.SetAttributes(attribute.Int("attempts", attempts), attribute.String("status", string(status)))
	metrics.Default().ObserveStage(string(stage), string(status), attempts, elapsed.Seconds())
	o.notify(Event{RequestID: rc.RequestID, Type: StageFinished, Stage: stage, Attempt: attempts, Status: status, Err: err})
	o.log.WithFields(logrus.Fields{
		"request_id": rc.RequestID,
		"stage":      stage,
		"status":     status,
		"attempts":   attempts,
		"elapsed":    elapsed.String(),
	}).Debug("stage finished")
	return res, err
}

func (o *Orchestrator) notify(e Event) {
	if o.observer == nil {
		return
	}
	e.At = time.Now()
	o.observer.OnEvent(e)
}

// backoff returns a full-jitter delay for the given retry index:
// uniform in [0, min(max, base*2^attempt)).
func (o *Orchestrator) backoff(attempt int) time.Duration {
	ceil := o.cfg.BackoffMax
	if attempt < 30 {
		if d := o.cfg.BackoffBase << attempt; d > 0 && d < ceil {
			ceil = d
		}
	}
	if o.cfg.BackoffBase == 0 || ceil <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceil)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withTimeout runs fn under a derived deadline and stops waiting when the
// deadline passes, whether or not fn honors its context.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		var zero T
		return zero, cctx.Err()
	}
}

// filterConsumed keeps ids that are present in the context, once each
func filterConsumed(ids []string, rc apptype.RetrievalContext) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || !rc.Has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
