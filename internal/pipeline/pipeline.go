// Package pipeline exposes the single entry point of the system: a query and
// an artifact type go in, a structured artifact or a fault comes out.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/aggregator"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/faults"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/metrics"
	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/orchestrator"
)

const component = "pipeline"

var tracer = otel.Tracer("github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/pipeline")

// Retriever builds the grounding context for a query
type Retriever interface {
	Retrieve(ctx context.Context, query string) (apptype.RetrievalContext, error)
}

// Runner drives the reasoning stages
type Runner interface {
	Run(ctx context.Context, t apptype.ArtifactType, rc apptype.RetrievalContext) (orchestrator.Outcome, error)
	Policy(t apptype.ArtifactType) (orchestrator.Policy, bool)
}

// Aggregator builds the artifact from stage results
type Aggregator interface {
	Aggregate(t apptype.ArtifactType, policy aggregator.Policy, rc apptype.RetrievalContext, results []apptype.AgentStageResult) (apptype.OutputArtifact, error)
}

// ArtifactStore persists finished artifacts
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, art apptype.OutputArtifact) error
}

// Config holds request-level settings
type Config struct {
	DefaultDeadline time.Duration `yaml:"default_deadline"`
	PersistDegraded bool          `yaml:"persist_degraded"`
}

// DefaultConfig returns a 60s request deadline with degraded artifacts kept
// out of the store
func DefaultConfig() Config {
	return Config{DefaultDeadline: 60 * time.Second}
}

// Deps are the collaborators of a Pipeline. Store may be nil.
type Deps struct {
	Retriever    Retriever
	Orchestrator Runner
	Aggregator   Aggregator
	Store        ArtifactStore
	Logger       logrus.FieldLogger
}

// Pipeline handles requests. Requests share no mutable state.
type Pipeline struct {
	cfg   Config
	deps  Deps
	log   logrus.FieldLogger
	newID func() string
}

// New returns a Pipeline
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = DefaultConfig().DefaultDeadline
	}
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{cfg: cfg, deps: deps, log: log.WithField("component", component), newID: uuid.NewString}
}

// Handle answers one query. A zero deadline means DefaultDeadline from now.
// Errors are *faults.Error values of kind InvalidArgument, IncompleteArtifact
// or RequestCancelled; faults.Report turns them into a FaultReport.
func (p *Pipeline) Handle(ctx context.Context, query string, t apptype.ArtifactType, deadline time.Time) (*apptype.OutputArtifact, error) {
	requestID := p.newID()
	ctx, span := tracer.Start(ctx, "pipeline.handle")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID), attribute.String("artifact_type", string(t)))
	log := p.log.WithFields(logrus.Fields{"request_id": requestID, "artifact": t})
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, p.reject(span, t, requestID, faults.New(faults.InvalidArgument, component, "query is empty"))
	}
	if !t.Valid() {
		return nil, p.reject(span, t, requestID, faults.New(faults.InvalidArgument, component, "unknown artifact type %q", t))
	}
	if deadline.IsZero() {
		deadline = start.Add(p.cfg.DefaultDeadline)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	rc, err := p.deps.Retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, p.reject(span, t, requestID, p.normalize(ctx, err))
	}
	rc.RequestID = requestID
	log.WithFields(logrus.Fields{"items": len(rc.Items), "degraded": rc.Degraded}).Debug("context retrieved")

	out, err := p.deps.Orchestrator.Run(ctx, t, rc)
	if err != nil {
		log.WithError(err).WithField("state", out.State).Info("request failed in orchestration")
		return nil, p.reject(span, t, requestID, p.normalize(ctx, err))
	}
	policy, _ := p.deps.Orchestrator.Policy(t)
	art, err := p.deps.Aggregator.Aggregate(t, policy, rc, out.Results)
	if err != nil {
		return nil, p.reject(span, t, requestID, p.normalize(ctx, err))
	}
	if err := ctx.Err(); err != nil {
		return nil, p.reject(span, t, requestID, p.normalize(ctx, err))
	}
	art.ID = p.newID()
	art.RequestID = requestID

	if p.deps.Store != nil && (!art.Degraded || p.cfg.PersistDegraded) {
		if err := p.deps.Store.SaveArtifact(ctx, art); err != nil {
			log.WithError(err).Warn("failed to persist artifact")
			art.Faults = append(art.Faults, faults.Wrap(err, faults.Storage, component, "persist artifact").Fault())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, p.reject(span, t, requestID, p.normalize(ctx, err))
	}

	outcome := "ok"
	if art.Degraded {
		outcome = "degraded"
	}
	metrics.Default().IncArtifact(string(t), outcome)
	span.SetAttributes(attribute.Float64("confidence", art.Confidence), attribute.Bool("degraded", art.Degraded))
	log.WithFields(logrus.Fields{
		"artifact_id": art.ID,
		"confidence":  art.Confidence,
		"degraded":    art.Degraded,
		"elapsed":     time.Since(start).String(),
	}).Info("artifact produced")
	return &art, nil
}

// normalize maps anything that happened after the deadline or a
// cancellation to RequestCancelled
func (p *Pipeline) normalize(ctx context.Context, err error) error {
	if errors.Is(err, faults.ErrRequestCancelled) || errors.Is(err, faults.ErrIncompleteArtifact) || errors.Is(err, faults.ErrInvalidArgument) {
		return err
	}
	if ctx.Err() != nil {
		return faults.Wrap(ctx.Err(), faults.RequestCancelled, component, "request cancelled")
	}
	return faults.Wrap(err, faults.IncompleteArtifact, component, "request could not complete")
}

func (p *Pipeline) reject(span trace.Span, t apptype.ArtifactType, requestID string, err error) error {
	outcome := strings.ToLower(string(faults.KindOf(err)))
	metrics.Default().IncArtifact(string(t), outcome)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return faults.WithRequest(err, requestID)
}
