// Package faults defines the error taxonomy shared by the retrieval and
// reasoning pipeline. Every failure that crosses a component boundary is an
// *Error carrying a Kind, so callers can branch with errors.Is against the
// sentinels below and serialize the failure into an apptype.Fault.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

// Kind is a stable, machine-readable failure code
type Kind string

const (
	// UnknownEntity: a referenced entity id is not present in the graph.
	UnknownEntity Kind = "UNKNOWN_ENTITY"
	// DimensionMismatch: a vector's length disagrees with the index dimension.
	DimensionMismatch Kind = "DIMENSION_MISMATCH"
	// RetrievalTimeout: a retrieval source exceeded its timeout.
	RetrievalTimeout Kind = "RETRIEVAL_TIMEOUT"
	// ReasoningUnavailable: the reasoning backend could not be reached or a
	// stage attempt ran past its timeout.
	ReasoningUnavailable Kind = "REASONING_UNAVAILABLE"
	// IncompleteArtifact: a mandatory stage for the artifact type did not finish.
	IncompleteArtifact Kind = "INCOMPLETE_ARTIFACT"
	// RequestCancelled: the caller cancelled or the end-to-end deadline passed.
	RequestCancelled Kind = "REQUEST_CANCELLED"
	// EmbeddingUnavailable: the embedding backend could not produce a vector.
	EmbeddingUnavailable Kind = "EMBEDDING_UNAVAILABLE"
	// NoSeedEntities: the query resolved to no graph entity.
	NoSeedEntities Kind = "NO_SEED_ENTITIES"
	// InvalidArgument: malformed input such as an empty id or unknown artifact type.
	InvalidArgument Kind = "INVALID_ARGUMENT"
	// Consistency: stage outputs contradict each other.
	Consistency Kind = "CONSISTENCY"
	// InsufficientData: a stage found too little usable input in its context.
	InsufficientData Kind = "INSUFFICIENT_DATA"
	// Storage: the durable store failed.
	Storage Kind = "STORAGE"
	// Internal: anything not covered above.
	Internal Kind = "INTERNAL"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrUnknownEntity        = &Error{Kind: UnknownEntity}
	ErrDimensionMismatch    = &Error{Kind: DimensionMismatch}
	ErrRetrievalTimeout     = &Error{Kind: RetrievalTimeout}
	ErrReasoningUnavailable = &Error{Kind: ReasoningUnavailable}
	ErrIncompleteArtifact   = &Error{Kind: IncompleteArtifact}
	ErrRequestCancelled     = &Error{Kind: RequestCancelled}
	ErrEmbeddingUnavailable = &Error{Kind: EmbeddingUnavailable}
	ErrNoSeedEntities       = &Error{Kind: NoSeedEntities}
	ErrInvalidArgument      = &Error{Kind: InvalidArgument}
	ErrConsistency          = &Error{Kind: Consistency}
	ErrStorage              = &Error{Kind: Storage}
)

// Error is a classified failure.
// It formats as "component [KIND]: message: cause".
type Error struct {
	Kind      Kind
	Component string
	Stage     string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	var parts []string
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("%s [%s]", e.Component, e.Kind))
	} else {
		parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Fault converts the error into its serializable descriptor
func (e *Error) Fault() apptype.Fault {
	msg := e.Message
	if e.Cause != nil {
		if msg == "" {
			msg = e.Cause.Error()
		} else {
			msg = msg + ": " + e.Cause.Error()
		}
	}
	return apptype.Fault{Kind: string(e.Kind), Component: e.Component, Stage: e.Stage, Message: msg}
}

// New creates an error of the given kind
func New(kind Kind, component, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Message: fmt.Sprintf(format, args...), Retryable: retryableByDefault(kind)}
}

// Wrap classifies cause under kind. A nil cause yields a plain New.
func Wrap(cause error, kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause, Retryable: retryableByDefault(kind)}
}

// WithStage returns a copy of e annotated with the stage name
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	cp.Stage = stage
	return &cp
}

func retryableByDefault(kind Kind) bool {
	switch kind {
	case RetrievalTimeout, ReasoningUnavailable, EmbeddingUnavailable:
		return true
	}
	return false
}

// KindOf extracts the Kind of err. Bare context errors map to RequestCancelled
// or RetrievalTimeout; everything else unclassified maps to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return RequestCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetrievalTimeout
	}
	return Internal
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// From converts any error into an *Error, keeping it unchanged when it already is one
func From(err error, component string) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(err, KindOf(err), component, "")
}

// Report builds the caller-facing fault report for err
func Report(requestID string, err error) *apptype.FaultReport {
	if err == nil {
		return nil
	}
	if requestID == "" {
		requestID = RequestIDOf(err)
	}
	fe := From(err, "")
	rep := &apptype.FaultReport{
		RequestID: requestID,
		Kind:      string(fe.Kind),
		Message:   fe.Error(),
	}
	rep.Faults = append(rep.Faults, fe.Fault())
	var d *Detailed
	if errors.As(err, &d) {
		rep.Faults = append(rep.Faults, d.Faults...)
	}
	return rep
}

// Detailed attaches the faults collected along the way to a terminal error
type Detailed struct {
	Err    error
	Faults []apptype.Fault
}

func (d *Detailed) Error() string { return d.Err.Error() }
func (d *Detailed) Unwrap() error { return d.Err }

// WithFaults wraps err with the given descriptors; nil err stays nil
func WithFaults(err error, fs []apptype.Fault) error {
	if err == nil {
		return nil
	}
	if len(fs) == 0 {
		return err
	}
	return &Detailed{Err: err, Faults: fs}
}

// Tagged ties a terminal error to the request that produced it
type Tagged struct {
	RequestID string
	Err       error
}

func (t *Tagged) Error() string { return t.Err.Error() }
func (t *Tagged) Unwrap() error { return t.Err }

// WithRequest tags err with requestID; nil err or an empty id leaves err as is
func WithRequest(err error, requestID string) error {
	if err == nil || requestID == "" {
		return err
	}
	return &Tagged{RequestID: requestID, Err: err}
}

// RequestIDOf returns the request id carried by err, if any
func RequestIDOf(err error) string {
	var t *Tagged
	if errors.As(err, &t) {
		return t.RequestID
	}
	return ""
}
