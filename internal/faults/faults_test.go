package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(UnknownEntity, "graphstore", "entity %q not found", "AAPL")
	assert.Equal(t, `graphstore [UNKNOWN_ENTITY]: entity "AAPL" not found`, err.Error())

	bare := &Error{Kind: Internal, Message: "boom"}
	assert.Equal(t, "[INTERNAL]: boom", bare.Error())

	wrapped := Wrap(errors.New("dial tcp: refused"), ReasoningUnavailable, "reasoning", "chat completion failed")
	assert.Equal(t, "reasoning [REASONING_UNAVAILABLE]: chat completion failed: dial tcp: refused", wrapped.Error())
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(DimensionMismatch, "vectorindex", "want 4 got 3"))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.False(t, errors.Is(err, ErrUnknownEntity))
	assert.Equal(t, DimensionMismatch, KindOf(err))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, RequestCancelled, KindOf(context.Canceled))
	assert.Equal(t, RetrievalTimeout, KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ReasoningUnavailable, "r", "down")))
	assert.True(t, IsRetryable(New(RetrievalTimeout, "r", "slow")))
	assert.False(t, IsRetryable(New(InvalidArgument, "r", "bad")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestReportCarriesCollectedFaults(t *testing.T) {
	stageFault := apptype.Fault{Kind: string(ReasoningUnavailable), Stage: "analyst", Message: "down"}
	err := WithFaults(New(IncompleteArtifact, "orchestrator", "mandatory stage analyst failed").WithStage("analyst"), []apptype.Fault{stageFault})

	rep := Report("req-1", err)
	require.NotNil(t, rep)
	assert.Equal(t, "req-1", rep.RequestID)
	assert.Equal(t, string(IncompleteArtifact), rep.Kind)
	require.Len(t, rep.Faults, 2)
	assert.Equal(t, "analyst", rep.Faults[0].Stage)
	assert.Equal(t, stageFault, rep.Faults[1])
	assert.True(t, errors.Is(err, ErrIncompleteArtifact))

	assert.Nil(t, Report("x", nil))
	assert.Nil(t, WithFaults(nil, []apptype.Fault{stageFault}))
}

func TestReportFallsBackToTaggedRequestID(t *testing.T) {
	inner := WithFaults(New(IncompleteArtifact, "orchestrator", "mandatory stage failed"), []apptype.Fault{{Kind: string(ReasoningUnavailable)}})
	err := WithRequest(inner, "req-7")
	assert.Equal(t, "req-7", RequestIDOf(err))
	assert.True(t, errors.Is(err, ErrIncompleteArtifact))

	rep := Report("", err)
	require.NotNil(t, rep)
	assert.Equal(t, "req-7", rep.RequestID)
	assert.Equal(t, string(IncompleteArtifact), rep.Kind)
	assert.Len(t, rep.Faults, 2)

	assert.Equal(t, "explicit", Report("explicit", err).RequestID)
	assert.Equal(t, inner, WithRequest(inner, ""))
	assert.Nil(t, WithRequest(nil, "req-7"))
	assert.Empty(t, RequestIDOf(inner))
}
