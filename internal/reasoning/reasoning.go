// Package reasoning provides the backends that perform one pipeline stage:
// given the retrieval context and the results of earlier stages they produce
// an AgentStageResult. The orchestrator only sees the Reasoner interface.
package reasoning

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

const component = "reasoning"

// Reasoner runs one stage. It fails with ReasoningUnavailable when its
// backend cannot be reached. The result must list the context items the
// stage consumed.
type Reasoner interface {
	Run(ctx context.Context, stage apptype.StageName, rc apptype.RetrievalContext, prior []apptype.AgentStageResult) (apptype.AgentStageResult, error)
}

// Config selects a backend.
type Config struct {
	// Backend is "heuristic" (default) or "openai".
	Backend string    `yaml:"backend"`
	LLM     LLMConfig `yaml:"llm"`
}

// New builds the configured backend
func New(cfg Config, log logrus.FieldLogger) (Reasoner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "heuristic", "rules":
		return NewHeuristic(), nil
	case "openai", "llm":
		l, err := NewLLM(cfg.LLM, log)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown reasoning backend %q", cfg.Backend)
	}
}

// findPrior returns the most recent result for stage
func findPrior(prior []apptype.AgentStageResult, stage apptype.StageName) (apptype.AgentStageResult, bool) {
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Stage == stage {
			return prior[i], true
		}
	}
	return apptype.AgentStageResult{}, false
}
