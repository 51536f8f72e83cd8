package orchestrator

import (
	"fmt"

	"github.com/ZanzyTHEbar/agentic-finance-rag-go/internal/apptype"
)

// Policy marks which stages an artifact type cannot do without. Every stage
// still runs; a failed optional stage is carried forward as degraded.
type Policy struct {
	Mandatory map[apptype.StageName]bool
}

// IsMandatory reports whether a failure of stage fails the request
func (p Policy) IsMandatory(stage apptype.StageName) bool { return p.Mandatory[stage] }

// MandatoryStages lists the mandatory stages in execution order
func (p Policy) MandatoryStages() []apptype.StageName {
	var out []apptype.StageName
	for _, st := range apptype.Stages {
		if p.Mandatory[st] {
			out = append(out, st)
		}
	}
	return out
}

func newPolicy(stages ...apptype.StageName) Policy {
	m := make(map[apptype.StageName]bool, len(stages))
	for _, s := range stages {
		m[s] = true
	}
	return Policy{Mandatory: m}
}

// Policies maps artifact types to their stage policy
type Policies map[apptype.ArtifactType]Policy

// DefaultPolicies returns the built-in stage policy per artifact type
func DefaultPolicies() Policies {
	return Policies{
		apptype.ArtifactTrend:  newPolicy(apptype.StageAnalyst, apptype.StagePredictor),
		apptype.ArtifactRisk:   newPolicy(apptype.StageAnalyst, apptype.StageRiskEvaluator),
		apptype.ArtifactSignal: newPolicy(apptype.StageAnalyst, apptype.StagePredictor, apptype.StageCoordinator),
	}
}

// For returns the policy for t, falling back to the default one
func (p Policies) For(t apptype.ArtifactType) (Policy, bool) {
	if pol, ok := p[t]; ok {
		return pol, true
	}
	pol, ok := DefaultPolicies()[t]
	return pol, ok
}

// ParsePolicies builds policies from a configuration map of artifact type to
// mandatory stage names. Artifact types not mentioned keep their defaults.
func ParsePolicies(raw map[string][]string) (Policies, error) {
	out := DefaultPolicies()
	for art, stages := range raw {
		t := apptype.ArtifactType(art)
		if !t.Valid() {
			return nil, fmt.Errorf("policy for unknown artifact type %q", art)
		}
		names := make([]apptype.StageName, 0, len(stages))
		for _, s := range stages {
			st := apptype.StageName(s)
			if !isStage(st) {
				return nil, fmt.Errorf("policy for %s names unknown stage %q", art, s)
			}
			names = append(names, st)
		}
		out[t] = newPolicy(names...)
	}
	return out, nil
}

func isStage(s apptype.StageName) bool {
	for _, st := range apptype.Stages {
		if st == s {
			return true
		}
	}
	return false
}
