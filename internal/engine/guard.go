package engine

import (
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// DefaultMaxIterations bounds the modify feedback loop.
const DefaultMaxIterations = 3

// IterationGuard enforces the modify-loop bound. Denial is a process
// failure (the reviewer could not converge on an acceptable plan), kept
// distinguishable from an ordinary rejection.
type IterationGuard struct {
	Max int
}

func NewIterationGuard(max int) *IterationGuard {
	if max <= 0 {
		max = DefaultMaxIterations
	}
	return &IterationGuard{Max: max}
}

// Admit decides one more pass through plan generation. On allow the counter
// is incremented; on deny the state is untouched and the caller must route
// to the escalation terminal.
func (g *IterationGuard) Admit(s *state.WorkflowState) error {
	if s.IterationCount+1 > g.Max {
		return schema.NewErrorf(schema.ErrCodeIterationLimit,
			"modify loop exhausted after %d iterations", s.IterationCount).
			WithStep(string(schema.StepReview))
	}
	s.IterationCount++
	return nil
}
