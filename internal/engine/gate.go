package engine

import (
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// ActionKind classifies a collaborator call for gate purposes.
type ActionKind string

const (
	ActionRead  ActionKind = "read"
	ActionWrite ActionKind = "write"
)

// Gate is the authorization boundary between read-only lookups and
// world-changing actions. Reads always pass. Writes pass only after the
// review checkpoint resolved to approve; anything else is a contract
// violation that fails loudly rather than downgrading to a no-op.
type Gate struct{}

// Authorize checks an action kind against the run state.
func (Gate) Authorize(kind ActionKind, s *state.WorkflowState) error {
	switch kind {
	case ActionRead:
		return nil
	case ActionWrite:
		if s.Suspended {
			return schema.NewError(schema.ErrCodeGateDenied,
				"write action attempted while run is suspended").WithStep(string(s.CurrentStep))
		}
		if s.HumanDecision == nil || s.HumanDecision.Kind != schema.DecisionApprove {
			return schema.NewError(schema.ErrCodeGateDenied,
				"write action requires an approve decision").WithStep(string(s.CurrentStep))
		}
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown action kind %q", string(kind))
	}
}
