package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainsight/responder/internal/expressions"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// Router selects the next step after each applied step. Every branching
// point is a closed table over tagged enumerations; an unrecognized tag is
// an INVALID_TRANSITION, never a silent default.
type Router struct {
	guard  *IterationGuard
	policy *expressions.EscalationPolicy
}

func NewRouter(guard *IterationGuard, policy *expressions.EscalationPolicy) *Router {
	return &Router{guard: guard, policy: policy}
}

// Route inspects the state after `applied` ran and returns the next step
// plus an optional routing delta (escalation notices and consumed feedback
// travel through the same all-or-nothing apply as step output).
func (r *Router) Route(ctx context.Context, applied schema.StepName, s *state.WorkflowState) (schema.StepName, *state.Delta, error) {
	switch applied {
	case schema.StepClassify:
		return r.afterClassify(s)

	case schema.StepAssessImpact:
		return schema.StepFindAlternatives, nil, nil

	case schema.StepFindAlternatives:
		if s.NoAlternatives {
			return schema.StepGeneratePlan, nil, nil
		}
		return schema.StepCalculateExposure, nil, nil

	case schema.StepCalculateExposure:
		return schema.StepGeneratePlan, nil, nil

	case schema.StepGeneratePlan:
		return r.afterGeneratePlan(ctx, s)

	case schema.StepReview:
		return r.afterReview(s)

	case schema.StepExecuteActions:
		return schema.TerminalDone, nil, nil

	case schema.StepFallback:
		return r.afterFallback(s)

	default:
		return "", nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"no route defined after step %q", string(applied))
	}
}

// afterClassify validates the severity tag and, for critical events, drafts
// an escalation notice. The notice is data only; nothing is sent until the
// gate opens.
func (r *Router) afterClassify(s *state.WorkflowState) (schema.StepName, *state.Delta, error) {
	if !s.Severity.Valid() {
		return "", nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"classification produced unknown severity %q", string(s.Severity))
	}

	var delta *state.Delta
	if s.Severity == schema.SeverityCritical {
		notice, err := escalationNotice(s, "critical severity classification")
		if err != nil {
			return "", nil, err
		}
		delta = &state.Delta{Findings: []state.Finding{*notice}}
	}
	return schema.StepAssessImpact, delta, nil
}

// afterGeneratePlan applies the escalation policy before handing the plan
// to review. A firing policy widens the review audience; the human
// checkpoint is never skipped.
func (r *Router) afterGeneratePlan(ctx context.Context, s *state.WorkflowState) (schema.StepName, *state.Delta, error) {
	escalate, err := r.policy.ShouldEscalate(ctx, s)
	if err != nil {
		return "", nil, err
	}
	if !escalate || hasEscalationNotice(s) {
		return schema.StepReview, nil, nil
	}
	notice, err := escalationNotice(s, fmt.Sprintf("escalation policy fired: %s", r.policy.Expression()))
	if err != nil {
		return "", nil, err
	}
	return schema.StepReview, &state.Delta{Findings: []state.Finding{*notice}}, nil
}

// afterReview consumes the human decision. Approve keeps the decision on
// state (the gate requires it); modify consumes it into feedback and asks
// the iteration guard for re-entry; reject ends the run.
func (r *Router) afterReview(s *state.WorkflowState) (schema.StepName, *state.Delta, error) {
	if s.Suspended {
		return "", nil, schema.NewError(schema.ErrCodeInvalidTransition,
			"review routing reached while run is still suspended")
	}
	if s.HumanDecision == nil {
		return "", nil, schema.NewError(schema.ErrCodeInvalidTransition,
			"review routing requires a resolved decision")
	}

	switch s.HumanDecision.Kind {
	case schema.DecisionApprove:
		return schema.StepExecuteActions, nil, nil

	case schema.DecisionReject:
		s.TerminalReason = "plan rejected by reviewer"
		s.HumanDecision = nil
		return schema.TerminalRejected, nil, nil

	case schema.DecisionModify:
		feedback := s.HumanDecision.Feedback
		s.HumanDecision = nil
		if err := r.guard.Admit(s); err != nil {
			s.AppendError(schema.StepReview, schema.ErrCodeIterationLimit, err.Error())
			s.TerminalReason = "iteration limit exceeded"
			return schema.TerminalEscalated, nil, nil
		}
		s.Feedback = append(s.Feedback, feedback)
		return schema.StepGeneratePlan, nil, nil

	default:
		return "", nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"unknown decision kind %q", string(s.HumanDecision.Kind))
	}
}

// afterFallback routes around the failed step recorded in the error log.
// Perception failures degrade; plan and action failures end the run.
var fallbackRoutes = map[schema.StepName]schema.StepName{
	schema.StepClassify:          schema.TerminalFailed,
	schema.StepAssessImpact:      schema.StepFindAlternatives,
	schema.StepFindAlternatives:  schema.StepGeneratePlan,
	schema.StepCalculateExposure: schema.StepGeneratePlan,
	schema.StepGeneratePlan:      schema.TerminalFailed,
	schema.StepExecuteActions:    schema.TerminalFailed,
}

func (r *Router) afterFallback(s *state.WorkflowState) (schema.StepName, *state.Delta, error) {
	if len(s.ErrorLog) == 0 {
		return "", nil, schema.NewError(schema.ErrCodeInvalidTransition,
			"fallback reached with an empty error log")
	}
	failed := s.ErrorLog[len(s.ErrorLog)-1].Step
	next, ok := fallbackRoutes[failed]
	if !ok {
		return "", nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"no fallback route for failed step %q", string(failed))
	}
	if next.IsTerminal() {
		s.TerminalReason = fmt.Sprintf("unrecoverable failure in step %s", failed)
	}
	return next, nil, nil
}

func escalationNotice(s *state.WorkflowState, reason string) (*state.Finding, error) {
	data, err := json.Marshal(map[string]any{
		"reason":     reason,
		"recipients": []string{"vp-supply-chain"},
		"channel":    "both",
	})
	if err != nil {
		return nil, err
	}
	return &state.Finding{
		Kind:       state.FindingEscalationNotice,
		Step:       s.CurrentStep,
		Source:     "router",
		Data:       data,
		RecordedAt: time.Now().UTC(),
	}, nil
}

func hasEscalationNotice(s *state.WorkflowState) bool {
	for _, f := range s.Findings {
		if f.Kind == state.FindingEscalationNotice {
			return true
		}
	}
	return false
}
