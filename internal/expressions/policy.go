package expressions

import (
	"context"

	"github.com/chainsight/responder/internal/state"
)

// DefaultEscalationExpr mirrors SOP-001 rule 6: exposure past $100K goes to
// the VP Supply Chain instead of the normal review queue.
const DefaultEscalationExpr = `impact.total_exposure > 100000 || severity == "critical"`

// EscalationPolicy decides whether a run must be escalated rather than
// reviewed. The predicate is an expr expression over the run snapshot.
type EscalationPolicy struct {
	engine     *ExprEngine
	expression string
}

// NewEscalationPolicy builds a policy from an expr predicate. An empty
// expression selects the default.
func NewEscalationPolicy(expression string) *EscalationPolicy {
	if expression == "" {
		expression = DefaultEscalationExpr
	}
	return &EscalationPolicy{
		engine:     NewExprEngine(),
		expression: expression,
	}
}

// Expression returns the configured predicate source.
func (p *EscalationPolicy) Expression() string { return p.expression }

// ShouldEscalate evaluates the policy against the run snapshot.
func (p *EscalationPolicy) ShouldEscalate(ctx context.Context, s *state.WorkflowState) (bool, error) {
	return p.engine.EvaluateBool(ctx, p.expression, Scope(s))
}
