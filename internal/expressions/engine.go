package expressions

import "context"

// Engine evaluates expressions against a run snapshot.
// Three implementations: CEL (step guards), Expr (escalation policy),
// GoJQ (inspection queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
