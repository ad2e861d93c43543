package expressions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

func snapshotWithExposure(exposure float64, severity schema.Severity) *state.WorkflowState {
	s := state.New("run-1", state.DisruptionEvent{
		ID:         "evt-1",
		Category:   schema.CategorySupplierFailure,
		Payload:    map[string]any{"supplier_id": "TPA-001"},
		ReceivedAt: time.Now().UTC(),
	})
	s.Severity = severity
	s.Impact = &state.FinancialImpact{TotalExposure: exposure, Currency: "USD"}
	risk := 0.4
	s.RiskScore = &risk
	return s
}

func TestEscalationPolicy_Default(t *testing.T) {
	p := NewEscalationPolicy("")
	ctx := context.Background()

	escalate, err := p.ShouldEscalate(ctx, snapshotWithExposure(150000, schema.SeverityHigh))
	require.NoError(t, err)
	assert.True(t, escalate)

	escalate, err = p.ShouldEscalate(ctx, snapshotWithExposure(50000, schema.SeverityHigh))
	require.NoError(t, err)
	assert.False(t, escalate)

	// Critical severity escalates regardless of exposure.
	escalate, err = p.ShouldEscalate(ctx, snapshotWithExposure(1000, schema.SeverityCritical))
	require.NoError(t, err)
	assert.True(t, escalate)
}

func TestEscalationPolicy_NoImpactMeansZeroExposure(t *testing.T) {
	p := NewEscalationPolicy("")

	s := snapshotWithExposure(0, schema.SeverityHigh)
	s.Impact = nil
	s.RiskScore = nil

	escalate, err := p.ShouldEscalate(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, escalate)
}

func TestEscalationPolicy_CustomExpression(t *testing.T) {
	p := NewEscalationPolicy(`risk_score > 0.3 && iteration >= 1`)
	ctx := context.Background()

	s := snapshotWithExposure(10, schema.SeverityLow)
	escalate, err := p.ShouldEscalate(ctx, s)
	require.NoError(t, err)
	assert.False(t, escalate)

	s.IterationCount = 2
	escalate, err = p.ShouldEscalate(ctx, s)
	require.NoError(t, err)
	assert.True(t, escalate)
}

func TestEscalationPolicy_NonBoolFails(t *testing.T) {
	p := NewEscalationPolicy(`severity`)
	_, err := p.ShouldEscalate(context.Background(), snapshotWithExposure(1, schema.SeverityLow))
	var rerr *schema.ResponderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, schema.ErrCodeValidation, rerr.Code)
}

func TestCELEngine_GuardConditions(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)
	ctx := context.Background()

	s := snapshotWithExposure(50000, schema.SeverityMedium)
	scope := Scope(s)

	ok, err := eng.EvaluateBool(ctx, `state.no_alternatives == false`, scope)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eng.EvaluateBool(ctx, `impact.total_exposure > 100000.0`, scope)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unpopulated scope keys resolve to empty maps, not runtime errors.
	ok, err = eng.EvaluateBool(ctx, `!has(plan.id)`, map[string]any{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCELEngine_CompileErrorSurfaces(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.Evaluate(context.Background(), `state.severity ==`, nil)
	var rerr *schema.ResponderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, schema.ErrCodeValidation, rerr.Code)
}

func TestGoJQEngine_SnapshotQueries(t *testing.T) {
	eng := NewGoJQEngine()
	ctx := context.Background()

	s := snapshotWithExposure(150000, schema.SeverityHigh)
	s.Findings = []state.Finding{
		{Kind: state.FindingCandidateSupplier, Data: []byte(`{"supplier_id":"ALT-003"}`)},
		{Kind: state.FindingPricingQuote, Data: []byte(`{"supplier_id":"ALT-003","price":5.25}`)},
	}
	doc, err := SnapshotDocument(s)
	require.NoError(t, err)

	out, err := eng.Evaluate(ctx, `.financial_impact.total_exposure`, doc)
	require.NoError(t, err)
	assert.Equal(t, 150000.0, out)

	out, err = eng.Evaluate(ctx, `[.findings[] | select(.kind == "candidate_supplier")] | length`, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestGoJQEngine_EnvBlocked(t *testing.T) {
	eng := NewGoJQEngine()
	out, err := eng.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestExprEngine_EvaluateBool(t *testing.T) {
	eng := NewExprEngine()
	ctx := context.Background()

	ok, err := eng.EvaluateBool(ctx, `exposure > 100`, map[string]any{"exposure": 250.0})
	require.NoError(t, err)
	assert.True(t, ok)

	// A predicate that reduces to a non-bool is a configuration error,
	// never a silent false.
	_, err = eng.EvaluateBool(ctx, `exposure`, map[string]any{"exposure": 250.0})
	var rerr *schema.ResponderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, schema.ErrCodeValidation, rerr.Code)
}

func TestExprEngine_CacheReuse(t *testing.T) {
	eng := NewExprEngine()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := eng.Evaluate(ctx, `a + b`, map[string]any{"a": i, "b": 1})
		require.NoError(t, err)
		assert.Equal(t, i+1, out)
	}
	assert.Len(t, eng.cache, 1)
}
