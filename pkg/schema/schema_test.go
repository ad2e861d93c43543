package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecision_Validate(t *testing.T) {
	cases := []struct {
		name    string
		d       Decision
		wantErr bool
	}{
		{name: "approve", d: Decision{Kind: DecisionApprove}},
		{name: "reject", d: Decision{Kind: DecisionReject}},
		{name: "modify with feedback", d: Decision{Kind: DecisionModify, Feedback: "add owners"}},
		{name: "modify without feedback", d: Decision{Kind: DecisionModify}, wantErr: true},
		{name: "approve with feedback", d: Decision{Kind: DecisionApprove, Feedback: "nice"}, wantErr: true},
		{name: "reject with feedback", d: Decision{Kind: DecisionReject, Feedback: "no"}, wantErr: true},
		{name: "unknown kind", d: Decision{Kind: "defer"}, wantErr: true},
		{name: "empty kind", d: Decision{}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if tc.wantErr {
				var rerr *ResponderError
				require.ErrorAs(t, err, &rerr)
				assert.Equal(t, ErrCodeValidation, rerr.Code)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCategoryAndSeverity_Valid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, Category("weather").Valid())

	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Severity("apocalyptic").Valid())
}

func TestStepName_IsTerminal(t *testing.T) {
	assert.True(t, TerminalDone.IsTerminal())
	assert.True(t, TerminalRejected.IsTerminal())
	assert.True(t, TerminalEscalated.IsTerminal())
	assert.True(t, TerminalFailed.IsTerminal())
	assert.False(t, StepReview.IsTerminal())
	assert.False(t, StepClassify.IsTerminal())
}

func TestResponderError_Wrapping(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := NewErrorf(ErrCodeCollaboratorUnavailable, "collaborator %s unavailable", "pricing").
		WithStep("calculate_exposure").
		WithCause(cause)

	assert.Contains(t, err.Error(), ErrCodeCollaboratorUnavailable)
	assert.Contains(t, err.Error(), "calculate_exposure")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, err.IsRetryable())

	var rerr *ResponderError
	require.ErrorAs(t, fmt.Errorf("outer: %w", err), &rerr)
	assert.Equal(t, ErrCodeCollaboratorUnavailable, rerr.Code)

	assert.False(t, NewError(ErrCodeGateDenied, "denied").IsRetryable())
	assert.False(t, NewError(ErrCodeMalformedDelta, "bad").IsRetryable())
	assert.True(t, NewError(ErrCodeTimeout, "slow").IsRetryable())
}

func TestValidator_Event(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	valid := map[string]any{
		"category": "supplier_failure",
		"payload": map[string]any{
			"supplier_id":   "TPA-001",
			"region":        "Asia",
			"duration_days": 14,
		},
	}
	require.NoError(t, v.ValidateEvent(valid))

	cases := []struct {
		name  string
		event map[string]any
	}{
		{"unknown category", map[string]any{"category": "weather", "payload": map[string]any{}}},
		{"missing payload", map[string]any{"category": "supplier_failure"}},
		{"negative duration", map[string]any{
			"category": "supplier_failure",
			"payload":  map[string]any{"duration_days": -1},
		}},
		{"extra top-level field", map[string]any{
			"category": "supplier_failure",
			"payload":  map[string]any{},
			"urgent":   true,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateEvent(tc.event)
			var rerr *ResponderError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, ErrCodeValidation, rerr.Code)
		})
	}
}

func TestValidator_Plan(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	valid := map[string]any{
		"id":      "PLAN-1",
		"summary": "re-route and notify",
		"actions": []map[string]any{
			{"priority": 1, "action": "Activate backup supplier ALT-003"},
		},
		"notifications": []map[string]any{
			{"channel": "both", "message": "plan ready", "recipients": []string{"procurement-team"}},
		},
		"order_changes": []map[string]any{
			{"po_id": "PO-2024-001", "new_supplier": "ALT-003", "terms": map[string]any{"unit_price": 5.25}},
		},
	}
	require.NoError(t, v.ValidatePlan(valid))

	cases := []struct {
		name string
		plan map[string]any
	}{
		{"empty actions", map[string]any{"id": "P", "summary": "s", "actions": []map[string]any{}}},
		{"missing summary", map[string]any{"id": "P", "actions": []map[string]any{{"priority": 1, "action": "a"}}}},
		{"zero priority", map[string]any{
			"id": "P", "summary": "s",
			"actions": []map[string]any{{"priority": 0, "action": "a"}},
		}},
		{"bad channel", map[string]any{
			"id": "P", "summary": "s",
			"actions":       []map[string]any{{"priority": 1, "action": "a"}},
			"notifications": []map[string]any{{"channel": "fax", "message": "m", "recipients": []string{"x"}}},
		}},
		{"empty recipients", map[string]any{
			"id": "P", "summary": "s",
			"actions":       []map[string]any{{"priority": 1, "action": "a"}},
			"notifications": []map[string]any{{"channel": "slack", "message": "m", "recipients": []string{}}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidatePlan(tc.plan)
			var rerr *ResponderError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, ErrCodeMalformedDelta, rerr.Code)
		})
	}
}

func TestValidator_CollectsViolations(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	err = v.ValidateEvent(map[string]any{"category": "weather"})
	var rerr *ResponderError
	require.ErrorAs(t, err, &rerr)
	require.NotNil(t, rerr.Details)
	violations, ok := rerr.Details["violations"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, violations)
}
