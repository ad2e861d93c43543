package expressions

import (
	"encoding/json"

	"github.com/chainsight/responder/internal/state"
)

// Scope converts a run snapshot into the evaluation environment shared by
// guards, policies, and inspect queries. The state is round-tripped through
// JSON so expressions see the same shapes the wire does.
func Scope(s *state.WorkflowState) map[string]any {
	impact := s.Impact
	if impact == nil {
		// Zero exposure, not an absent key: policies compare against it.
		impact = &state.FinancialImpact{}
	}
	plan := s.Plan
	if plan == nil {
		plan = &state.Plan{}
	}
	scope := map[string]any{
		"event":  asMap(s.Event),
		"impact": asMap(impact),
		"plan":   asMap(plan),
		"state": map[string]any{
			"run_id":          s.RunID,
			"severity":        string(s.Severity),
			"current_step":    string(s.CurrentStep),
			"iteration":       s.IterationCount,
			"no_alternatives": s.NoAlternatives,
			"suspended":       s.Suspended,
			"finding_count":   len(s.Findings),
		},
	}
	if s.RiskScore != nil {
		scope["risk_score"] = *s.RiskScore
	} else {
		scope["risk_score"] = 0.0
	}
	scope["severity"] = string(s.Severity)
	scope["iteration"] = s.IterationCount
	return scope
}

// SnapshotDocument renders the full state as a jq-queryable document.
func SnapshotDocument(s *state.WorkflowState) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func asMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
