package state

import (
	"time"

	"github.com/chainsight/responder/pkg/schema"
)

// Delta is a step's partial update to the workflow state. Appendable fields
// (findings, errors, receipts) accumulate; scalar fields replace. A delta is
// applied atomically: it is validated in full before any field is touched.
type Delta struct {
	Severity       schema.Severity
	Findings       []Finding
	Impact         *FinancialImpact
	RiskScore      *float64
	Plan           *Plan
	NoAlternatives *bool
	Receipts       []WriteReceipt
	Errors         []ErrorEntry
}

// validate checks the delta against the state schema without mutating.
func (d *Delta) validate() error {
	if d.Severity != "" && !d.Severity.Valid() {
		return schema.NewErrorf(schema.ErrCodeMalformedDelta,
			"unknown severity %q", string(d.Severity))
	}
	for i := range d.Findings {
		f := &d.Findings[i]
		if !f.Kind.Valid() {
			return schema.NewErrorf(schema.ErrCodeMalformedDelta,
				"finding %d has unknown kind %q", i, string(f.Kind))
		}
		if len(f.Data) == 0 {
			return schema.NewErrorf(schema.ErrCodeMalformedDelta,
				"finding %d (%s) has empty data", i, f.Kind)
		}
	}
	if d.RiskScore != nil && (*d.RiskScore < 0 || *d.RiskScore > 1) {
		return schema.NewErrorf(schema.ErrCodeMalformedDelta,
			"risk score %f outside [0,1]", *d.RiskScore)
	}
	if d.Plan != nil {
		if d.Plan.ID == "" || d.Plan.Summary == "" {
			return schema.NewError(schema.ErrCodeMalformedDelta,
				"plan missing id or summary")
		}
		if len(d.Plan.Actions) == 0 {
			return schema.NewError(schema.ErrCodeMalformedDelta,
				"plan has no actions")
		}
	}
	return nil
}

// Apply merges the delta into the state. On a validation failure nothing is
// mutated and a MALFORMED_DELTA error is returned: a step's delta is
// all-or-nothing.
func (s *WorkflowState) Apply(step schema.StepName, d *Delta) error {
	if d == nil {
		return nil
	}
	if err := d.validate(); err != nil {
		if rerr, ok := err.(*schema.ResponderError); ok {
			return rerr.WithStep(string(step))
		}
		return err
	}

	now := time.Now().UTC()

	if d.Severity != "" {
		s.Severity = d.Severity
	}
	for _, f := range d.Findings {
		if f.Step == "" {
			f.Step = step
		}
		if f.RecordedAt.IsZero() {
			f.RecordedAt = now
		}
		s.Findings = append(s.Findings, f)
	}
	if d.Impact != nil {
		impact := *d.Impact
		if impact.ComputedAt.IsZero() {
			impact.ComputedAt = now
		}
		s.Impact = &impact
	}
	if d.RiskScore != nil {
		score := *d.RiskScore
		s.RiskScore = &score
	}
	if d.Plan != nil {
		plan := *d.Plan
		if plan.GeneratedAt.IsZero() {
			plan.GeneratedAt = now
		}
		s.Plan = &plan
	}
	if d.NoAlternatives != nil {
		s.NoAlternatives = *d.NoAlternatives
	}
	s.Receipts = append(s.Receipts, d.Receipts...)
	for _, e := range d.Errors {
		if e.Step == "" {
			e.Step = step
		}
		if e.At.IsZero() {
			e.At = now
		}
		s.ErrorLog = append(s.ErrorLog, e)
	}
	return nil
}
