package state

import (
	"encoding/json"
	"time"

	"github.com/chainsight/responder/pkg/schema"
)

// DisruptionEvent is the immutable intake record a run is created for.
type DisruptionEvent struct {
	ID         string          `json:"id"`
	Category   schema.Category `json:"category"`
	Payload    map[string]any  `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Supplier returns the supplier_id hint from the payload, or "".
func (e DisruptionEvent) Supplier() string {
	s, _ := e.Payload["supplier_id"].(string)
	return s
}

// Region returns the region hint from the payload, or "".
func (e DisruptionEvent) Region() string {
	r, _ := e.Payload["region"].(string)
	return r
}

// FindingKind tags the record type of a perception-step finding.
type FindingKind string

const (
	FindingAffectedSKU         FindingKind = "affected_sku"
	FindingAffectedOrder       FindingKind = "affected_order"
	FindingCandidateSupplier   FindingKind = "candidate_supplier"
	FindingPricingQuote        FindingKind = "pricing_quote"
	FindingSOPExcerpt          FindingKind = "sop_excerpt"
	FindingHistoricalPrecedent FindingKind = "historical_precedent"
	FindingAlert               FindingKind = "alert"
	FindingEscalationNotice    FindingKind = "escalation_notice"
)

// Valid reports whether the kind is a member of the closed enumeration.
func (k FindingKind) Valid() bool {
	switch k {
	case FindingAffectedSKU, FindingAffectedOrder, FindingCandidateSupplier,
		FindingPricingQuote, FindingSOPExcerpt, FindingHistoricalPrecedent,
		FindingAlert, FindingEscalationNotice:
		return true
	}
	return false
}

// Finding is one typed record in the append-only findings sequence.
type Finding struct {
	Kind       FindingKind     `json:"kind"`
	Step       schema.StepName `json:"step"`
	Source     string          `json:"source,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Data       json.RawMessage `json:"data"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// FinancialImpact is the structured exposure estimate. Overwritten each time
// the exposure calculation runs; never fabricated by any other step.
type FinancialImpact struct {
	OriginalValue float64   `json:"original_value"`
	CostDelta     float64   `json:"cost_delta"`
	ExpediteFees  float64   `json:"expedite_fees"`
	RevenueAtRisk float64   `json:"revenue_at_risk"`
	TotalExposure float64   `json:"total_exposure"`
	Currency      string    `json:"currency"`
	ComputedAt    time.Time `json:"computed_at"`
}

// PlannedAction is one prioritized line item in a response plan.
type PlannedAction struct {
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Timeline string `json:"timeline,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

// NotificationDraft is a pending stakeholder notification. Drafting one is
// read-only data; sending it is a gated write action.
type NotificationDraft struct {
	Channel    string   `json:"channel"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

// OrderTerms are the commercial terms for a re-routed purchase order.
type OrderTerms struct {
	UnitPrice    float64 `json:"unit_price,omitempty"`
	LeadTimeDays int     `json:"lead_time_days,omitempty"`
	Quantity     int     `json:"quantity,omitempty"`
}

// OrderChange is a pending purchase-order re-route. Gated write action.
type OrderChange struct {
	POID        string     `json:"po_id"`
	NewSupplier string     `json:"new_supplier"`
	Terms       OrderTerms `json:"terms,omitempty"`
}

// Plan is the current draft response plan artifact.
type Plan struct {
	ID              string              `json:"id"`
	Summary         string              `json:"summary"`
	ContingencyOnly bool                `json:"contingency_only,omitempty"`
	Escalate        bool                `json:"escalate,omitempty"`
	Iteration       int                 `json:"iteration"`
	Actions         []PlannedAction     `json:"actions"`
	Notifications   []NotificationDraft `json:"notifications,omitempty"`
	OrderChanges    []OrderChange       `json:"order_changes,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

// ErrorEntry is one append-only error log record.
type ErrorEntry struct {
	Step    schema.StepName `json:"step"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	At      time.Time       `json:"at"`
}

// WriteReceipt records the confirmation of an executed world-changing action.
type WriteReceipt struct {
	Kind      string          `json:"kind"` // notification | purchase_order
	Reference string          `json:"reference"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	At        time.Time       `json:"at"`
}

// WorkflowState is the single mutable aggregate owned by the engine for the
// lifetime of one disruption-response run. All mutation goes through Apply.
type WorkflowState struct {
	RunID          string           `json:"run_id"`
	Event          DisruptionEvent  `json:"event"`
	Severity       schema.Severity  `json:"severity,omitempty"`
	Findings       []Finding        `json:"findings,omitempty"`
	Impact         *FinancialImpact `json:"financial_impact,omitempty"`
	RiskScore      *float64         `json:"risk_score,omitempty"`
	Plan           *Plan            `json:"plan,omitempty"`
	HumanDecision  *schema.Decision `json:"human_decision,omitempty"`
	Feedback       []string         `json:"feedback,omitempty"`
	IterationCount int              `json:"iteration_count"`
	NoAlternatives bool             `json:"no_alternatives,omitempty"`
	Receipts       []WriteReceipt   `json:"receipts,omitempty"`
	ErrorLog       []ErrorEntry     `json:"error_log,omitempty"`
	CurrentStep    schema.StepName  `json:"current_step"`
	TerminalReason string           `json:"terminal_reason,omitempty"`
	Suspended      bool             `json:"suspended"`
}

// New creates the initial state for a freshly intaken event.
func New(runID string, event DisruptionEvent) *WorkflowState {
	return &WorkflowState{
		RunID:       runID,
		Event:       event,
		CurrentStep: schema.StepClassify,
	}
}

// Terminal reports whether the cursor has reached a terminal marker.
func (s *WorkflowState) Terminal() bool {
	return s.CurrentStep.IsTerminal()
}

// AppendError records a step failure in the append-only error log.
func (s *WorkflowState) AppendError(step schema.StepName, code, message string) {
	s.ErrorLog = append(s.ErrorLog, ErrorEntry{
		Step:    step,
		Code:    code,
		Message: message,
		At:      time.Now().UTC(),
	})
}

// CheckInvariants verifies the structural invariants the engine relies on.
// A violation is a programming error, surfaced loudly.
func (s *WorkflowState) CheckInvariants() error {
	if s.IterationCount < 0 {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"iteration count %d is negative", s.IterationCount)
	}
	if s.Suspended {
		if s.CurrentStep != schema.StepReview {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"suspended run with cursor at %s, expected %s", s.CurrentStep, schema.StepReview)
		}
		if s.HumanDecision != nil {
			return schema.NewError(schema.ErrCodeInvalidTransition,
				"suspended run must not carry an unconsumed decision")
		}
	}
	if s.RiskScore != nil && (*s.RiskScore < 0 || *s.RiskScore > 1) {
		return schema.NewErrorf(schema.ErrCodeMalformedDelta,
			"risk score %f outside [0,1]", *s.RiskScore)
	}
	return nil
}

// Clone returns a deep copy of the state, used for read-only snapshots and
// for all-or-nothing delta application.
func (s *WorkflowState) Clone() *WorkflowState {
	cp := *s

	cp.Findings = append([]Finding(nil), s.Findings...)
	cp.Feedback = append([]string(nil), s.Feedback...)
	cp.Receipts = append([]WriteReceipt(nil), s.Receipts...)
	cp.ErrorLog = append([]ErrorEntry(nil), s.ErrorLog...)

	if s.Impact != nil {
		impact := *s.Impact
		cp.Impact = &impact
	}
	if s.RiskScore != nil {
		score := *s.RiskScore
		cp.RiskScore = &score
	}
	if s.Plan != nil {
		plan := *s.Plan
		plan.Actions = append([]PlannedAction(nil), s.Plan.Actions...)
		plan.Notifications = append([]NotificationDraft(nil), s.Plan.Notifications...)
		plan.OrderChanges = append([]OrderChange(nil), s.Plan.OrderChanges...)
		cp.Plan = &plan
	}
	if s.HumanDecision != nil {
		dec := *s.HumanDecision
		cp.HumanDecision = &dec
	}
	if s.Event.Payload != nil {
		payload := make(map[string]any, len(s.Event.Payload))
		for k, v := range s.Event.Payload {
			payload[k] = v
		}
		cp.Event.Payload = payload
	}
	return &cp
}
