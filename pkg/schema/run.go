package schema

import "time"

// Category enumerates the kinds of supply-chain disruption events.
type Category string

const (
	CategorySupplierFailure Category = "supplier_failure"
	CategoryLogisticsDelay  Category = "logistics_delay"
	CategoryQualityRecall   Category = "quality_recall"
	CategoryPriceSpike      Category = "price_spike"
	CategoryGeopolitical    Category = "geopolitical"
)

// Categories lists every valid disruption category.
var Categories = []Category{
	CategorySupplierFailure,
	CategoryLogisticsDelay,
	CategoryQualityRecall,
	CategoryPriceSpike,
	CategoryGeopolitical,
}

// Valid reports whether the category is a member of the closed enumeration.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Severity is the classified seriousness of a disruption.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the four known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DecisionKind enumerates the possible human-review outcomes.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
	DecisionModify  DecisionKind = "modify"
)

// Decision is the human reviewer's verdict delivered via resume.
// Exactly one kind is set; modify carries the revision feedback.
type Decision struct {
	Kind      DecisionKind `json:"kind"`
	Feedback  string       `json:"feedback,omitempty"`
	DecidedBy string       `json:"decided_by,omitempty"`
	DecidedAt time.Time    `json:"decided_at"`
}

// Validate checks the decision against its structural contract.
func (d Decision) Validate() error {
	switch d.Kind {
	case DecisionApprove, DecisionReject:
		if d.Feedback != "" {
			return NewErrorf(ErrCodeValidation, "decision %s must not carry feedback", d.Kind)
		}
	case DecisionModify:
		if d.Feedback == "" {
			return NewError(ErrCodeValidation, "modify decision requires feedback")
		}
	default:
		return NewErrorf(ErrCodeValidation, "unknown decision kind %q", string(d.Kind))
	}
	return nil
}

// StepName identifies a registered step or a terminal marker.
type StepName string

const (
	StepClassify          StepName = "classify"
	StepAssessImpact      StepName = "assess_impact"
	StepFindAlternatives  StepName = "find_alternatives"
	StepCalculateExposure StepName = "calculate_exposure"
	StepGeneratePlan      StepName = "generate_plan"
	StepReview            StepName = "review"
	StepExecuteActions    StepName = "execute_actions"
	StepFallback          StepName = "fallback"

	// Terminal markers. A run whose cursor reaches one of these is over.
	TerminalDone      StepName = "done"
	TerminalRejected  StepName = "rejected"
	TerminalEscalated StepName = "escalated"
	TerminalFailed    StepName = "failed"
)

// IsTerminal reports whether the step name is a terminal marker.
func (s StepName) IsTerminal() bool {
	switch s {
	case TerminalDone, TerminalRejected, TerminalEscalated, TerminalFailed:
		return true
	}
	return false
}

// RunStatus represents the lifecycle state of a disruption-response run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusSuspended RunStatus = "suspended"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Outcome is what Start and Resume report back to the caller.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSuspended Outcome = "suspended"
	OutcomeFailed    Outcome = "failed"
	// OutcomePartial means the plan was approved but at least one
	// world-changing action failed after the gate opened.
	OutcomePartial Outcome = "partial"
)

// Event type constants for the append-only run event log.
const (
	EventRunStarted   = "run_started"
	EventRunSuspended = "run_suspended"
	EventRunResumed   = "run_resumed"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"

	EventStepStarted  = "step_started"
	EventStepApplied  = "step_applied"
	EventStepFailed   = "step_failed"
	EventStepFallback = "step_fallback"

	EventDecisionRequested = "decision_requested"
	EventDecisionResolved  = "decision_resolved"

	EventEscalationRaised       = "escalation_raised"
	EventIterationLimitExceeded = "iteration_limit_exceeded"

	EventNotificationSent     = "notification_sent"
	EventPurchaseOrderUpdated = "purchase_order_updated"
	EventWriteActionFailed    = "write_action_failed"
)
