package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsight/responder/internal/collab"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/internal/store"
	"github.com/chainsight/responder/pkg/schema"
)

// --- fixtures ---

type stubDocs struct {
	matches []collab.DocMatch
	err     error
}

func (d stubDocs) Search(ctx context.Context, query string, topK int) ([]collab.DocMatch, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.matches, nil
}

type failingAlerts struct{}

func (failingAlerts) Fetch(ctx context.Context, region string, category schema.Category) ([]collab.Alert, error) {
	return nil, collab.Unavailable("alerts", errors.New("connection refused"))
}

type failingSOPs struct{}

func (failingSOPs) Lookup(ctx context.Context, category schema.Category) (*collab.SOPSection, error) {
	return nil, collab.Unavailable("sop-wiki", errors.New("connection refused"))
}

type stubPlanner struct {
	plan *state.Plan
}

func (p stubPlanner) Draft(ctx context.Context, s *state.WorkflowState) (*state.Plan, error) {
	cp := *p.plan
	cp.Iteration = s.IterationCount
	return &cp, nil
}

func testCollabs() *collab.Set {
	return &collab.Set{
		Inventory: collab.MemoryInventory{},
		Alerts:    collab.MemoryAlertFeed{},
		History:   collab.MemoryHistory{},
		Pricing:   collab.MemoryPricing{},
		SOPs:      collab.MemorySOPWiki{},
		Docs:      stubDocs{},
		Impact:    collab.StandardImpactCalculator{},
		Planner:   collab.TemplatePlanner{},
		Notifier:  &collab.MemoryNotifier{},
		Orders:    &collab.MemoryOrderWriter{},
	}
}

func newTestEngine(t *testing.T, collabs *collab.Set) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	eng, err := New(st, collabs, nil, Config{
		StepTimeout: 5 * time.Second,
		MaxRetries:  1,
		RetryBase:   time.Millisecond,
		RetryMax:    2 * time.Millisecond,
	})
	require.NoError(t, err)
	return eng, st
}

func supplierFailureEvent() state.DisruptionEvent {
	return state.DisruptionEvent{
		Category: schema.CategorySupplierFailure,
		Payload: map[string]any{
			"supplier_id": "TPA-001",
			"region":      "Asia",
			"description": "plant fire halted production",
		},
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var rerr *schema.ResponderError
	require.ErrorAs(t, err, &rerr)
	return rerr.Code
}

// --- lifecycle ---

func TestEngine_StartSuspendsAtReview(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	runID, outcome, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeSuspended, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, s.Suspended)
	assert.Equal(t, schema.StepReview, s.CurrentStep)
	assert.Equal(t, schema.SeverityHigh, s.Severity)
	assert.Nil(t, s.HumanDecision)

	require.NotNil(t, s.Plan)
	assert.NotEmpty(t, s.Plan.Actions)
	assert.Equal(t, 0, s.Plan.Iteration)

	require.NotNil(t, s.Impact)
	assert.Greater(t, s.Impact.TotalExposure, 0.0)
	require.NotNil(t, s.RiskScore)
	assert.GreaterOrEqual(t, *s.RiskScore, 0.0)
	assert.LessOrEqual(t, *s.RiskScore, 1.0)

	pending, err := eng.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, runID, pending[0].ID)
}

func TestEngine_ApproveExecutesWrites(t *testing.T) {
	collabs := testCollabs()
	notifier := collabs.Notifier.(*collab.MemoryNotifier)
	orders := collabs.Orders.(*collab.MemoryOrderWriter)
	eng, _ := newTestEngine(t, collabs)

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	outcome, err := eng.Resume(context.Background(), runID, schema.Decision{
		Kind:      schema.DecisionApprove,
		DecidedBy: "ops-lead",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCompleted, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.TerminalDone, s.CurrentStep)
	assert.False(t, s.Suspended)
	assert.Nil(t, s.HumanDecision, "terminal snapshot carries no live decision")
	assert.NotEmpty(t, s.Receipts)
	assert.NotEmpty(t, notifier.Sent)
	assert.NotEmpty(t, orders.Updates)

	events, err := eng.Events(context.Background(), runID, 0)
	require.NoError(t, err)
	types := make(map[string]int)
	for _, ev := range events {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[schema.EventRunStarted])
	assert.Equal(t, 1, types[schema.EventRunSuspended])
	assert.Equal(t, 1, types[schema.EventRunResumed])
	assert.Equal(t, 1, types[schema.EventRunCompleted])
	assert.NotZero(t, types[schema.EventNotificationSent])
	assert.NotZero(t, types[schema.EventPurchaseOrderUpdated])
}

func TestEngine_RejectWritesNothing(t *testing.T) {
	collabs := testCollabs()
	notifier := collabs.Notifier.(*collab.MemoryNotifier)
	orders := collabs.Orders.(*collab.MemoryOrderWriter)
	eng, _ := newTestEngine(t, collabs)

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	outcome, err := eng.Resume(context.Background(), runID, schema.Decision{
		Kind: schema.DecisionReject,
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCompleted, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.TerminalRejected, s.CurrentStep)
	assert.Equal(t, "plan rejected by reviewer", s.TerminalReason)
	assert.Nil(t, s.HumanDecision)
	assert.Empty(t, s.Receipts)
	assert.Empty(t, notifier.Sent)
	assert.Empty(t, orders.Updates)
}

func TestEngine_ModifyRegeneratesPlan(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	first, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, first.Plan)
	require.NotEmpty(t, first.Plan.OrderChanges)

	outcome, err := eng.Resume(context.Background(), runID, schema.Decision{
		Kind:     schema.DecisionModify,
		Feedback: "notification only, do not touch the orders",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeSuspended, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, s.Suspended)
	assert.Equal(t, 1, s.IterationCount)
	require.Len(t, s.Feedback, 1)
	assert.Nil(t, s.HumanDecision)

	require.NotNil(t, s.Plan)
	assert.Equal(t, 1, s.Plan.Iteration)
	assert.NotEqual(t, first.Plan.ID, s.Plan.ID)
	assert.Empty(t, s.Plan.OrderChanges)
}

func TestEngine_FourthModifyEscalates(t *testing.T) {
	collabs := testCollabs()
	notifier := collabs.Notifier.(*collab.MemoryNotifier)
	eng, _ := newTestEngine(t, collabs)

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	modify := schema.Decision{Kind: schema.DecisionModify, Feedback: "tighten the timeline"}
	for i := 0; i < 3; i++ {
		outcome, err := eng.Resume(context.Background(), runID, modify)
		require.NoError(t, err)
		require.Equal(t, schema.OutcomeSuspended, outcome)
	}

	outcome, err := eng.Resume(context.Background(), runID, modify)
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCompleted, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.TerminalEscalated, s.CurrentStep)
	assert.Equal(t, "iteration limit exceeded", s.TerminalReason)
	assert.Equal(t, 3, s.IterationCount)
	assert.Empty(t, notifier.Sent)

	require.NotEmpty(t, s.ErrorLog)
	last := s.ErrorLog[len(s.ErrorLog)-1]
	assert.Equal(t, schema.StepReview, last.Step)
	assert.Equal(t, schema.ErrCodeIterationLimit, last.Code)

	events, err := eng.Events(context.Background(), runID, 0)
	require.NoError(t, err)
	var sawLimit, sawEscalation bool
	for _, ev := range events {
		switch ev.Type {
		case schema.EventIterationLimitExceeded:
			sawLimit = true
		case schema.EventEscalationRaised:
			sawEscalation = true
		}
	}
	assert.True(t, sawLimit)
	assert.True(t, sawEscalation)
}

func TestEngine_ResumeNonSuspendedRun(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), runID, schema.Decision{Kind: schema.DecisionApprove})
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), runID, schema.Decision{Kind: schema.DecisionApprove})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInvalidTransition, errCode(t, err))
}

func TestEngine_InvalidDecisionRejected(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), runID, schema.Decision{Kind: schema.DecisionModify})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))

	// The run stays suspended and resumable after the bad request.
	outcome, err := eng.Resume(context.Background(), runID, schema.Decision{Kind: schema.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCompleted, outcome)
}

// racingStore simulates a duplicate resume winning the version check between
// this caller's read and its checkpoint.
type racingStore struct {
	store.Store
	raced bool
}

func (r *racingStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	run, err := r.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Suspended && !r.raced {
		r.raced = true
		winner, err := r.Store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if _, err := r.Store.Checkpoint(ctx, winner, winner.Version); err != nil {
			return nil, err
		}
	}
	return run, nil
}

func TestEngine_DuplicateResumeConflicts(t *testing.T) {
	st := &racingStore{Store: store.NewMemoryStore()}
	eng, err := New(st, testCollabs(), nil, Config{RetryBase: time.Millisecond})
	require.NoError(t, err)

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), runID, schema.Decision{Kind: schema.DecisionApprove})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, errCode(t, err))
}

// --- branching ---

func TestEngine_NoAlternativesSkipsExposure(t *testing.T) {
	collabs := testCollabs()
	eng, _ := newTestEngine(t, collabs)

	event := supplierFailureEvent()
	event.Payload["supplier_id"] = "UNQ-404" // no qualified backups

	runID, outcome, err := eng.Start(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeSuspended, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.True(t, s.NoAlternatives)
	assert.Nil(t, s.Impact)
	assert.Nil(t, s.RiskScore)

	require.NotNil(t, s.Plan)
	assert.True(t, s.Plan.ContingencyOnly)
	assert.Empty(t, s.Plan.OrderChanges)

	for _, f := range s.Findings {
		assert.NotEqual(t, state.FindingPricingQuote, f.Kind)
		assert.NotEqual(t, state.FindingCandidateSupplier, f.Kind)
	}
}

func TestEngine_CriticalEventCarriesEscalationNotice(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	event := state.DisruptionEvent{
		Category: schema.CategoryGeopolitical,
		Payload:  map[string]any{"region": "Asia", "description": "export controls announced"},
	}
	runID, outcome, err := eng.Start(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeSuspended, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.SeverityCritical, s.Severity)

	notices := 0
	for _, f := range s.Findings {
		if f.Kind == state.FindingEscalationNotice {
			notices++
		}
	}
	assert.Equal(t, 1, notices, "exactly one escalation notice despite policy firing too")
}

// --- degradation ---

func TestEngine_FallbackSkipsFailedPerceptionStep(t *testing.T) {
	collabs := testCollabs()
	collabs.SOPs = failingSOPs{}
	eng, _ := newTestEngine(t, collabs)

	runID, outcome, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeSuspended, outcome, "run degrades past assess_impact")

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, s.Plan)

	require.NotEmpty(t, s.ErrorLog)
	assert.Equal(t, schema.StepAssessImpact, s.ErrorLog[0].Step)
	assert.Equal(t, schema.ErrCodeRetryExhausted, s.ErrorLog[0].Code)

	for _, f := range s.Findings {
		assert.NotEqual(t, state.FindingSOPExcerpt, f.Kind)
	}
}

func TestEngine_ClassifyFailureTerminates(t *testing.T) {
	collabs := testCollabs()
	collabs.Alerts = failingAlerts{}
	eng, _ := newTestEngine(t, collabs)

	runID, outcome, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeFailed, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.TerminalFailed, s.CurrentStep)
	assert.Equal(t, "unrecoverable failure in step classify", s.TerminalReason)
}

func TestEngine_PartialOutcomeOnWriteFailure(t *testing.T) {
	collabs := testCollabs()
	collabs.Planner = stubPlanner{plan: &state.Plan{
		ID:      "PLAN-test",
		Summary: "notify and re-route",
		Actions: []state.PlannedAction{{Priority: 1, Action: "Activate backup supplier"}},
		Notifications: []state.NotificationDraft{{
			Channel:    "slack",
			Message:    "disruption response underway",
			Recipients: []string{"procurement-team"},
		}},
		OrderChanges: []state.OrderChange{{POID: "PO-MISSING", NewSupplier: "ALT-003"}},
	}}
	eng, _ := newTestEngine(t, collabs)

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	outcome, err := eng.Resume(context.Background(), runID, schema.Decision{Kind: schema.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomePartial, outcome)

	s, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.TerminalDone, s.CurrentStep)
	require.Len(t, s.Receipts, 1)
	assert.Equal(t, "notification", s.Receipts[0].Kind)

	var failed bool
	for _, entry := range s.ErrorLog {
		if entry.Step == schema.StepExecuteActions {
			failed = true
		}
	}
	assert.True(t, failed)

	events, err := eng.Events(context.Background(), runID, 0)
	require.NoError(t, err)
	var sawWriteFailed bool
	for _, ev := range events {
		if ev.Type == schema.EventWriteActionFailed {
			sawWriteFailed = true
		}
	}
	assert.True(t, sawWriteFailed)
}

// --- intake and inspection ---

func TestEngine_InvalidEventRejected(t *testing.T) {
	eng, st := newTestEngine(t, testCollabs())

	_, outcome, err := eng.Start(context.Background(), state.DisruptionEvent{
		Category: "alien_invasion",
		Payload:  map[string]any{},
	})
	require.Error(t, err)
	assert.Equal(t, schema.OutcomeFailed, outcome)
	assert.Equal(t, schema.ErrCodeValidation, errCode(t, err))

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs, "no run is created for an invalid event")
}

func TestEngine_GetStateIsReadOnly(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	first, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	first.Severity = schema.SeverityLow
	first.Findings = nil
	first.Plan.Summary = "tampered"

	second, err := eng.GetState(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.SeverityHigh, second.Severity)
	assert.NotEmpty(t, second.Findings)
	assert.NotEqual(t, "tampered", second.Plan.Summary)
}

func TestEngine_InspectQueriesState(t *testing.T) {
	eng, _ := newTestEngine(t, testCollabs())

	runID, _, err := eng.Start(context.Background(), supplierFailureEvent())
	require.NoError(t, err)

	severity, err := eng.Inspect(context.Background(), runID, ".severity")
	require.NoError(t, err)
	assert.Equal(t, "high", severity)

	exposure, err := eng.Inspect(context.Background(), runID, ".financial_impact.total_exposure")
	require.NoError(t, err)
	assert.Greater(t, exposure.(float64), 0.0)

	_, err = eng.Inspect(context.Background(), "no-such-run", ".severity")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, errCode(t, err))
}
