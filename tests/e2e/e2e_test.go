package e2e

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsight/responder/internal/collab"
	"github.com/chainsight/responder/internal/engine"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/internal/store"
	"github.com/chainsight/responder/pkg/schema"
)

// --- Test harness ---

type harness struct {
	t        *testing.T
	dbPath   string
	store    *store.LibSQLStore
	engine   *engine.Engine
	notifier *collab.MemoryNotifier
	orders   *collab.MemoryOrderWriter
}

type stubDocs struct{}

func (stubDocs) Search(ctx context.Context, query string, topK int) ([]collab.DocMatch, error) {
	return nil, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	h := &harness{t: t, dbPath: dbPath}
	h.open()

	require.NoError(t, collab.Seed(context.Background(), h.store.DB()))
	return h
}

// open builds the store, collaborators, and engine. Called again after close
// to simulate a full process restart.
func (h *harness) open() {
	h.t.Helper()

	s, err := store.NewLibSQLStore("file:" + h.dbPath)
	require.NoError(h.t, err)
	require.NoError(h.t, s.Migrate(context.Background()))
	h.t.Cleanup(func() { _ = s.Close() })

	h.notifier = &collab.MemoryNotifier{}
	h.orders = &collab.MemoryOrderWriter{}

	collabs := &collab.Set{
		Inventory: collab.NewSQLInventory(s.DB()),
		Alerts:    collab.MemoryAlertFeed{},
		History:   collab.MemoryHistory{},
		Pricing:   collab.MemoryPricing{},
		SOPs:      collab.MemorySOPWiki{},
		Docs:      stubDocs{},
		Impact:    collab.StandardImpactCalculator{},
		Planner:   collab.TemplatePlanner{},
		Notifier:  h.notifier,
		Orders:    h.orders,
	}

	eng, err := engine.New(s, collabs, nil, engine.Config{})
	require.NoError(h.t, err)

	h.store = s
	h.engine = eng
}

// restart closes the store and rebuilds everything from the database file.
func (h *harness) restart() {
	h.t.Helper()
	require.NoError(h.t, h.store.Close())
	h.open()
}

func supplierFailure() state.DisruptionEvent {
	return state.DisruptionEvent{
		Category: schema.CategorySupplierFailure,
		Payload: map[string]any{
			"supplier_id": "TPA-001",
			"region":      "Asia",
			"description": "primary supplier declared force majeure",
		},
	}
}

// --- Tests ---

func TestE2E_SuspendedRunSurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	runID, outcome, err := h.engine.Start(ctx, supplierFailure())
	require.NoError(t, err)
	require.Equal(t, schema.OutcomeSuspended, outcome)

	// Full process restart: nothing in memory survives, only the database.
	h.restart()

	s, err := h.engine.GetState(ctx, runID)
	require.NoError(t, err)
	assert.True(t, s.Suspended)
	assert.Equal(t, schema.StepReview, s.CurrentStep)
	require.NotNil(t, s.Plan)
	require.NotNil(t, s.Impact)
	assert.Equal(t, schema.SeverityHigh, s.Severity)

	outcome, err = h.engine.Resume(ctx, runID, schema.Decision{
		Kind:      schema.DecisionApprove,
		DecidedBy: "ops-lead",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCompleted, outcome)

	s, err = h.engine.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, schema.TerminalDone, s.CurrentStep)
	assert.NotEmpty(t, s.Receipts)
	assert.NotEmpty(t, h.notifier.Sent)
	assert.NotEmpty(t, h.orders.Updates)
}

func TestE2E_ModifyLoopAcrossRestarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	runID, _, err := h.engine.Start(ctx, supplierFailure())
	require.NoError(t, err)

	outcome, err := h.engine.Resume(ctx, runID, schema.Decision{
		Kind:     schema.DecisionModify,
		Feedback: "notification only",
	})
	require.NoError(t, err)
	require.Equal(t, schema.OutcomeSuspended, outcome)

	h.restart()

	s, err := h.engine.GetState(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.IterationCount)
	require.Len(t, s.Feedback, 1)
	require.NotNil(t, s.Plan)
	assert.Equal(t, 1, s.Plan.Iteration)
	assert.Empty(t, s.Plan.OrderChanges, "feedback survives the restart")

	outcome, err = h.engine.Resume(ctx, runID, schema.Decision{Kind: schema.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, schema.OutcomeCompleted, outcome)
	assert.Empty(t, h.orders.Updates)
}

func TestE2E_EventLogIsOrderedAndComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	runID, _, err := h.engine.Start(ctx, supplierFailure())
	require.NoError(t, err)
	_, err = h.engine.Resume(ctx, runID, schema.Decision{Kind: schema.DecisionApprove})
	require.NoError(t, err)

	events, err := h.engine.Events(ctx, runID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var last int64
	types := make(map[string]int)
	for _, ev := range events {
		assert.Greater(t, ev.Sequence, last, "sequence strictly increases")
		last = ev.Sequence
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[schema.EventRunStarted])
	assert.Equal(t, 1, types[schema.EventRunSuspended])
	assert.Equal(t, 1, types[schema.EventDecisionRequested])
	assert.Equal(t, 1, types[schema.EventRunResumed])
	assert.Equal(t, 1, types[schema.EventRunCompleted])
	assert.NotZero(t, types[schema.EventStepApplied])
}

func TestE2E_SQLInventoryFeedsAssessment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	runID, _, err := h.engine.Start(ctx, supplierFailure())
	require.NoError(t, err)

	s, err := h.engine.GetState(ctx, runID)
	require.NoError(t, err)

	var skus, orders int
	for _, f := range s.Findings {
		switch f.Kind {
		case state.FindingAffectedSKU:
			skus++
		case state.FindingAffectedOrder:
			orders++
		}
	}
	assert.NotZero(t, skus, "seeded inventory reaches the run")
	assert.NotZero(t, orders, "seeded purchase orders reach the run")
}
