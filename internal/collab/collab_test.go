package collab

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

func TestMemoryInventory_SKUsBySupplier(t *testing.T) {
	inv := MemoryInventory{}
	skus, err := inv.SKUsBySupplier(context.Background(), "TPA-001")
	require.NoError(t, err)
	require.Len(t, skus, 3)
	for _, s := range skus {
		assert.Equal(t, "TPA-001", s.SupplierID)
	}

	// MCU-3300 stock sits under its reorder point.
	var low int
	for _, s := range skus {
		if s.BelowReorder() {
			low++
			assert.Equal(t, "SKU-MCU3300", s.ID)
		}
	}
	assert.Equal(t, 1, low)
}

func TestMemoryInventory_OpenOrders(t *testing.T) {
	inv := MemoryInventory{}
	orders, err := inv.OpenOrdersBySupplier(context.Background(), "TPA-001")
	require.NoError(t, err)
	require.Len(t, orders, 3)

	var total float64
	for _, po := range orders {
		total += po.TotalValue
	}
	assert.InDelta(t, 81250.00, total, 0.01)
}

func TestMemoryHistory_FallsBackToFullLog(t *testing.T) {
	h := MemoryHistory{}
	precedents, err := h.Precedents(context.Background(), schema.CategoryGeopolitical)
	require.NoError(t, err)
	require.Len(t, precedents, 1)
	assert.Equal(t, "Taiwan strait tensions 2024", precedents[0].Event)
}

func TestMemoryPricing_QuoteAndMiss(t *testing.T) {
	p := MemoryPricing{}
	q, err := p.Quote(context.Background(), "ALT-003", "SKU-MCU2200")
	require.NoError(t, err)
	assert.Equal(t, 5.25, q.Price)
	assert.Equal(t, 12, q.LeadTimeDays)

	_, err = p.Quote(context.Background(), "ALT-003", "SKU-RES10K")
	var rerr *schema.ResponderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, schema.ErrCodeNotFound, rerr.Code)
}

func TestMemorySOPWiki_Lookup(t *testing.T) {
	w := MemorySOPWiki{}
	sop, err := w.Lookup(context.Background(), schema.CategorySupplierFailure)
	require.NoError(t, err)
	assert.Equal(t, "SOP-001", sop.ID)
	assert.Contains(t, sop.Content, "exceeds $100K")
}

func TestStandardImpactCalculator_FlatRates(t *testing.T) {
	calc := StandardImpactCalculator{}
	orders := []PurchaseOrder{
		{POID: "PO-1", SKU: "SKU-A", Quantity: 100, TotalValue: 60000},
		{POID: "PO-2", SKU: "SKU-B", Quantity: 100, TotalValue: 40000},
	}

	impact, risk, err := calc.Calculate(context.Background(), orders, nil)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, impact.OriginalValue)
	assert.Equal(t, 15000.0, impact.CostDelta)
	assert.Equal(t, 8000.0, impact.ExpediteFees)
	assert.Equal(t, 250000.0, impact.RevenueAtRisk)
	assert.Equal(t, 23000.0, impact.TotalExposure)
	assert.Equal(t, "USD", impact.Currency)
	assert.Equal(t, 0.15, risk)
}

func TestStandardImpactCalculator_QuotedDelta(t *testing.T) {
	calc := StandardImpactCalculator{}
	orders := []PurchaseOrder{
		{POID: "PO-2024-001", SKU: "SKU-MCU2200", Quantity: 10000, TotalValue: 45000},
	}
	quotes := []Quote{
		{SupplierID: "ALT-003", SKU: "SKU-MCU2200", Price: 5.25, LeadTimeDays: 12},
		{SupplierID: "MFG-005", SKU: "SKU-MCU2200", Price: 9.00, LeadTimeDays: 25},
	}

	impact, risk, err := calc.Calculate(context.Background(), orders, quotes)
	require.NoError(t, err)
	// Cheapest alternative is $5.25 vs original $4.50 unit: $0.75 x 10000.
	assert.Equal(t, 7500.0, impact.CostDelta)
	assert.InDelta(t, 0.17, risk, 0.001)
}

func TestStandardImpactCalculator_RiskCapped(t *testing.T) {
	calc := StandardImpactCalculator{}
	orders := []PurchaseOrder{{POID: "PO-1", SKU: "SKU-A", Quantity: 10, TotalValue: 10}}
	quotes := []Quote{{SupplierID: "X", SKU: "SKU-A", Price: 100}}

	_, risk, err := calc.Calculate(context.Background(), orders, quotes)
	require.NoError(t, err)
	assert.Equal(t, 0.85, risk)
}

func quoteFinding(t *testing.T, q Quote) state.Finding {
	t.Helper()
	data, err := json.Marshal(q)
	require.NoError(t, err)
	return state.Finding{Kind: state.FindingPricingQuote, Data: data}
}

func orderFinding(t *testing.T, po PurchaseOrder) state.Finding {
	t.Helper()
	data, err := json.Marshal(po)
	require.NoError(t, err)
	return state.Finding{Kind: state.FindingAffectedOrder, Data: data}
}

func TestTemplatePlanner_Reroutes(t *testing.T) {
	s := state.New("run-1", state.DisruptionEvent{
		ID:       "evt-1",
		Category: schema.CategorySupplierFailure,
		Payload:  map[string]any{"supplier_id": "TPA-001"},
	})
	s.Severity = schema.SeverityHigh
	s.Findings = []state.Finding{
		orderFinding(t, PurchaseOrder{POID: "PO-2024-001", SupplierID: "TPA-001", SKU: "SKU-MCU2200", Quantity: 10000, TotalValue: 45000}),
		quoteFinding(t, Quote{SupplierID: "ALT-003", SKU: "SKU-MCU2200", Price: 5.25, LeadTimeDays: 12}),
		quoteFinding(t, Quote{SupplierID: "MFG-005", SKU: "SKU-MCU2200", Price: 9.00, LeadTimeDays: 25}),
	}

	plan, err := TemplatePlanner{}.Draft(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, plan.OrderChanges, 1)
	assert.Equal(t, "PO-2024-001", plan.OrderChanges[0].POID)
	assert.Equal(t, "ALT-003", plan.OrderChanges[0].NewSupplier)
	assert.Equal(t, 5.25, plan.OrderChanges[0].Terms.UnitPrice)
	assert.False(t, plan.ContingencyOnly)

	require.Len(t, plan.Notifications, 1)
	assert.Contains(t, plan.Notifications[0].Recipients, "vp-supply-chain")
}

func TestTemplatePlanner_ContingencyWhenNoAlternatives(t *testing.T) {
	s := state.New("run-1", state.DisruptionEvent{ID: "evt-1", Category: schema.CategoryQualityRecall})
	s.NoAlternatives = true

	plan, err := TemplatePlanner{}.Draft(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, plan.ContingencyOnly)
	assert.Empty(t, plan.OrderChanges)
	require.NotEmpty(t, plan.Actions)
	assert.Contains(t, plan.Actions[0].Action, "inventory runway")
}

func TestTemplatePlanner_FeedbackDropsOrderChanges(t *testing.T) {
	s := state.New("run-1", state.DisruptionEvent{
		ID: "evt-1", Category: schema.CategorySupplierFailure,
		Payload: map[string]any{"supplier_id": "TPA-001"},
	})
	s.Findings = []state.Finding{
		orderFinding(t, PurchaseOrder{POID: "PO-2024-001", SKU: "SKU-MCU2200", Quantity: 10000, TotalValue: 45000}),
		quoteFinding(t, Quote{SupplierID: "ALT-003", SKU: "SKU-MCU2200", Price: 5.25}),
	}
	s.IterationCount = 1
	s.Feedback = []string{"Proceed with notifications only, skip order changes for now"}

	plan, err := TemplatePlanner{}.Draft(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, plan.OrderChanges)
	assert.NotEmpty(t, plan.Notifications)
	assert.Equal(t, 1, plan.Iteration)
}

func TestMemoryOrderWriter_UnknownPO(t *testing.T) {
	w := &MemoryOrderWriter{}
	_, err := w.UpdateOrder(context.Background(), state.OrderChange{POID: "PO-9999", NewSupplier: "ALT-003"})
	var rerr *schema.ResponderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, schema.ErrCodeNotFound, rerr.Code)
}

func TestMemoryNotifier_Receipt(t *testing.T) {
	n := &MemoryNotifier{}
	r, err := n.Send(context.Background(), state.NotificationDraft{
		Channel: "slack", Message: "test", Recipients: []string{"procurement-team"},
	})
	require.NoError(t, err)
	assert.Equal(t, "notification", r.Kind)
	assert.NotEmpty(t, r.Reference)
	require.Len(t, n.Sent, 1)
}

func TestChromemDocSearch_FindsBackupSemiconductorSupplier(t *testing.T) {
	ds, err := NewChromemDocSearch("")
	require.NoError(t, err)

	matches, err := ds.Search(context.Background(), "alternative backup semiconductor MCU supplier", 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.SupplierID)
	}
	assert.Contains(t, ids, "ALT-003")
}
