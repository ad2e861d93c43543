package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// Reference dataset used by the in-memory collaborators and the database
// seeder. Stands in for the ERP, pricing, and wiki systems of record.

var ReferenceSKUs = []SKU{
	{ID: "SKU-MCU2200", Name: "Microcontroller MCU-2200", Stock: 1200, ReorderPoint: 500, SupplierID: "TPA-001", UnitCost: 4.50, Category: "semiconductor"},
	{ID: "SKU-MCU3300", Name: "Microcontroller MCU-3300", Stock: 300, ReorderPoint: 400, SupplierID: "TPA-001", UnitCost: 6.75, Category: "semiconductor"},
	{ID: "SKU-RES10K", Name: "Resistor 10K Ohm", Stock: 50000, ReorderPoint: 10000, SupplierID: "ECG-002", UnitCost: 0.02, Category: "passive"},
	{ID: "SKU-RES47K", Name: "Resistor 47K Ohm", Stock: 35000, ReorderPoint: 8000, SupplierID: "ECG-002", UnitCost: 0.02, Category: "passive"},
	{ID: "SKU-CAP100", Name: "Capacitor 100nF", Stock: 42000, ReorderPoint: 15000, SupplierID: "TPA-001", UnitCost: 0.05, Category: "passive"},
	{ID: "SKU-IND100", Name: "Inductor 100uH", Stock: 18000, ReorderPoint: 5000, SupplierID: "ECG-002", UnitCost: 0.08, Category: "passive"},
}

var ReferenceOrders = []PurchaseOrder{
	{POID: "PO-2024-001", SupplierID: "TPA-001", SKU: "SKU-MCU2200", Quantity: 10000, Status: "open", ExpectedDelivery: "2025-03-15", TotalValue: 45000.00},
	{POID: "PO-2024-002", SupplierID: "TPA-001", SKU: "SKU-MCU3300", Quantity: 5000, Status: "open", ExpectedDelivery: "2025-03-20", TotalValue: 33750.00},
	{POID: "PO-2024-003", SupplierID: "ECG-002", SKU: "SKU-RES10K", Quantity: 100000, Status: "open", ExpectedDelivery: "2025-03-05", TotalValue: 2000.00},
	{POID: "PO-2024-004", SupplierID: "TPA-001", SKU: "SKU-CAP100", Quantity: 50000, Status: "in_transit", ExpectedDelivery: "2025-02-28", TotalValue: 2500.00},
}

var referenceHistory = []Precedent{
	{Event: "Shenzhen port closure 2023", Type: schema.CategoryLogisticsDelay, DurationDays: 14, AffectedSuppliers: []string{"TPA-001", "PCK-009"}, Response: "Rerouted via Hong Kong air freight. Activated ALT-003 for urgent MCU orders.", CostImpact: 125000, ResolutionTimeHours: 6},
	{Event: "TPA-001 quality excursion Q2 2023", Type: schema.CategoryQualityRecall, DurationDays: 21, AffectedSuppliers: []string{"TPA-001"}, Response: "Quarantined affected lots. Shifted 60% allocation to ALT-003 for 3 weeks.", CostImpact: 85000, ResolutionTimeHours: 4},
	{Event: "Semiconductor price spike 2022", Type: schema.CategoryPriceSpike, DurationDays: 90, AffectedSuppliers: []string{"TPA-001", "ALT-003", "RAW-008"}, Response: "Locked in 6-month forward contracts. Negotiated volume discounts with MFG-005.", CostImpact: 340000, ResolutionTimeHours: 48},
	{Event: "Taiwan strait tensions 2024", Type: schema.CategoryGeopolitical, DurationDays: 30, AffectedSuppliers: []string{"ALT-003"}, Response: "Pre-positioned 30-day safety stock. Activated European backup suppliers.", CostImpact: 200000, ResolutionTimeHours: 12},
	{Event: "ECG-002 factory fire 2022", Type: schema.CategorySupplierFailure, DurationDays: 45, AffectedSuppliers: []string{"ECG-002"}, Response: "Switched passive components to ALT-004. Expedited orders via air freight.", CostImpact: 95000, ResolutionTimeHours: 8},
}

var referencePricing = map[string]Quote{
	"TPA-001/SKU-MCU2200": {SupplierID: "TPA-001", SKU: "SKU-MCU2200", Price: 4.50, LeadTimeDays: 18, MOQ: 5000},
	"TPA-001/SKU-MCU3300": {SupplierID: "TPA-001", SKU: "SKU-MCU3300", Price: 6.75, LeadTimeDays: 18, MOQ: 5000},
	"TPA-001/SKU-CAP100":  {SupplierID: "TPA-001", SKU: "SKU-CAP100", Price: 0.05, LeadTimeDays: 14, MOQ: 10000},
	"ALT-003/SKU-MCU2200": {SupplierID: "ALT-003", SKU: "SKU-MCU2200", Price: 5.25, LeadTimeDays: 12, MOQ: 2000},
	"ALT-003/SKU-MCU3300": {SupplierID: "ALT-003", SKU: "SKU-MCU3300", Price: 7.80, LeadTimeDays: 12, MOQ: 2000},
	"ALT-004/SKU-RES10K":  {SupplierID: "ALT-004", SKU: "SKU-RES10K", Price: 0.025, LeadTimeDays: 10, MOQ: 500},
	"ALT-004/SKU-CAP100":  {SupplierID: "ALT-004", SKU: "SKU-CAP100", Price: 0.06, LeadTimeDays: 12, MOQ: 500},
	"ECG-002/SKU-RES10K":  {SupplierID: "ECG-002", SKU: "SKU-RES10K", Price: 0.02, LeadTimeDays: 8, MOQ: 1000},
	"ECG-002/SKU-RES47K":  {SupplierID: "ECG-002", SKU: "SKU-RES47K", Price: 0.02, LeadTimeDays: 8, MOQ: 1000},
	"ECG-002/SKU-IND100":  {SupplierID: "ECG-002", SKU: "SKU-IND100", Price: 0.08, LeadTimeDays: 8, MOQ: 1000},
	"MFG-005/SKU-MCU2200": {SupplierID: "MFG-005", SKU: "SKU-MCU2200", Price: 9.00, LeadTimeDays: 25, MOQ: 1000},
	"MFG-005/SKU-MCU3300": {SupplierID: "MFG-005", SKU: "SKU-MCU3300", Price: 13.50, LeadTimeDays: 25, MOQ: 1000},
}

var referenceSOPs = map[schema.Category]SOPSection{
	schema.CategorySupplierFailure: {ID: "SOP-001", Category: schema.CategorySupplierFailure, Content: "SOP-001: Supplier Failure Response Protocol\n" +
		"1. Immediately assess which SKUs and open POs are affected.\n" +
		"2. Check current inventory levels against 30-day demand forecast.\n" +
		"3. Activate pre-qualified backup suppliers within 4 hours.\n" +
		"4. Issue expedited POs to backup suppliers if stock falls below reorder point.\n" +
		"5. Notify logistics team of new inbound shipment timelines.\n" +
		"6. Escalate to VP Supply Chain if financial exposure exceeds $100K.\n" +
		"7. Schedule daily status calls until resolution.\n" +
		"8. Document lessons learned within 7 days of resolution."},
	schema.CategoryLogisticsDelay: {ID: "SOP-002", Category: schema.CategoryLogisticsDelay, Content: "SOP-002: Logistics Delay Response Protocol\n" +
		"1. Confirm delay duration and root cause with logistics provider.\n" +
		"2. Check if in-transit shipments can be rerouted via alternative ports/carriers.\n" +
		"3. Assess production impact based on current inventory runway.\n" +
		"4. If delay > 7 days, activate backup logistics provider (LOG-007).\n" +
		"5. Consider air freight for critical components (40% surcharge applies).\n" +
		"6. Update ERP delivery dates for affected POs.\n" +
		"7. Notify production planning of revised timelines."},
	schema.CategoryQualityRecall: {ID: "SOP-003", Category: schema.CategoryQualityRecall, Content: "SOP-003: Quality Recall Response Protocol\n" +
		"1. Quarantine all affected lots immediately.\n" +
		"2. Trace affected components through BOM to finished goods.\n" +
		"3. Issue supplier corrective action request (SCAR) within 24 hours.\n" +
		"4. Source replacement components from backup suppliers.\n" +
		"5. Conduct incoming inspection at 100% for next 3 shipments.\n" +
		"6. Review supplier scorecard and adjust quality rating."},
	schema.CategoryPriceSpike: {ID: "SOP-004", Category: schema.CategoryPriceSpike, Content: "SOP-004: Price Spike Response Protocol\n" +
		"1. Verify price increase validity with supplier.\n" +
		"2. Check contractual pricing commitments and long-term agreements.\n" +
		"3. Evaluate total cost impact across all affected SKUs.\n" +
		"4. Negotiate volume commitments for price protection.\n" +
		"5. Explore forward contracts to lock in current pricing.\n" +
		"6. If increase > 15%, trigger dual-sourcing evaluation."},
	schema.CategoryGeopolitical: {ID: "SOP-005", Category: schema.CategoryGeopolitical, Content: "SOP-005: Geopolitical Risk Response Protocol\n" +
		"1. Monitor situation via approved intelligence feeds.\n" +
		"2. Assess exposure by mapping all suppliers in affected region.\n" +
		"3. Pre-position 30-day safety stock for critical components.\n" +
		"4. Activate suppliers in unaffected regions.\n" +
		"5. Review trade compliance and sanctions implications.\n" +
		"6. Escalate to legal team if sanctions are involved."},
}

// backupSuppliers maps a primary supplier to its qualified alternates,
// ordered by preference.
var backupSuppliers = map[string][]string{
	"TPA-001": {"ALT-003", "MFG-005"},
	"ECG-002": {"ALT-004"},
}

// Backups returns the qualified backup suppliers for a primary, best first.
func Backups(primary string) []string {
	return backupSuppliers[primary]
}

// --- In-memory implementations ---

// MemoryInventory serves SKUs and orders from the reference dataset.
type MemoryInventory struct{}

func (MemoryInventory) SKUsBySupplier(ctx context.Context, supplierID string) ([]SKU, error) {
	var out []SKU
	for _, s := range ReferenceSKUs {
		if s.SupplierID == supplierID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (MemoryInventory) OpenOrdersBySupplier(ctx context.Context, supplierID string) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range ReferenceOrders {
		if po.SupplierID == supplierID && po.Status != "cancelled" {
			out = append(out, po)
		}
	}
	return out, nil
}

// MemoryAlertFeed synthesizes one alert per fetch, mirroring the upstream
// risk monitor's response shape.
type MemoryAlertFeed struct{}

func (MemoryAlertFeed) Fetch(ctx context.Context, region string, category schema.Category) ([]Alert, error) {
	label := strings.ReplaceAll(string(category), "_", " ")
	return []Alert{{
		AlertID:   "ALERT-" + uuid.NewString()[:8],
		Region:    region,
		Category:  category,
		Headline:  fmt.Sprintf("Major %s reported in %s", label, region),
		Severity:  "high",
		Source:    "Supply Chain Risk Monitor",
		Timestamp: time.Now().UTC(),
		Details: fmt.Sprintf("Significant %s detected affecting %s supply chains. "+
			"Multiple suppliers in the region reporting delays of 2-3 weeks. "+
			"Recommended action: activate backup suppliers and review affected purchase orders immediately.",
			label, region),
	}}, nil
}

// MemoryHistory serves the historical disruption log.
type MemoryHistory struct{}

func (MemoryHistory) Precedents(ctx context.Context, category schema.Category) ([]Precedent, error) {
	var out []Precedent
	for _, p := range referenceHistory {
		if p.Type == category {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, referenceHistory...)
	}
	return out, nil
}

// MemoryPricing serves the supplier price book.
type MemoryPricing struct{}

func (MemoryPricing) Quote(ctx context.Context, supplierID, sku string) (*Quote, error) {
	q, ok := referencePricing[supplierID+"/"+sku]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no pricing for supplier %s, SKU %s", supplierID, sku)
	}
	return &q, nil
}

// MemorySOPWiki serves the per-category response protocols.
type MemorySOPWiki struct{}

func (MemorySOPWiki) Lookup(ctx context.Context, category schema.Category) (*SOPSection, error) {
	sop, ok := referenceSOPs[category]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no SOP for category %s", category)
	}
	return &sop, nil
}

// MemoryNotifier records sent notifications instead of delivering them.
type MemoryNotifier struct {
	mu   sync.Mutex
	Sent []state.NotificationDraft
}

func (n *MemoryNotifier) Send(ctx context.Context, draft state.NotificationDraft) (*state.WriteReceipt, error) {
	n.mu.Lock()
	n.Sent = append(n.Sent, draft)
	n.mu.Unlock()

	detail, _ := json.Marshal(map[string]any{
		"channel":    draft.Channel,
		"recipients": draft.Recipients,
	})
	return &state.WriteReceipt{
		Kind:      "notification",
		Reference: "NTF-" + uuid.NewString()[:8],
		Detail:    detail,
		At:        time.Now().UTC(),
	}, nil
}

// MemoryOrderWriter records purchase-order updates instead of touching an ERP.
type MemoryOrderWriter struct {
	mu      sync.Mutex
	Updates []state.OrderChange
}

func (w *MemoryOrderWriter) UpdateOrder(ctx context.Context, change state.OrderChange) (*state.WriteReceipt, error) {
	for _, po := range ReferenceOrders {
		if po.POID == change.POID {
			w.mu.Lock()
			w.Updates = append(w.Updates, change)
			w.mu.Unlock()

			detail, _ := json.Marshal(map[string]any{
				"previous_supplier": po.SupplierID,
				"new_supplier":      change.NewSupplier,
			})
			return &state.WriteReceipt{
				Kind:      "purchase_order",
				Reference: change.POID,
				Detail:    detail,
				At:        time.Now().UTC(),
			}, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "purchase order not found: %s", change.POID)
}
