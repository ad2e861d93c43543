// Package collab defines the external collaborator surfaces the response
// steps read from and write to. Steps never reach past these interfaces;
// everything a step learns about the world arrives through one of them.
package collab

import (
	"context"
	"time"

	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// SKU is one inventory line item.
type SKU struct {
	ID           string  `json:"sku"`
	Name         string  `json:"name"`
	Stock        int     `json:"stock"`
	ReorderPoint int     `json:"reorder_point"`
	SupplierID   string  `json:"supplier_id"`
	UnitCost     float64 `json:"unit_cost"`
	Category     string  `json:"category"`
}

// BelowReorder reports whether stock has fallen under the reorder point.
func (s SKU) BelowReorder() bool { return s.Stock < s.ReorderPoint }

// PurchaseOrder is one open or in-transit order with a supplier.
type PurchaseOrder struct {
	POID             string  `json:"po_id"`
	SupplierID       string  `json:"supplier_id"`
	SKU              string  `json:"sku"`
	Quantity         int     `json:"quantity"`
	Status           string  `json:"status"`
	ExpectedDelivery string  `json:"expected_delivery"`
	TotalValue       float64 `json:"total_value"`
}

// Alert is one entry from the external risk monitoring feed.
type Alert struct {
	AlertID   string          `json:"alert_id"`
	Region    string          `json:"region"`
	Category  schema.Category `json:"category"`
	Headline  string          `json:"headline"`
	Severity  string          `json:"severity"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Details   string          `json:"details"`
}

// Precedent is one historical disruption record with its resolution.
type Precedent struct {
	Event               string          `json:"event"`
	Type                schema.Category `json:"type"`
	DurationDays        int             `json:"duration_days"`
	AffectedSuppliers   []string        `json:"affected_suppliers"`
	Response            string          `json:"response"`
	CostImpact          float64         `json:"cost_impact"`
	ResolutionTimeHours int             `json:"resolution_time_hours"`
}

// Quote is a supplier's current commercial terms for one SKU.
type Quote struct {
	SupplierID   string  `json:"supplier_id"`
	SKU          string  `json:"sku"`
	Price        float64 `json:"price"`
	LeadTimeDays int     `json:"lead_time_days"`
	MOQ          int     `json:"moq"`
}

// SOPSection is one retrieved standard-operating-procedure document.
type SOPSection struct {
	ID       string          `json:"id"`
	Category schema.Category `json:"category"`
	Content  string          `json:"content"`
}

// DocMatch is one semantic-search hit against the supplier document corpus.
type DocMatch struct {
	SupplierID string  `json:"supplier_id"`
	Region     string  `json:"region"`
	Tier       string  `json:"tier"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// InventoryStore answers which SKUs and purchase orders a disruption touches.
type InventoryStore interface {
	SKUsBySupplier(ctx context.Context, supplierID string) ([]SKU, error)
	OpenOrdersBySupplier(ctx context.Context, supplierID string) ([]PurchaseOrder, error)
}

// AlertFeed polls external risk monitoring for region/category alerts.
type AlertFeed interface {
	Fetch(ctx context.Context, region string, category schema.Category) ([]Alert, error)
}

// HistoryLog retrieves past disruption responses by category.
type HistoryLog interface {
	Precedents(ctx context.Context, category schema.Category) ([]Precedent, error)
}

// PricingService quotes current supplier terms for a SKU.
type PricingService interface {
	Quote(ctx context.Context, supplierID, sku string) (*Quote, error)
}

// SOPWiki retrieves the response protocol for a disruption category.
type SOPWiki interface {
	Lookup(ctx context.Context, category schema.Category) (*SOPSection, error)
}

// DocSearch performs semantic search over supplier qualification documents.
type DocSearch interface {
	Search(ctx context.Context, query string, topK int) ([]DocMatch, error)
}

// ImpactCalculator turns affected orders and alternative quotes into a
// structured financial exposure estimate plus a bounded risk score.
type ImpactCalculator interface {
	Calculate(ctx context.Context, orders []PurchaseOrder, quotes []Quote) (*state.FinancialImpact, float64, error)
}

// Planner drafts a structured response plan from everything the run has
// gathered. Revision feedback from prior iterations is passed through.
type Planner interface {
	Draft(ctx context.Context, s *state.WorkflowState) (*state.Plan, error)
}

// Notifier delivers a stakeholder notification. World-changing; callers must
// hold gate authorization before invoking it.
type Notifier interface {
	Send(ctx context.Context, draft state.NotificationDraft) (*state.WriteReceipt, error)
}

// OrderWriter applies a purchase-order re-route in the ERP system.
// World-changing; callers must hold gate authorization before invoking it.
type OrderWriter interface {
	UpdateOrder(ctx context.Context, change state.OrderChange) (*state.WriteReceipt, error)
}

// Set bundles every collaborator a run needs. Steps pick out the ones they use.
type Set struct {
	Inventory InventoryStore
	Alerts    AlertFeed
	History   HistoryLog
	Pricing   PricingService
	SOPs      SOPWiki
	Docs      DocSearch
	Impact    ImpactCalculator
	Planner   Planner
	Notifier  Notifier
	Orders    OrderWriter
}

// Unavailable wraps a collaborator failure as a retryable availability error.
func Unavailable(name string, cause error) *schema.ResponderError {
	return schema.NewErrorf(schema.ErrCodeCollaboratorUnavailable,
		"collaborator %s unavailable", name).WithCause(cause)
}

// Timeout wraps a collaborator deadline overrun as a retryable timeout error.
func Timeout(name string, cause error) *schema.ResponderError {
	return schema.NewErrorf(schema.ErrCodeCollaboratorTimeout,
		"collaborator %s timed out", name).WithCause(cause)
}
