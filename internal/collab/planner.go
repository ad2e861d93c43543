package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chainsight/responder/internal/state"
)

// TemplatePlanner drafts response plans from the run's gathered findings.
// Deterministic; the same state always yields the same plan shape, which is
// what the review loop needs to make revision feedback meaningful.
type TemplatePlanner struct{}

func (TemplatePlanner) Draft(ctx context.Context, s *state.WorkflowState) (*state.Plan, error) {
	plan := &state.Plan{
		ID:          "PLAN-" + uuid.NewString()[:8],
		Iteration:   s.IterationCount,
		GeneratedAt: time.Now().UTC(),
	}

	supplier := s.Event.Supplier()
	plan.Summary = planSummary(s, supplier)

	if s.NoAlternatives {
		plan.ContingencyOnly = true
		plan.Actions = contingencyActions()
	} else {
		plan.Actions = standardActions()
		plan.OrderChanges = rerouteChanges(s, supplier)
	}

	plan.Notifications = notificationDrafts(s, supplier)

	// Revision feedback narrows the plan rather than regrowing it.
	for _, fb := range s.Feedback {
		applyFeedback(plan, fb)
	}

	return plan, nil
}

func planSummary(s *state.WorkflowState, supplier string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Response plan for %s disruption", s.Event.Category)
	if supplier != "" {
		fmt.Fprintf(&b, " affecting supplier %s", supplier)
	}
	if s.Severity != "" {
		fmt.Fprintf(&b, " (severity: %s)", s.Severity)
	}
	if s.Impact != nil {
		fmt.Fprintf(&b, ". Estimated exposure $%.2f across %d findings", s.Impact.TotalExposure, len(s.Findings))
	}
	if len(s.Feedback) > 0 {
		fmt.Fprintf(&b, ". Revision %d incorporating reviewer feedback", s.IterationCount)
	}
	return b.String()
}

func standardActions() []state.PlannedAction {
	return []state.PlannedAction{
		{Priority: 1, Action: "Activate backup supplier agreements for affected SKUs", Timeline: "Immediate (0-4 hours)", Owner: "Procurement Manager"},
		{Priority: 2, Action: "Place expedited orders with qualified alternative suppliers", Timeline: "Within 24 hours", Owner: "Procurement Manager"},
		{Priority: 3, Action: "Notify downstream logistics and warehouse teams of timeline changes", Timeline: "Within 24 hours", Owner: "Logistics Coordinator"},
		{Priority: 4, Action: "Update affected purchase orders in ERP system", Timeline: "Within 48 hours", Owner: "Procurement Manager"},
		{Priority: 5, Action: "Schedule follow-up review and document lessons learned", Timeline: "7 days post-resolution", Owner: "VP Supply Chain"},
	}
}

func contingencyActions() []state.PlannedAction {
	return []state.PlannedAction{
		{Priority: 1, Action: "Quantify inventory runway for affected SKUs against 30-day demand", Timeline: "Immediate (0-4 hours)", Owner: "Procurement Manager"},
		{Priority: 2, Action: "Open emergency qualification track for unqualified alternate suppliers", Timeline: "Within 24 hours", Owner: "Supplier Quality"},
		{Priority: 3, Action: "Ration remaining stock across production lines by revenue priority", Timeline: "Within 24 hours", Owner: "Production Planning"},
		{Priority: 4, Action: "Brief leadership on supply gap and recovery timeline", Timeline: "Within 48 hours", Owner: "VP Supply Chain"},
	}
}

// rerouteChanges proposes moving each affected PO to the best candidate
// supplier found during perception, carrying the quoted terms.
func rerouteChanges(s *state.WorkflowState, supplier string) []state.OrderChange {
	quotesBySKU := make(map[string]Quote)
	for _, f := range s.Findings {
		if f.Kind != state.FindingPricingQuote {
			continue
		}
		var q Quote
		if err := json.Unmarshal(f.Data, &q); err != nil {
			continue
		}
		if cur, ok := quotesBySKU[q.SKU]; !ok || q.Price < cur.Price {
			quotesBySKU[q.SKU] = q
		}
	}

	var changes []state.OrderChange
	for _, f := range s.Findings {
		if f.Kind != state.FindingAffectedOrder {
			continue
		}
		var po PurchaseOrder
		if err := json.Unmarshal(f.Data, &po); err != nil {
			continue
		}
		q, ok := quotesBySKU[po.SKU]
		if !ok || q.SupplierID == supplier {
			continue
		}
		changes = append(changes, state.OrderChange{
			POID:        po.POID,
			NewSupplier: q.SupplierID,
			Terms: state.OrderTerms{
				UnitPrice:    q.Price,
				LeadTimeDays: q.LeadTimeDays,
				Quantity:     po.Quantity,
			},
		})
	}
	return changes
}

func notificationDrafts(s *state.WorkflowState, supplier string) []state.NotificationDraft {
	recipients := []string{"procurement-team", "logistics-ops"}
	if s.Severity == "critical" || s.Severity == "high" {
		recipients = append(recipients, "vp-supply-chain")
	}
	msg := fmt.Sprintf("Disruption response plan drafted for %s event", s.Event.Category)
	if supplier != "" {
		msg += fmt.Sprintf(" (supplier %s)", supplier)
	}
	if s.Impact != nil {
		msg += fmt.Sprintf(". Total exposure estimate: $%.2f.", s.Impact.TotalExposure)
	}
	return []state.NotificationDraft{{
		Channel:    "both",
		Message:    msg,
		Recipients: recipients,
	}}
}

// applyFeedback interprets reviewer instructions the plan drafter
// understands. Unrecognized feedback is carried in the summary only.
func applyFeedback(plan *state.Plan, feedback string) {
	fb := strings.ToLower(feedback)
	switch {
	case strings.Contains(fb, "no order") || strings.Contains(fb, "without order") ||
		strings.Contains(fb, "skip order") || strings.Contains(fb, "notification only"):
		plan.OrderChanges = nil
	case strings.Contains(fb, "no notification") || strings.Contains(fb, "skip notification"):
		plan.Notifications = nil
	case strings.Contains(fb, "slack only"):
		for i := range plan.Notifications {
			plan.Notifications[i].Channel = "slack"
		}
	case strings.Contains(fb, "email only"):
		for i := range plan.Notifications {
			plan.Notifications[i].Channel = "email"
		}
	}
}

var _ Planner = TemplatePlanner{}
