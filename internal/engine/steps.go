package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chainsight/responder/internal/collab"
	"github.com/chainsight/responder/internal/state"
	"github.com/chainsight/responder/pkg/schema"
)

// Step is one named unit of workflow logic: a function of (state,
// collaborators) to a state delta. Steps are idempotent with respect to
// re-invocation on the same input state so transient failures can retry.
type Step interface {
	Name() schema.StepName
	Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error)
}

// Registration binds a step to an optional CEL guard. A guard evaluating to
// false skips the step; routing proceeds as if it had applied an empty delta.
type Registration struct {
	Step  Step
	Guard string
}

// Registry is the closed set of executable steps.
type Registry struct {
	steps map[schema.StepName]Registration
}

func NewRegistry() *Registry {
	return &Registry{steps: make(map[schema.StepName]Registration)}
}

func (r *Registry) Register(reg Registration) {
	r.steps[reg.Step.Name()] = reg
}

func (r *Registry) Lookup(name schema.StepName) (Registration, error) {
	reg, ok := r.steps[name]
	if !ok {
		return Registration{}, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"no registered step named %q", string(name))
	}
	return reg, nil
}

// DefaultRegistry wires the full disruption-response step set. The exposure
// step is guarded so the no-alternatives path never fabricates an impact.
// StepFallback and the terminals are routing labels, not executable steps,
// and are deliberately absent.
func DefaultRegistry(gate Gate) *Registry {
	r := NewRegistry()
	r.Register(Registration{Step: classifyStep{}})
	r.Register(Registration{Step: assessImpactStep{}})
	r.Register(Registration{Step: findAlternativesStep{}})
	r.Register(Registration{Step: calculateExposureStep{}, Guard: `state.no_alternatives == false`})
	r.Register(Registration{Step: generatePlanStep{}})
	r.Register(Registration{Step: executeActionsStep{gate: gate}})
	return r
}

// --- classify ---

var baseSeverity = map[schema.Category]schema.Severity{
	schema.CategorySupplierFailure: schema.SeverityHigh,
	schema.CategoryLogisticsDelay:  schema.SeverityMedium,
	schema.CategoryQualityRecall:   schema.SeverityHigh,
	schema.CategoryPriceSpike:      schema.SeverityMedium,
	schema.CategoryGeopolitical:    schema.SeverityCritical,
}

var severityOrder = []schema.Severity{
	schema.SeverityLow, schema.SeverityMedium, schema.SeverityHigh, schema.SeverityCritical,
}

func bumpSeverity(s schema.Severity) schema.Severity {
	for i, v := range severityOrder {
		if v == s && i < len(severityOrder)-1 {
			return severityOrder[i+1]
		}
	}
	return s
}

type classifyStep struct{}

func (classifyStep) Name() schema.StepName { return schema.StepClassify }

// Run derives severity from the event category and expected duration, and
// records the current risk-feed alerts for the affected region.
func (classifyStep) Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error) {
	severity, ok := baseSeverity[s.Event.Category]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown event category %q", string(s.Event.Category))
	}
	if days, ok := s.Event.Payload["duration_days"].(float64); ok && days >= 30 {
		severity = bumpSeverity(severity)
	}

	delta := &state.Delta{Severity: severity}

	region := s.Event.Region()
	if region == "" {
		region = "Global"
	}
	alerts, err := c.Alerts.Fetch(ctx, region, s.Event.Category)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		delta.Findings = append(delta.Findings, state.Finding{
			Kind:   state.FindingAlert,
			Source: a.Source,
			Data:   data,
		})
	}
	return delta, nil
}

// --- assess_impact ---

type assessImpactStep struct{}

func (assessImpactStep) Name() schema.StepName { return schema.StepAssessImpact }

// Run gathers everything the disruption touches: affected SKUs and open
// orders, the matching response protocol, and historical precedents.
func (assessImpactStep) Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error) {
	delta := &state.Delta{}
	supplier := s.Event.Supplier()

	if supplier != "" {
		skus, err := c.Inventory.SKUsBySupplier(ctx, supplier)
		if err != nil {
			return nil, err
		}
		for _, sku := range skus {
			data, err := json.Marshal(sku)
			if err != nil {
				return nil, err
			}
			confidence := 0.9
			if sku.BelowReorder() {
				confidence = 1.0
			}
			delta.Findings = append(delta.Findings, state.Finding{
				Kind:       state.FindingAffectedSKU,
				Source:     "inventory",
				Confidence: confidence,
				Data:       data,
			})
		}

		orders, err := c.Inventory.OpenOrdersBySupplier(ctx, supplier)
		if err != nil {
			return nil, err
		}
		for _, po := range orders {
			data, err := json.Marshal(po)
			if err != nil {
				return nil, err
			}
			delta.Findings = append(delta.Findings, state.Finding{
				Kind:   state.FindingAffectedOrder,
				Source: "inventory",
				Data:   data,
			})
		}
	}

	sop, err := c.SOPs.Lookup(ctx, s.Event.Category)
	if err != nil {
		return nil, err
	}
	sopData, err := json.Marshal(sop)
	if err != nil {
		return nil, err
	}
	delta.Findings = append(delta.Findings, state.Finding{
		Kind:   state.FindingSOPExcerpt,
		Source: "sop-wiki",
		Data:   sopData,
	})

	precedents, err := c.History.Precedents(ctx, s.Event.Category)
	if err != nil {
		return nil, err
	}
	if len(precedents) > 3 {
		precedents = precedents[:3]
	}
	for _, p := range precedents {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		delta.Findings = append(delta.Findings, state.Finding{
			Kind:   state.FindingHistoricalPrecedent,
			Source: "history",
			Data:   data,
		})
	}

	return delta, nil
}

// --- find_alternatives ---

type findAlternativesStep struct{}

func (findAlternativesStep) Name() schema.StepName { return schema.StepFindAlternatives }

// Run collects qualified backup suppliers from the qualification list and
// the supplier document corpus. Zero candidates flips the no-alternatives
// flag so the router skips exposure and the planner goes contingency-only.
func (findAlternativesStep) Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error) {
	primary := s.Event.Supplier()

	seen := make(map[string]bool)
	var candidates []state.Finding

	for _, id := range collab.Backups(primary) {
		data, err := json.Marshal(map[string]any{"supplier_id": id, "source": "qualification"})
		if err != nil {
			return nil, err
		}
		seen[id] = true
		candidates = append(candidates, state.Finding{
			Kind:       state.FindingCandidateSupplier,
			Source:     "qualification",
			Confidence: 1.0,
			Data:       data,
		})
	}

	query := fmt.Sprintf("qualified backup alternative supplier for %s disruption",
		string(s.Event.Category))
	matches, err := c.Docs.Search(ctx, query, 5)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Tier != "backup" && m.Tier != "specialty" {
			continue
		}
		if m.SupplierID == primary || seen[m.SupplierID] {
			continue
		}
		data, err := json.Marshal(map[string]any{"supplier_id": m.SupplierID, "source": "docsearch", "region": m.Region})
		if err != nil {
			return nil, err
		}
		seen[m.SupplierID] = true
		candidates = append(candidates, state.Finding{
			Kind:       state.FindingCandidateSupplier,
			Source:     "docsearch",
			Confidence: m.Similarity,
			Data:       data,
		})
	}

	none := len(candidates) == 0
	return &state.Delta{
		Findings:       candidates,
		NoAlternatives: &none,
	}, nil
}

// --- calculate_exposure ---

type calculateExposureStep struct{}

func (calculateExposureStep) Name() schema.StepName { return schema.StepCalculateExposure }

// Run quotes every candidate supplier against every affected SKU in
// parallel, then reduces the affected order book plus the quotes to a
// financial impact and risk score. All quote fetches complete before the
// delta is returned; no partial delta is observable.
func (calculateExposureStep) Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error) {
	orders := affectedOrders(s)
	candidates := candidateSuppliers(s)

	skus := make(map[string]bool)
	for _, po := range orders {
		skus[po.SKU] = true
	}

	type quoteKey struct{ supplier, sku string }
	var (
		mu     sync.Mutex
		quotes = make(map[quoteKey]*collab.Quote)
		wg     sync.WaitGroup
	)
	for _, supplier := range candidates {
		for sku := range skus {
			wg.Add(1)
			go func(supplier, sku string) {
				defer wg.Done()
				q, err := c.Pricing.Quote(ctx, supplier, sku)
				if err != nil {
					// No price book entry for this pair; not every backup
					// carries every part.
					return
				}
				mu.Lock()
				quotes[quoteKey{supplier, sku}] = q
				mu.Unlock()
			}(supplier, sku)
		}
	}
	wg.Wait()

	keys := make([]quoteKey, 0, len(quotes))
	for k := range quotes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].supplier != keys[j].supplier {
			return keys[i].supplier < keys[j].supplier
		}
		return keys[i].sku < keys[j].sku
	})

	delta := &state.Delta{}
	quoteList := make([]collab.Quote, 0, len(keys))
	for _, k := range keys {
		q := quotes[k]
		quoteList = append(quoteList, *q)
		data, err := json.Marshal(q)
		if err != nil {
			return nil, err
		}
		delta.Findings = append(delta.Findings, state.Finding{
			Kind:   state.FindingPricingQuote,
			Source: "pricing",
			Data:   data,
		})
	}

	impact, risk, err := c.Impact.Calculate(ctx, orders, quoteList)
	if err != nil {
		return nil, err
	}
	delta.Impact = impact
	delta.RiskScore = &risk
	return delta, nil
}

func affectedOrders(s *state.WorkflowState) []collab.PurchaseOrder {
	var orders []collab.PurchaseOrder
	for _, f := range s.Findings {
		if f.Kind != state.FindingAffectedOrder {
			continue
		}
		var po collab.PurchaseOrder
		if err := json.Unmarshal(f.Data, &po); err == nil {
			orders = append(orders, po)
		}
	}
	return orders
}

func candidateSuppliers(s *state.WorkflowState) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range s.Findings {
		if f.Kind != state.FindingCandidateSupplier {
			continue
		}
		var c struct {
			SupplierID string `json:"supplier_id"`
		}
		if err := json.Unmarshal(f.Data, &c); err != nil || c.SupplierID == "" || seen[c.SupplierID] {
			continue
		}
		seen[c.SupplierID] = true
		out = append(out, c.SupplierID)
	}
	return out
}

// --- generate_plan ---

type generatePlanStep struct{}

func (generatePlanStep) Name() schema.StepName { return schema.StepGeneratePlan }

// Run drafts a fresh plan from the entire accumulated state. Regeneration
// is never an in-place patch; each iteration re-derives the plan from state
// plus all prior feedback.
func (generatePlanStep) Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error) {
	plan, err := c.Planner.Draft(ctx, s)
	if err != nil {
		return nil, err
	}
	return &state.Delta{Plan: plan}, nil
}

// --- execute_actions ---

type executeActionsStep struct {
	gate Gate
}

func (executeActionsStep) Name() schema.StepName { return schema.StepExecuteActions }

// Run performs the approved plan's world-changing actions. Every invocation
// is individually gate-checked; a per-action failure lands in the error log
// and the remaining actions still run, yielding a partial outcome.
func (e executeActionsStep) Run(ctx context.Context, s *state.WorkflowState, c *collab.Set) (*state.Delta, error) {
	if s.Plan == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidTransition,
			"execute_actions reached without a plan")
	}

	delta := &state.Delta{}

	for _, draft := range s.Plan.Notifications {
		if err := e.gate.Authorize(ActionWrite, s); err != nil {
			return nil, err
		}
		receipt, err := c.Notifier.Send(ctx, draft)
		if err != nil {
			delta.Errors = append(delta.Errors, state.ErrorEntry{
				Code:    errorCode(err),
				Message: fmt.Sprintf("notification to %v failed: %v", draft.Recipients, err),
			})
			continue
		}
		delta.Receipts = append(delta.Receipts, *receipt)
	}

	for _, change := range s.Plan.OrderChanges {
		if err := e.gate.Authorize(ActionWrite, s); err != nil {
			return nil, err
		}
		receipt, err := c.Orders.UpdateOrder(ctx, change)
		if err != nil {
			delta.Errors = append(delta.Errors, state.ErrorEntry{
				Code:    errorCode(err),
				Message: fmt.Sprintf("update of %s failed: %v", change.POID, err),
			})
			continue
		}
		delta.Receipts = append(delta.Receipts, *receipt)
	}

	return delta, nil
}

func errorCode(err error) string {
	var rerr *schema.ResponderError
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return schema.ErrCodeExecution
}
