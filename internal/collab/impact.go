package collab

import (
	"context"
	"math"
	"time"

	"github.com/chainsight/responder/internal/state"
)

// Exposure model constants, calibrated against past disruption settlements.
const (
	costDeltaRate     = 0.15 // re-sourcing cost increase over original value
	expediteFeeRate   = 0.08 // expedited freight surcharge
	revenueAtRiskRate = 2.5  // downstream revenue multiplier
	riskScoreCap      = 0.85
)

// StandardImpactCalculator computes financial exposure from the affected
// order book. Alternative quotes sharpen the cost delta when present.
type StandardImpactCalculator struct{}

func (StandardImpactCalculator) Calculate(ctx context.Context, orders []PurchaseOrder, quotes []Quote) (*state.FinancialImpact, float64, error) {
	var totalOriginal float64
	for _, po := range orders {
		totalOriginal += po.TotalValue
	}

	costDelta := totalOriginal * costDeltaRate
	if delta, ok := quotedDelta(orders, quotes); ok {
		costDelta = delta
	}

	expedite := totalOriginal * expediteFeeRate
	revenueAtRisk := totalOriginal * revenueAtRiskRate
	risk := math.Min(riskScoreCap, costDelta/math.Max(totalOriginal, 1))

	impact := &state.FinancialImpact{
		OriginalValue: round2(totalOriginal),
		CostDelta:     round2(costDelta),
		ExpediteFees:  round2(expedite),
		RevenueAtRisk: round2(revenueAtRisk),
		TotalExposure: round2(costDelta + expedite),
		Currency:      "USD",
		ComputedAt:    time.Now().UTC(),
	}
	return impact, round2(risk), nil
}

// quotedDelta computes the actual re-sourcing premium when alternative
// quotes cover the affected SKUs. Falls back to the flat rate otherwise.
func quotedDelta(orders []PurchaseOrder, quotes []Quote) (float64, bool) {
	bestQuote := make(map[string]Quote)
	for _, q := range quotes {
		if cur, ok := bestQuote[q.SKU]; !ok || q.Price < cur.Price {
			bestQuote[q.SKU] = q
		}
	}

	var delta float64
	covered := false
	for _, po := range orders {
		q, ok := bestQuote[po.SKU]
		if !ok || po.Quantity == 0 {
			continue
		}
		originalUnit := po.TotalValue / float64(po.Quantity)
		if q.Price > originalUnit {
			delta += (q.Price - originalUnit) * float64(po.Quantity)
		}
		covered = true
	}
	if !covered || delta <= 0 {
		return 0, false
	}
	return delta, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var _ ImpactCalculator = StandardImpactCalculator{}
