package engine

import (
	"fmt"
	"math"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
)

// Planner derives entry, stop, and target levels from the reference
// price, ATR, and the structural levels on the snapshot.
type Planner struct {
	cfg config.PlannerConfig
}

// NewPlanner creates a planner with the given ATR multiples.
func NewPlanner(cfg config.PlannerConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Build computes a trade plan for a non-hold action. Hold returns a nil
// plan and no error. A zero or missing ATR fails with ErrDegenerateLevels
// because the stop would collapse onto the entry; the caller keeps the
// decision and drops only the plan.
//
// Entry is the dip level (price pulled back to the fast moving average)
// with the momentum entry exposed through EntryRange when the two differ.
// Targets are strictly monotonic in the trade direction: the first is a
// risk-multiple of ATR, the second extends to the recent swing level when
// that level sits beyond the first target.
func (p *Planner) Build(action domain.Action, snap domain.IndicatorSnapshot) (*domain.TradePlan, error) {
	if action == domain.ActionHold {
		return nil, nil
	}

	price := snap.Close
	if !domain.Has(price) || price <= 0 {
		return nil, fmt.Errorf("%w: reference price unavailable", domain.ErrDegenerateLevels)
	}
	atr := snap.ATR
	if !domain.Has(atr) || atr <= 0 {
		return nil, fmt.Errorf("%w: ATR is zero or missing", domain.ErrDegenerateLevels)
	}

	anchor := price
	if domain.Has(snap.EMA20) && snap.EMA20 > 0 {
		anchor = snap.EMA20
	}

	switch action {
	case domain.ActionBuy:
		entry := math.Min(price, anchor)
		plan := &domain.TradePlan{
			Entry: entry,
			Stop:  entry - p.cfg.StopATRMult*atr,
		}
		if entry < price {
			plan.EntryRange = &domain.PriceRange{Low: entry, High: price}
		}

		target1 := entry + p.cfg.TargetATRMult*atr
		targets := []float64{target1}
		if domain.Has(snap.RecentHigh) && snap.RecentHigh > target1 {
			targets = append(targets, snap.RecentHigh)
		} else {
			targets = append(targets, target1+atr)
		}
		plan.Targets = targets
		return plan, nil

	case domain.ActionSell:
		entry := math.Max(price, anchor)
		plan := &domain.TradePlan{
			Entry: entry,
			Stop:  entry + p.cfg.StopATRMult*atr,
		}
		if entry > price {
			plan.EntryRange = &domain.PriceRange{Low: price, High: entry}
		}

		target1 := entry - p.cfg.TargetATRMult*atr
		targets := []float64{target1}
		if domain.Has(snap.RecentLow) && snap.RecentLow < target1 {
			targets = append(targets, snap.RecentLow)
		} else {
			targets = append(targets, target1-atr)
		}
		plan.Targets = targets
		return plan, nil
	}

	return nil, fmt.Errorf("unknown action %q", action)
}
