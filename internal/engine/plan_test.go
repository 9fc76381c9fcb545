package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
)

func TestBuildHoldReturnsNoPlan(t *testing.T) {
	p := NewPlanner(config.Default().Planner)

	plan, err := p.Build(domain.ActionHold, bullishSnapshot())
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestBuildBuyPlan(t *testing.T) {
	p := NewPlanner(config.Default().Planner)
	snap := bullishSnapshot() // close 105, ema20 104, atr 2, recent high 110

	plan, err := p.Build(domain.ActionBuy, snap)
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.InDelta(t, 104.0, plan.Entry, 1e-12) // dips to the EMA20 anchor
	require.NotNil(t, plan.EntryRange)
	assert.InDelta(t, 104.0, plan.EntryRange.Low, 1e-12)
	assert.InDelta(t, 105.0, plan.EntryRange.High, 1e-12)

	assert.InDelta(t, 101.0, plan.Stop, 1e-12) // entry - 1.5*ATR

	require.Len(t, plan.Targets, 2)
	assert.InDelta(t, 107.0, plan.Targets[0], 1e-12) // entry + 1.5*ATR
	assert.InDelta(t, 110.0, plan.Targets[1], 1e-12) // recent high beyond t1
}

func TestBuildBuyPlanNoSwingExtension(t *testing.T) {
	p := NewPlanner(config.Default().Planner)
	snap := bullishSnapshot()
	snap.RecentHigh = 106 // inside the first target, fall back to t1+ATR

	plan, err := p.Build(domain.ActionBuy, snap)
	require.NoError(t, err)

	require.Len(t, plan.Targets, 2)
	assert.InDelta(t, 107.0, plan.Targets[0], 1e-12)
	assert.InDelta(t, 109.0, plan.Targets[1], 1e-12)
}

func TestBuildBuyPlanAnchorAbovePrice(t *testing.T) {
	p := NewPlanner(config.Default().Planner)
	snap := bullishSnapshot()
	snap.EMA20 = 108 // price already below the anchor, enter at market

	plan, err := p.Build(domain.ActionBuy, snap)
	require.NoError(t, err)

	assert.InDelta(t, 105.0, plan.Entry, 1e-12)
	assert.Nil(t, plan.EntryRange)
}

func TestBuildSellPlanMirrors(t *testing.T) {
	p := NewPlanner(config.Default().Planner)
	snap := bullishSnapshot()
	snap.Close = 100
	snap.EMA20 = 102
	snap.RecentLow = 90

	plan, err := p.Build(domain.ActionSell, snap)
	require.NoError(t, err)

	assert.InDelta(t, 102.0, plan.Entry, 1e-12) // rallies to the anchor
	require.NotNil(t, plan.EntryRange)
	assert.InDelta(t, 100.0, plan.EntryRange.Low, 1e-12)
	assert.InDelta(t, 102.0, plan.EntryRange.High, 1e-12)

	assert.InDelta(t, 105.0, plan.Stop, 1e-12) // entry + 1.5*ATR

	require.Len(t, plan.Targets, 2)
	assert.InDelta(t, 99.0, plan.Targets[0], 1e-12)
	assert.InDelta(t, 90.0, plan.Targets[1], 1e-12)
}

func TestBuildTargetsStrictlyMonotonic(t *testing.T) {
	p := NewPlanner(config.Default().Planner)

	plan, err := p.Build(domain.ActionBuy, bullishSnapshot())
	require.NoError(t, err)
	for i := 1; i < len(plan.Targets); i++ {
		assert.Greater(t, plan.Targets[i], plan.Targets[i-1])
	}
	assert.Less(t, plan.Stop, plan.Entry)

	snap := bullishSnapshot()
	snap.RecentLow = 90
	plan, err = p.Build(domain.ActionSell, snap)
	require.NoError(t, err)
	for i := 1; i < len(plan.Targets); i++ {
		assert.Less(t, plan.Targets[i], plan.Targets[i-1])
	}
	assert.Greater(t, plan.Stop, plan.Entry)
}

func TestBuildZeroATRFailsDegenerate(t *testing.T) {
	p := NewPlanner(config.Default().Planner)

	snap := bullishSnapshot()
	snap.ATR = 0
	_, err := p.Build(domain.ActionBuy, snap)
	assert.ErrorIs(t, err, domain.ErrDegenerateLevels)

	snap.ATR = math.NaN()
	_, err = p.Build(domain.ActionBuy, snap)
	assert.ErrorIs(t, err, domain.ErrDegenerateLevels)
}

func TestBuildMissingPriceFailsDegenerate(t *testing.T) {
	p := NewPlanner(config.Default().Planner)

	snap := bullishSnapshot()
	snap.Close = math.NaN()
	_, err := p.Build(domain.ActionSell, snap)
	assert.ErrorIs(t, err, domain.ErrDegenerateLevels)
}

func TestBuildMissingRecentHighFallsBack(t *testing.T) {
	p := NewPlanner(config.Default().Planner)

	snap := bullishSnapshot()
	snap.RecentHigh = math.NaN()

	plan, err := p.Build(domain.ActionBuy, snap)
	require.NoError(t, err)
	require.Len(t, plan.Targets, 2)
	assert.InDelta(t, 109.0, plan.Targets[1], 1e-12)
}
