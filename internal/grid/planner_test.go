package grid

import (
	"testing"
	"time"

	"dex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePlanParams() PlanParams {
	return PlanParams{
		PairID:            "WETH/USDC",
		CurrentPrice:      500,
		RangePercent:      0.05,
		Count:             5,
		SizingMode:        models.SizingArithmetic,
		InvestmentUSD:     100,
		SlippageTolerance: 0.01,
		ProfitTarget:      0.01,
		Now:               time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

// TestPlanLevelsGeometricSpacing verifies that consecutive levels keep the
// same price ratio and that the first and last levels land exactly on the
// range boundaries.
func TestPlanLevelsGeometricSpacing(t *testing.T) {
	p := basePlanParams()
	levels, err := PlanLevels(p)
	require.NoError(t, err)
	require.Len(t, levels, p.Count)

	minPrice := p.CurrentPrice * (1 - p.RangePercent)
	maxPrice := p.CurrentPrice * (1 + p.RangePercent)
	assert.InDelta(t, minPrice, levels[0].Price, 1e-9, "first level should sit on the lower bound")
	assert.InDelta(t, maxPrice, levels[len(levels)-1].Price, 1e-9, "last level should sit on the upper bound")

	// All consecutive ratios must be equal.
	firstRatio := levels[1].Price / levels[0].Price
	for i := 2; i < len(levels); i++ {
		ratio := levels[i].Price / levels[i-1].Price
		assert.InDelta(t, firstRatio, ratio, 1e-9, "spacing must be geometric, not arithmetic")
	}
}

// TestPlanLevelsBudgetNormalization verifies the hard invariant that the
// sum of all level positions equals the investment, for every sizing mode.
func TestPlanLevelsBudgetNormalization(t *testing.T) {
	modes := []models.SizingMode{models.SizingArithmetic, models.SizingGeometric, models.SizingHybrid}

	for _, mode := range modes {
		p := basePlanParams()
		p.SizingMode = mode
		p.GeometricRatio = 1.5
		p.GeometricScale = 1.0
		p.HybridMaxMultiplier = 3.0

		levels, err := PlanLevels(p)
		require.NoError(t, err, "mode %s", mode)

		var total float64
		for _, lvl := range levels {
			assert.Greater(t, lvl.PositionUSD, 0.0)
			total += lvl.PositionUSD
		}
		assert.InDelta(t, p.InvestmentUSD, total, 1e-6,
			"mode %s: allocated capital must equal the investment exactly", mode)
	}
}

// TestPlanLevelsSides verifies the static side assignment: levels below the
// current price buy, levels at or above it sell.
func TestPlanLevelsSides(t *testing.T) {
	p := basePlanParams()
	levels, err := PlanLevels(p)
	require.NoError(t, err)

	for _, lvl := range levels {
		if lvl.Price < p.CurrentPrice {
			assert.Equal(t, models.Buy, lvl.Side, "level below current price must be a buy")
		} else {
			assert.Equal(t, models.Sell, lvl.Side, "level at or above current price must be a sell")
		}
	}
}

// TestPlanLevelsSwapAmounts verifies the executable amounts derived for each side.
func TestPlanLevelsSwapAmounts(t *testing.T) {
	p := basePlanParams()
	levels, err := PlanLevels(p)
	require.NoError(t, err)

	for _, lvl := range levels {
		if lvl.Side == models.Buy {
			assert.InDelta(t, lvl.PositionUSD, lvl.SwapAmountIn, 1e-9)
			assert.InDelta(t, lvl.Quantity*(1-p.SlippageTolerance), lvl.MinAmountOut, 1e-9)
		} else {
			assert.InDelta(t, lvl.Quantity, lvl.SwapAmountIn, 1e-9)
			assert.InDelta(t, lvl.PositionUSD*(1-p.SlippageTolerance), lvl.MinAmountOut, 1e-9)
		}
	}
}

// TestPlanLevelsSingleLevel verifies the degenerate one-level grid.
func TestPlanLevelsSingleLevel(t *testing.T) {
	p := basePlanParams()
	p.Count = 1

	levels, err := PlanLevels(p)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.InDelta(t, p.InvestmentUSD, levels[0].PositionUSD, 1e-6)
}

// TestPlanLevelsValidation verifies that invalid inputs are rejected outright.
func TestPlanLevelsValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*PlanParams)
	}{
		{"zero count", func(p *PlanParams) { p.Count = 0 }},
		{"negative price", func(p *PlanParams) { p.CurrentPrice = -1 }},
		{"range too wide", func(p *PlanParams) { p.RangePercent = 1.5 }},
		{"zero investment", func(p *PlanParams) { p.InvestmentUSD = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := basePlanParams()
			tc.mutate(&p)
			_, err := PlanLevels(p)
			assert.Error(t, err)
		})
	}
}

// TestPlanLevelsUniqueIDs verifies that level IDs never repeat across plans.
func TestPlanLevelsUniqueIDs(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 3; i++ {
		levels, err := PlanLevels(basePlanParams())
		require.NoError(t, err)
		for _, lvl := range levels {
			assert.False(t, seen[lvl.ID], "level ID %d reused", lvl.ID)
			seen[lvl.ID] = true
		}
	}
}

// TestRederiveSide verifies the trigger-time side derivation: a downward
// crossing buys, an upward crossing sells.
func TestRederiveSide(t *testing.T) {
	assert.Equal(t, models.Buy, RederiveSide(100, 99.5), "price at or below the level means buy")
	assert.Equal(t, models.Buy, RederiveSide(100, 100))
	assert.Equal(t, models.Sell, RederiveSide(100, 100.5), "price above the level means sell")
}
