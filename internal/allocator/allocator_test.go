package allocator

import (
	"testing"
	"time"

	"dex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPairs() []models.PairConfig {
	return []models.PairConfig{
		{PairID: "WETH/USDC", AllocationPercent: 60, GridCount: 12, RangePercent: 0.05, PoolFeePercent: 0.3, TradingIntervalSec: 30},
		{PairID: "WBTC/USDC", AllocationPercent: 40, TradingIntervalSec: 60},
	}
}

func testAllocConfig() Config {
	return Config{
		TotalInvestment:     1000,
		DefaultGridCount:    10,
		DefaultRangePercent: 0.04,
		MaxConcurrentTrades: 3,
		BatchSize:           2,
	}
}

// TestNewValidatesAllocationSum verifies the hard 100% invariant: anything
// else is a configuration error that refuses to start.
func TestNewValidatesAllocationSum(t *testing.T) {
	pairs := testPairs()
	_, err := New(testAllocConfig(), pairs)
	require.NoError(t, err)

	pairs[0].AllocationPercent = 59
	_, err = New(testAllocConfig(), pairs)
	assert.Error(t, err, "99% must be rejected")

	pairs[0].AllocationPercent = 61
	_, err = New(testAllocConfig(), pairs)
	assert.Error(t, err, "101% must be rejected")
}

// TestAllocationAmounts verifies the split and the per-pair defaults.
func TestAllocationAmounts(t *testing.T) {
	a, err := New(testAllocConfig(), testPairs())
	require.NoError(t, err)

	eth, ok := a.Allocation("WETH/USDC")
	require.True(t, ok)
	assert.InDelta(t, 600, eth.AllocationUSD, 1e-9)
	assert.Equal(t, 12, eth.GridCount)
	assert.InDelta(t, 0.05, eth.RangePercent, 1e-9)

	btc, ok := a.Allocation("WBTC/USDC")
	require.True(t, ok)
	assert.InDelta(t, 400, btc.AllocationUSD, 1e-9)
	assert.Equal(t, 10, btc.GridCount, "zero grid count falls back to the global default")
	assert.InDelta(t, 0.04, btc.RangePercent, 1e-9)

	_, ok = a.Allocation("DOGE/USDC")
	assert.False(t, ok)
}

// TestCooldownScheduling verifies the adaptive trade interval: a poor
// success rate widens the interval, a good one narrows it.
func TestCooldownScheduling(t *testing.T) {
	a, err := New(testAllocConfig(), testPairs())
	require.NoError(t, err)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, a.ReadyToTrade("WETH/USDC", now), "a pair that never traded is ready")

	// Four straight failures drop the success rate below half.
	for i := 0; i < 4; i++ {
		a.RecordOutcome("WETH/USDC", false, now)
	}
	assert.False(t, a.ReadyToTrade("WETH/USDC", now.Add(45*time.Second)),
		"interval must have widened beyond the 30s base")
	assert.True(t, a.ReadyToTrade("WETH/USDC", now.Add(3*time.Minute)))

	// A long winning streak narrows the interval again.
	for i := 0; i < 20; i++ {
		a.RecordOutcome("WETH/USDC", true, now)
	}
	assert.True(t, a.ReadyToTrade("WETH/USDC", now.Add(16*time.Second)))
}

// TestPrioritizeOrdersByScore verifies that bigger expected profit wins and
// that the slice comes back sorted descending.
func TestPrioritizeOrdersByScore(t *testing.T) {
	a, err := New(testAllocConfig(), testPairs())
	require.NoError(t, err)

	small := &models.GridLevel{ID: 1, PairID: "WETH/USDC", Price: 99, PositionUSD: 50, ProfitTarget: 0.01}
	large := &models.GridLevel{ID: 2, PairID: "WETH/USDC", Price: 99, PositionUSD: 500, ProfitTarget: 0.01}

	levels := []*models.GridLevel{small, large}
	a.Prioritize(levels, map[string]float64{"WETH/USDC": 100}, nil)

	assert.Equal(t, int64(2), levels[0].ID, "larger expected profit must come first")
	assert.Greater(t, levels[0].Priority, levels[1].Priority)
}

// TestBatchRespectsLimits verifies batching and the global concurrency cap.
func TestBatchRespectsLimits(t *testing.T) {
	a, err := New(testAllocConfig(), testPairs())
	require.NoError(t, err)

	levels := make([]*models.GridLevel, 5)
	for i := range levels {
		levels[i] = &models.GridLevel{ID: int64(i + 1)}
	}

	// Cap of 3 with nothing in flight: 3 levels survive, split into 2+1,
	// and the two trimmed levels come back for the caller to release.
	batches, dropped := a.Batch(levels, 0)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 1)
	require.Len(t, dropped, 2)
	assert.Equal(t, int64(4), dropped[0].ID)
	assert.Equal(t, int64(5), dropped[1].ID)

	// Two already in flight leaves room for one.
	batches, dropped = a.Batch(levels, 2)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
	assert.Len(t, dropped, 4)

	// Saturated: nothing gets through, everything comes back.
	batches, dropped = a.Batch(levels, 3)
	assert.Nil(t, batches)
	assert.Len(t, dropped, 5, "a saturated scheduler must hand every level back")
}
