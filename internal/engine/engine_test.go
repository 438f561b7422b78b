package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"dex-grid-bot-go/internal/executor"
	"dex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor fills every swap at the reference price, or fails on demand.
type scriptedExecutor struct {
	fail  bool
	calls int
}

func (s *scriptedExecutor) ExecuteSwap(_ context.Context, req executor.SwapRequest) (models.SwapResult, error) {
	s.calls++
	if s.fail {
		return models.SwapResult{Status: "FAILED"}, errors.New("swap reverted")
	}
	amountOut := req.AmountIn * req.RefPrice
	if req.Side == models.Buy {
		amountOut = req.AmountIn / req.RefPrice
	}
	return models.SwapResult{
		TxRef:       "0xtest",
		BlockNumber: 1,
		GasUsed:     21000,
		AmountOut:   amountOut,
		ExecPrice:   req.RefPrice,
		Status:      "SUCCESS",
	}, nil
}

func newTestEngine(cfg Config, exec executor.Executor) *Engine {
	// Zero-valued cost config means every estimated cost is zero, which keeps
	// profit assertions exact.
	costs := NewCostEstimator(CostConfig{}, nil, nil)
	return NewEngine(cfg, costs, exec)
}

func testPair() models.PairConfig {
	return models.PairConfig{
		PairID:     "WETH/USDC",
		BaseAsset:  "ETH",
		QuoteAsset: "USDC",
	}
}

func makeLevel(id int64, price float64, side models.Side, qty float64) models.GridLevel {
	lvl := models.GridLevel{
		ID:           id,
		PairID:       "WETH/USDC",
		Price:        price,
		Side:         side,
		Quantity:     qty,
		PositionUSD:  qty * price,
		ProfitTarget: 0.01,
		Status:       models.LevelPending,
		CreatedAt:    time.Now(),
	}
	if side == models.Buy {
		lvl.SwapAmountIn = lvl.PositionUSD
		lvl.MinAmountOut = 0
	} else {
		lvl.SwapAmountIn = lvl.Quantity
		lvl.MinAmountOut = 0
	}
	return lvl
}

// TestDetectTriggersBaseline verifies that the first observed price only
// establishes the baseline and never triggers anything.
func TestDetectTriggersBaseline(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	triggered := eng.DetectTriggers("WETH/USDC", 95)
	assert.Empty(t, triggered, "first observation is a baseline, not a crossing")
}

// TestDetectTriggersStrictCrossing verifies that a level fires only when the
// price strictly crosses it relative to the previous observation.
func TestDetectTriggersStrictCrossing(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)

	// Approaching but not crossing.
	triggered := eng.DetectTriggers("WETH/USDC", 99)
	assert.Empty(t, triggered)

	// Crossing down through 98.
	triggered = eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)
	assert.Equal(t, models.Buy, triggered[0].Side)
	assert.Equal(t, models.LevelTriggered, triggered[0].Status)
	assert.True(t, triggered[0].IsActive)

	// A triggered level must not fire again.
	eng.DetectTriggers("WETH/USDC", 99)
	triggered = eng.DetectTriggers("WETH/USDC", 97.5)
	assert.Empty(t, triggered)
}

// TestDetectTriggersRederivesSide verifies that the side is re-derived from
// the crossing, not taken from the planned assignment.
func TestDetectTriggersRederivesSide(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3, SlippageTolerance: 0.01}, &scriptedExecutor{})
	// Deliberately mislabel the level as a sell.
	lvl := makeLevel(1, 98, models.Sell, 1)
	eng.SetLevels("WETH/USDC", []models.GridLevel{lvl}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)

	got := triggered[0]
	assert.Equal(t, models.Buy, got.Side, "downward crossing must become a buy")
	assert.InDelta(t, got.PositionUSD, got.SwapAmountIn, 1e-9, "swap amounts must follow the re-derived side")
}

// TestValidateRejectsUnprofitable verifies that levels failing the absolute
// profit floor are rejected and removed from the book.
func TestValidateRejectsUnprofitable(t *testing.T) {
	eng := newTestEngine(Config{MinProfitUSD: 1000, MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)

	_, ok := eng.Validate(context.Background(), triggered[0], 0)
	assert.False(t, ok)
	assert.Equal(t, models.LevelRejected, triggered[0].Status)
	assert.Empty(t, eng.Levels("WETH/USDC"), "rejected level must leave the book")
}

// TestValidatePercentFloor verifies the relative profit floor.
func TestValidatePercentFloor(t *testing.T) {
	// Profit target of 1% of position; demand 5% of position as net profit.
	eng := newTestEngine(Config{MinProfitPercent: 5, MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)

	_, ok := eng.Validate(context.Background(), triggered[0], 0)
	assert.False(t, ok)
}

// TestCommitAndCycleMatching runs a buy fill followed by a sell fill and
// verifies the FIFO cycle accounting end to end.
func TestCommitAndCycleMatching(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	pair := testPair()
	eng.SetLevels("WETH/USDC", []models.GridLevel{
		makeLevel(1, 98, models.Buy, 1),
		makeLevel(2, 102, models.Sell, 1),
	}, 90, 110)

	ctx := context.Background()
	eng.DetectTriggers("WETH/USDC", 100)

	// Buy leg.
	triggered := eng.DetectTriggers("WETH/USDC", 97.9)
	require.Len(t, triggered, 1)
	costs, ok := eng.Validate(ctx, triggered[0], 0)
	require.True(t, ok)
	exec, err := eng.Commit(ctx, triggered[0], pair, 97.9, costs, "")
	require.NoError(t, err)
	assert.Equal(t, models.Buy, exec.Side)
	assert.Len(t, eng.OpenExecutions("WETH/USDC"), 1, "unmatched fill must wait in the open queue")
	assert.Empty(t, eng.DrainCycles("WETH/USDC"))

	// Sell leg.
	triggered = eng.DetectTriggers("WETH/USDC", 102.5)
	require.Len(t, triggered, 1)
	costs, ok = eng.Validate(ctx, triggered[0], 0)
	require.True(t, ok)
	_, err = eng.Commit(ctx, triggered[0], pair, 102.5, costs, "")
	require.NoError(t, err)

	cycles := eng.DrainCycles("WETH/USDC")
	require.Len(t, cycles, 1)
	cycle := cycles[0]
	assert.True(t, cycle.IsComplete)
	// min(buyQty, sellQty) = 1, entry 97.9, exit 102.5.
	assert.InDelta(t, 4.6, cycle.GrossProfit, 1e-9)
	assert.InDelta(t, 4.6, cycle.NetProfit, 1e-9, "with zero costs net equals gross")
	assert.Empty(t, eng.OpenExecutions("WETH/USDC"), "matched fill must leave the open queue")

	// Draining twice must not duplicate cycles.
	assert.Empty(t, eng.DrainCycles("WETH/USDC"))
}

// TestCycleFIFONoDoubleMatch verifies that fills match oldest-first and that
// each fill participates in at most one cycle.
func TestCycleFIFONoDoubleMatch(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	pair := testPair()
	ctx := context.Background()

	fill := func(id int64, price float64, side models.Side) {
		var from, to float64
		if side == models.Buy {
			from, to = price+1, price-0.1
		} else {
			from, to = price-1, price+0.1
		}
		// Move the baseline before the level exists so only the final step crosses it.
		eng.DetectTriggers("WETH/USDC", from)
		eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(id, price, side, 1)}, 50, 150)
		triggered := eng.DetectTriggers("WETH/USDC", to)
		require.Len(t, triggered, 1)
		costs, ok := eng.Validate(ctx, triggered[0], 0)
		require.True(t, ok)
		_, err := eng.Commit(ctx, triggered[0], pair, price, costs, "")
		require.NoError(t, err)
	}

	// Three buys at distinct prices, then two sells.
	fill(1, 96, models.Buy)
	fill(2, 97, models.Buy)
	fill(3, 98, models.Buy)
	fill(4, 104, models.Sell)
	fill(5, 105, models.Sell)

	cycles := eng.DrainCycles("WETH/USDC")
	require.Len(t, cycles, 2, "two sells can close at most two cycles")

	// FIFO: the first sell must have matched the oldest buy.
	assert.InDelta(t, 96, cycles[0].OpenExec.ExecPrice, 1e-9)
	assert.InDelta(t, 97, cycles[1].OpenExec.ExecPrice, 1e-9)

	open := eng.OpenExecutions("WETH/USDC")
	require.Len(t, open, 1, "the newest buy stays open")
	assert.InDelta(t, 98, open[0].ExecPrice, 1e-9)
}

// TestCircuitBreaker verifies that a level is retried after a failure and
// permanently disabled once the failure threshold is reached.
func TestCircuitBreaker(t *testing.T) {
	exec := &scriptedExecutor{fail: true}
	eng := newTestEngine(Config{MaxLevelFailures: 2}, exec)
	pair := testPair()
	ctx := context.Background()

	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)
	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)
	lvl := triggered[0]

	// First failure: back to pending, still in the book.
	_, err := eng.Commit(ctx, lvl, pair, 97.5, models.TradeCosts{}, "")
	require.Error(t, err)
	assert.Equal(t, models.LevelPending, lvl.Status)
	assert.Equal(t, 1, lvl.FailureCount)
	assert.Len(t, eng.Levels("WETH/USDC"), 1)

	// The next crossing re-triggers the level; failing again reaches the
	// threshold, so the level is disabled and removed.
	triggered = eng.DetectTriggers("WETH/USDC", 99)
	require.Len(t, triggered, 1)
	_, err = eng.Commit(ctx, triggered[0], pair, 97.5, models.TradeCosts{}, "")
	require.Error(t, err)
	assert.Equal(t, models.LevelDisabled, triggered[0].Status)
	assert.Empty(t, eng.Levels("WETH/USDC"), "disabled level must leave the book")
}

// TestReleaseLevelsRearmsTriggered verifies that a triggered level handed
// back by the scheduler returns to pending and can fire on a later crossing.
// Without the release it would sit in the triggered state forever, since
// trigger detection only considers pending levels.
func TestReleaseLevelsRearmsTriggered(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)

	eng.ReleaseLevels(triggered)
	assert.Equal(t, models.LevelPending, triggered[0].Status)
	assert.False(t, triggered[0].IsActive)
	assert.Len(t, eng.Levels("WETH/USDC"), 1, "released level stays in the book")

	// The level must fire again on the next crossing.
	eng.DetectTriggers("WETH/USDC", 99)
	triggered = eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)
	assert.Equal(t, models.LevelTriggered, triggered[0].Status)
}

// TestReleaseLevelsIgnoresRejected verifies that only triggered and validated
// levels are re-armed; a rejected level stays rejected.
func TestReleaseLevelsIgnoresRejected(t *testing.T) {
	eng := newTestEngine(Config{MinProfitUSD: 1000, MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)

	_, ok := eng.Validate(context.Background(), triggered[0], 0)
	require.False(t, ok)

	eng.ReleaseLevels(triggered)
	assert.Equal(t, models.LevelRejected, triggered[0].Status)
}

// TestSetLevelsPreservesActive verifies that a replan keeps triggered levels
// that are still inside the new range.
func TestSetLevelsPreservesActive(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 98, models.Buy, 1)}, 90, 110)

	eng.DetectTriggers("WETH/USDC", 100)
	triggered := eng.DetectTriggers("WETH/USDC", 97.5)
	require.Len(t, triggered, 1)

	// Replan with a new level; the in-flight one stays because 98 is in range.
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(10, 95, models.Buy, 1)}, 90, 110)
	assert.Len(t, eng.Levels("WETH/USDC"), 2)

	// A second replan with a range excluding 98 drops it.
	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(11, 80, models.Buy, 1)}, 70, 90)
	levels := eng.Levels("WETH/USDC")
	require.Len(t, levels, 1)
	assert.Equal(t, int64(11), levels[0].ID)
}

// TestUnrealizedProfit verifies the mark-to-market of open fills.
func TestUnrealizedProfit(t *testing.T) {
	eng := newTestEngine(Config{MaxLevelFailures: 3}, &scriptedExecutor{})
	pair := testPair()
	ctx := context.Background()

	eng.SetLevels("WETH/USDC", []models.GridLevel{makeLevel(1, 100, models.Buy, 1)}, 90, 110)
	eng.DetectTriggers("WETH/USDC", 101)
	triggered := eng.DetectTriggers("WETH/USDC", 100)
	require.Len(t, triggered, 1)
	costs, ok := eng.Validate(ctx, triggered[0], 0)
	require.True(t, ok)
	_, err := eng.Commit(ctx, triggered[0], pair, 100, costs, "")
	require.NoError(t, err)

	open := eng.OpenExecutions("WETH/USDC")
	require.Len(t, open, 1)
	qty := open[0].Quantity

	assert.InDelta(t, qty*5, eng.UnrealizedProfit("WETH/USDC", 105), 1e-9)
	assert.InDelta(t, -qty*5, eng.UnrealizedProfit("WETH/USDC", 95), 1e-9)
}
