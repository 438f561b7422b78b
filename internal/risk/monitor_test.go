package risk

import (
	"testing"

	"dex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func cycleWithProfit(net float64) models.TradeCycle {
	return models.TradeCycle{PairID: "WETH/USDC", NetProfit: net, IsComplete: true}
}

// TestDailyLossLimit verifies that accumulated daily losses trip the stop.
func TestDailyLossLimit(t *testing.T) {
	m := NewMonitor(Config{DailyLossLimitUSD: 10})

	m.RecordCycle(cycleWithProfit(-6))
	assert.False(t, m.Halted())

	m.RecordCycle(cycleWithProfit(-5))
	assert.True(t, m.Halted(), "losses past the daily limit must halt trading")
}

// TestConsecutiveLossLimit verifies the loss streak breaker and that a win
// resets the streak.
func TestConsecutiveLossLimit(t *testing.T) {
	m := NewMonitor(Config{MaxConsecutiveLosses: 3})

	m.RecordCycle(cycleWithProfit(-1))
	m.RecordCycle(cycleWithProfit(-1))
	m.RecordCycle(cycleWithProfit(2))
	m.RecordCycle(cycleWithProfit(-1))
	m.RecordCycle(cycleWithProfit(-1))
	assert.False(t, m.Halted(), "a win in between must reset the streak")

	m.RecordCycle(cycleWithProfit(-1))
	assert.True(t, m.Halted())
}

// TestEmergencyStopIsOneWay verifies that profits after the stop never
// re-enable trading; only an operator reset does.
func TestEmergencyStopIsOneWay(t *testing.T) {
	m := NewMonitor(Config{DailyLossLimitUSD: 10})

	m.RecordCycle(cycleWithProfit(-11))
	assert.True(t, m.Halted())

	m.RecordCycle(cycleWithProfit(100))
	assert.True(t, m.Halted(), "recovered PnL must not clear the stop by itself")

	m.Reset()
	assert.False(t, m.Halted())
	assert.Equal(t, 0, m.State().ConsecutiveLosses)
}

// TestRestoreKeepsStop verifies that a persisted emergency stop survives a restart.
func TestRestoreKeepsStop(t *testing.T) {
	m := NewMonitor(Config{})
	m.Restore(models.RiskState{EmergencyStopped: true})
	assert.True(t, m.Halted())
}

// TestImbalancePeak verifies that only the peak imbalance is retained.
func TestImbalancePeak(t *testing.T) {
	m := NewMonitor(Config{})
	m.RecordImbalance(0.4)
	m.RecordImbalance(0.2)
	assert.InDelta(t, 0.4, m.State().MaxImbalance, 1e-9)
}
