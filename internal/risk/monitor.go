package risk

import (
	"time"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// Config 是风控监视器的阈值配置
type Config struct {
	DailyLossLimitUSD    float64 // 单日亏损上限, 0 表示不启用
	MaxConsecutiveLosses int     // 连续亏损上限, 0 表示不启用
	EmergencyStopLossUSD float64 // 触发紧急停止的累计亏损, 0 表示不启用
}

// Monitor 在每个监控周期根据已完成周期更新风控状态。
// 紧急停止是单向的: 一旦触发，只有操作员显式复位才能恢复交易。
type Monitor struct {
	cfg    Config
	state  models.RiskState
	logger *zap.SugaredLogger
}

// NewMonitor 创建风控监视器
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:    cfg,
		state:  models.RiskState{LastReset: time.Now()},
		logger: logger.Named("risk"),
	}
}

// Restore 从持久化状态恢复，保留上次运行的紧急停止标记
func (m *Monitor) Restore(state models.RiskState) {
	m.state = state
	if state.EmergencyStopped {
		m.logger.Warn("恢复到紧急停止状态，需要操作员复位后才能交易")
	}
}

// RecordCycle 记录一个已完成周期的净利润
func (m *Monitor) RecordCycle(cycle models.TradeCycle) {
	m.maybeRollDay(time.Now())

	m.state.DailyPnL += cycle.NetProfit
	if cycle.NetProfit < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}

	m.evaluate()
}

// RecordImbalance 记录买卖持仓失衡程度的峰值
func (m *Monitor) RecordImbalance(imbalance float64) {
	if imbalance > m.state.MaxImbalance {
		m.state.MaxImbalance = imbalance
	}
}

// maybeRollDay 跨过UTC日界时重置当日统计，紧急停止标记不随日界重置
func (m *Monitor) maybeRollDay(now time.Time) {
	if now.UTC().Day() == m.state.LastReset.UTC().Day() &&
		now.Sub(m.state.LastReset) < 24*time.Hour {
		return
	}
	m.logger.Infof("跨日重置风控统计: 昨日盈亏 %.4f USD", m.state.DailyPnL)
	m.state.DailyPnL = 0
	m.state.ConsecutiveLosses = 0
	m.state.LastReset = now
}

// evaluate 检查各项阈值，任一越界即触发紧急停止
func (m *Monitor) evaluate() {
	if m.state.EmergencyStopped {
		return
	}

	if m.cfg.DailyLossLimitUSD > 0 && m.state.DailyPnL <= -m.cfg.DailyLossLimitUSD {
		m.trip("单日亏损 %.4f USD 达到上限 %.2f", m.state.DailyPnL, m.cfg.DailyLossLimitUSD)
		return
	}
	if m.cfg.MaxConsecutiveLosses > 0 && m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses {
		m.trip("连续亏损 %d 次达到上限 %d", m.state.ConsecutiveLosses, m.cfg.MaxConsecutiveLosses)
		return
	}
	if m.cfg.EmergencyStopLossUSD > 0 && m.state.DailyPnL <= -m.cfg.EmergencyStopLossUSD {
		m.trip("亏损 %.4f USD 触发紧急止损线 %.2f", m.state.DailyPnL, m.cfg.EmergencyStopLossUSD)
	}
}

func (m *Monitor) trip(format string, args ...interface{}) {
	m.state.EmergencyStopped = true
	m.logger.Errorf("紧急停止: "+format, args...)
}

// Halted 返回当前是否禁止新交易
func (m *Monitor) Halted() bool {
	return m.state.EmergencyStopped
}

// Reset 由操作员显式复位紧急停止
func (m *Monitor) Reset() {
	if !m.state.EmergencyStopped {
		return
	}
	m.state.EmergencyStopped = false
	m.state.ConsecutiveLosses = 0
	m.logger.Warn("操作员已复位紧急停止，恢复交易")
}

// State 返回风控状态快照，供持久化与报表使用
func (m *Monitor) State() models.RiskState {
	return m.state
}
