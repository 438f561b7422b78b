package models

import "time"

// BotState represents the persisted state of the bot across restarts.
type BotState struct {
	BotID          string                `json:"bot_id"`
	Version        int                   `json:"version"` // state model version, for future migrations
	Pairs          map[string]*PairState `json:"pairs"`
	Totals         RunningTotals         `json:"totals"`
	Risk           RiskState             `json:"risk"`
	LastUpdateTime time.Time             `json:"last_update_time"`
}

// PairState holds the mutable per-pair trading state.
type PairState struct {
	PairID         string           `json:"pair_id"`
	Levels         []GridLevel      `json:"levels"`          // current grid snapshot
	OpenExecutions []TradeExecution `json:"open_executions"` // fills not yet matched into a cycle
	RangeLow       float64          `json:"range_low"`
	RangeHigh      float64          `json:"range_high"`
	CenterPrice    float64          `json:"center_price"`
	LastReplanTime time.Time        `json:"last_replan_time"`
	LastTradeTime  time.Time        `json:"last_trade_time"`
	TradeSuccesses int              `json:"trade_successes"`
	TradeFailures  int              `json:"trade_failures"`
}

// RunningTotals are the write-only aggregates exposed for dashboards.
type RunningTotals struct {
	TotalTrades      int     `json:"total_trades"`
	CompletedCycles  int     `json:"completed_cycles"`
	RealizedProfit   float64 `json:"realized_profit"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	TotalFees        float64 `json:"total_fees"`
	TotalGas         float64 `json:"total_gas"`
	TotalSlippage    float64 `json:"total_slippage"`
	WinningCycles    int     `json:"winning_cycles"`
	LosingCycles     int     `json:"losing_cycles"`
}
