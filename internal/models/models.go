package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// QuoteSource 标识报价的来源渠道
type QuoteSource string

const (
	SourceStream         QuoteSource = "STREAM"          // 实时行情流
	SourceOnChainDirect  QuoteSource = "ONCHAIN_DIRECT"  // 链上直接报价
	SourceOnChainChained QuoteSource = "ONCHAIN_CHAINED" // 链上中转报价 (经过中间资产)
	SourceCalculated     QuoteSource = "CALCULATED"      // 由其他报价推算
)

// Confidence 表示报价的置信度
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// PriceQuote 是聚合器产出的单个报价，产出后不可变，只会被更新的报价取代
type PriceQuote struct {
	Asset      string      `json:"asset"`
	Price      float64     `json:"price"`
	Timestamp  time.Time   `json:"timestamp"`
	Source     QuoteSource `json:"source"`
	Confidence Confidence  `json:"confidence"`
}

// SizingMode 定义了网格仓位的分布模式
type SizingMode string

const (
	SizingArithmetic SizingMode = "arithmetic" // 仓位随距离线性增长
	SizingGeometric  SizingMode = "geometric"  // 仓位随距离指数增长
	SizingHybrid     SizingMode = "hybrid"     // 线性与指数的组合，带上限
)

// LevelStatus 描述网格档位的生命周期状态
type LevelStatus string

const (
	LevelPending   LevelStatus = "PENDING"   // 等待价格触发
	LevelTriggered LevelStatus = "TRIGGERED" // 价格已穿越，待验证
	LevelValidated LevelStatus = "VALIDATED" // 盈利校验通过
	LevelCommitted LevelStatus = "COMMITTED" // 已提交执行
	LevelFilled    LevelStatus = "FILLED"    // 已成交
	LevelRejected  LevelStatus = "REJECTED"  // 盈利校验未通过
	LevelFailed    LevelStatus = "FAILED"    // 执行失败
	LevelDisabled  LevelStatus = "DISABLED"  // 失败次数超限，永久禁用
)

// GridLevel 代表网格中的一个价格档位。
// 档位由规划器创建，触发/成交时由周期引擎修改，
// 成交、重新规划或永久禁用时从待触发集合中移除。
// 注意: Side 在触发时根据当前价与档位价的关系重新推导，不是固定不变的。
type GridLevel struct {
	ID           int64       `json:"id"`
	PairID       string      `json:"pair_id"`
	Price        float64     `json:"price"`
	Side         Side        `json:"side"`
	Quantity     float64     `json:"quantity"`       // 基础资产数量
	PositionUSD  float64     `json:"position_usd"`   // 档位的美元仓位价值
	SwapAmountIn float64     `json:"swap_amount_in"` // 执行时的输入数量
	MinAmountOut float64     `json:"min_amount_out"` // 滑点容忍后的最小输出
	ProfitTarget float64     `json:"profit_target"`  // 目标利润率
	Priority     float64     `json:"priority"`       // 调度优先级得分
	IsActive     bool        `json:"is_active"`      // 已触发且尚未成交
	Status       LevelStatus `json:"status"`
	FailureCount int         `json:"failure_count"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TradeCosts 记录一次执行的各项成本 (美元计)
type TradeCosts struct {
	PoolFee  float64 `json:"pool_fee"`
	GasCost  float64 `json:"gas_cost"`
	Slippage float64 `json:"slippage"`
}

// Total 返回成本合计
func (c TradeCosts) Total() float64 {
	return c.PoolFee + c.GasCost + c.Slippage
}

// TradeExecution 在档位成交确认后创建，此后不可变
type TradeExecution struct {
	ID          string     `json:"id"`
	LevelID     int64      `json:"level_id"`
	PairID      string     `json:"pair_id"`
	Side        Side       `json:"side"`
	ExecPrice   float64    `json:"exec_price"`
	Quantity    float64    `json:"quantity"`
	USDValue    float64    `json:"usd_value"`
	Costs       TradeCosts `json:"costs"`
	TxRef       string     `json:"tx_ref"`
	BlockNumber uint64     `json:"block_number"`
	GasUsed     uint64     `json:"gas_used"`
	Timestamp   time.Time  `json:"timestamp"`
}

// TradeCycle 将同一交易对上的一买一卖配对成一个完整周期。
// 周期只会被关闭一次，关闭后不会重新打开。
type TradeCycle struct {
	ID          string          `json:"id"`
	PairID      string          `json:"pair_id"`
	OpenExec    TradeExecution  `json:"open_exec"`
	CloseExec   *TradeExecution `json:"close_exec,omitempty"`
	GrossProfit float64         `json:"gross_profit"`
	TotalCosts  float64         `json:"total_costs"`
	NetProfit   float64         `json:"net_profit"`
	IsComplete  bool            `json:"is_complete"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at,omitempty"`
}

// PairAllocation 是启动时按资金分配策略确定的单交易对额度，运行期间不变
type PairAllocation struct {
	PairID         string  `json:"pair_id"`
	AllocationUSD  float64 `json:"allocation_usd"`
	GridCount      int     `json:"grid_count"`
	RangePercent   float64 `json:"range_percent"`
	PoolFeePercent float64 `json:"pool_fee_percent"`
}

// RiskState 是风控监视器每个监控周期更新的状态。
// EmergencyStopped 一旦置位只能由操作员显式复位。
type RiskState struct {
	DailyPnL          float64   `json:"daily_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	MaxImbalance      float64   `json:"max_imbalance"`
	EmergencyStopped  bool      `json:"emergency_stopped"`
	LastReset         time.Time `json:"last_reset"`
}

// SwapResult 是执行协作方返回的成交回执
type SwapResult struct {
	TxRef       string  `json:"tx_ref"`
	BlockNumber uint64  `json:"block_number"`
	GasUsed     uint64  `json:"gas_used"`
	AmountOut   float64 `json:"amount_out"`
	ExecPrice   float64 `json:"exec_price"`
	Status      string  `json:"status"` // SUCCESS, FAILED, TIMEOUT
}
