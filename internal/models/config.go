package models

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	DBPath     string `json:"db_path"`     // BadgerDB 状态库路径
	LedgerPath string `json:"ledger_path"` // sqlite 交易台账路径

	StreamWSURL   string `json:"stream_ws_url"`   // 参考价行情流地址
	RPCURL        string `json:"rpc_url"`         // EVM 节点 RPC 地址 (可被环境变量覆盖)
	QuoterAddress string `json:"quoter_address"`  // 链上报价合约地址
	NativeAsset   string `json:"native_asset"`    // gas 计价资产, 如 "ETH"
	BridgeAsset   string `json:"bridge_asset"`    // 中转报价使用的中间资产, 如 "USDC"

	TotalInvestment float64 `json:"total_investment"` // 总投资额 (USD)
	DryRun          bool    `json:"dry_run"`          // 模拟执行，不提交真实交易

	SizingMode          string  `json:"sizing_mode"`           // arithmetic / geometric / hybrid
	GeometricRatio      float64 `json:"geometric_ratio"`       // geometric 模式的增长比率
	GeometricScale      float64 `json:"geometric_scale"`       // geometric 模式的缩放因子
	HybridMaxMultiplier float64 `json:"hybrid_max_multiplier"` // hybrid 模式的仓位倍数上限

	GridCount         int     `json:"grid_count"`          // 基准网格数量
	RangePercent      float64 `json:"range_percent"`       // 基准价格区间比例
	SlippageTolerance float64 `json:"slippage_tolerance"`  // 滑点容忍度
	ProfitMarginBase  float64 `json:"profit_margin_base"`  // 基准利润率
	ProfitMarginLow   float64 `json:"profit_margin_low"`   // 高波动时的利润率下限
	ProfitMarginHigh  float64 `json:"profit_margin_high"`  // 低波动时的利润率上限
	MinProfitUSD      float64 `json:"min_profit_usd"`      // 净利润绝对下限
	MinProfitPercent  float64 `json:"min_profit_percent"`  // 净利润占仓位比例下限
	GasCostUSDBase    float64 `json:"gas_cost_usd_base"`   // 无法取到链上 gas 价时的近似固定 gas 成本
	SlippageBase      float64 `json:"slippage_base"`       // 滑点估算基准比例
	SlippageDepthUSD  float64 `json:"slippage_depth_usd"`  // 滑点随仓位放大的参考深度

	HighVolThreshold float64 `json:"high_vol_threshold"` // 高波动阈值
	LowVolThreshold  float64 `json:"low_vol_threshold"`  // 低波动阈值
	GridCountHighVol int     `json:"grid_count_high_vol"`
	GridCountLowVol  int     `json:"grid_count_low_vol"`

	SignificantMovePercent float64 `json:"significant_move_percent"` // 显著偏移阈值
	ForcedUpdatePercent    float64 `json:"forced_update_percent"`    // 强制重建阈值
	ReplanCooldownSec      int     `json:"replan_cooldown_sec"`      // 两次重建之间的最小间隔
	VolatilityWindowSize   int     `json:"volatility_window_size"`   // 波动率滚动窗口长度

	MonitorIntervalSec  int `json:"monitor_interval_sec"`  // 主循环周期
	ExecTimeoutSec      int `json:"exec_timeout_sec"`      // 单次执行调用的超时
	MaxLevelFailures    int `json:"max_level_failures"`    // 单档位熔断阈值
	MaxConcurrentTrades int `json:"max_concurrent_trades"` // 全局并发执行上限
	BatchSize           int `json:"batch_size"`            // 批量执行大小, 0 表示不分批
	PriceCacheTTLSec    int `json:"price_cache_ttl_sec"`   // 报价缓存 TTL
	SourceRetries       int `json:"source_retries"`        // 单个报价源的重试次数
	SourceRetryDelayMs  int `json:"source_retry_delay_ms"` // 重试间隔毫秒数
	SourceFailThreshold int `json:"source_fail_threshold"` // 连续失败多少次后标记源不可用

	DailyLossLimitUSD    float64 `json:"daily_loss_limit_usd"`   // 单日亏损上限
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // 连续亏损上限
	EmergencyStopLossUSD float64 `json:"emergency_stop_loss_usd"`

	Pairs       []PairConfig           `json:"pairs"`
	Tokens      map[string]TokenConfig `json:"tokens"`       // 资产名 -> 代币信息
	USDAsset    string                 `json:"usd_asset"`    // 美元锚定资产, 如 "USDC"
	PriceSanity map[string]PriceRange  `json:"price_sanity"` // 每个资产的合理价格区间

	LogConfig LogConfig `json:"log"`
}

// PairConfig 定义单个交易对的参数
type PairConfig struct {
	PairID             string  `json:"pair_id"`    // 如 "WETH/USDC"
	BaseAsset          string  `json:"base_asset"` // 如 "ETH"
	QuoteAsset         string  `json:"quote_asset"`
	BaseToken          string  `json:"base_token"`  // 基础资产合约地址
	QuoteToken         string  `json:"quote_token"` // 计价资产合约地址
	AllocationPercent  float64 `json:"allocation_percent"`
	GridCount          int     `json:"grid_count,omitempty"`    // 0 表示使用全局值
	RangePercent       float64 `json:"range_percent,omitempty"` // 0 表示使用全局值
	PoolFeePercent     float64 `json:"pool_fee_percent"`        // 池子费率, 如 0.3
	TradingIntervalSec int     `json:"trading_interval_sec"`    // 冷却基准
	StreamSymbol       string  `json:"stream_symbol"`           // 行情流订阅符号, 如 "ethusdc"
	Enabled            bool    `json:"enabled"`
}

// TokenConfig 定义资产对应的链上代币信息
type TokenConfig struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// PriceRange 定义资产价格的合理区间，区间外的报价会被丢弃
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}
