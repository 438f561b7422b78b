package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"dex-grid-bot-go/internal/models"
)

// allocationTolerance 是分配比例求和时允许的浮点误差
const allocationTolerance = 1e-6

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	applyDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults 为未填写的运行参数填充保守默认值。
// 资金、网格、分配等硬性参数不设默认值，缺失即校验失败。
func applyDefaults(cfg *models.Config) {
	if cfg.MonitorIntervalSec <= 0 {
		cfg.MonitorIntervalSec = 5
	}
	if cfg.ExecTimeoutSec <= 0 {
		cfg.ExecTimeoutSec = 30
	}
	if cfg.MaxLevelFailures <= 0 {
		cfg.MaxLevelFailures = 3
	}
	if cfg.MaxConcurrentTrades <= 0 {
		cfg.MaxConcurrentTrades = 3
	}
	if cfg.PriceCacheTTLSec <= 0 {
		cfg.PriceCacheTTLSec = 30
	}
	if cfg.SourceRetries <= 0 {
		cfg.SourceRetries = 2
	}
	if cfg.SourceRetryDelayMs <= 0 {
		cfg.SourceRetryDelayMs = 500
	}
	if cfg.SourceFailThreshold <= 0 {
		cfg.SourceFailThreshold = 3
	}
	if cfg.VolatilityWindowSize <= 0 {
		cfg.VolatilityWindowSize = 60
	}
	if cfg.ReplanCooldownSec <= 0 {
		cfg.ReplanCooldownSec = 300
	}
	if cfg.SizingMode == "" {
		cfg.SizingMode = string(models.SizingArithmetic)
	}
	if cfg.GeometricRatio <= 0 {
		cfg.GeometricRatio = 1.5
	}
	if cfg.GeometricScale <= 0 {
		cfg.GeometricScale = 1.0
	}
	if cfg.HybridMaxMultiplier <= 0 {
		cfg.HybridMaxMultiplier = 3.0
	}
	if cfg.SlippageBase <= 0 {
		cfg.SlippageBase = 0.001
	}
	if cfg.SlippageDepthUSD <= 0 {
		cfg.SlippageDepthUSD = 10000
	}
	if cfg.GasCostUSDBase <= 0 {
		cfg.GasCostUSDBase = 0.5
	}
}

// Validate 校验配置的硬性约束。
// 任何违反都是致命的配置错误，调用方应直接退出，绝不自动修正。
func Validate(cfg *models.Config) error {
	if cfg.TotalInvestment <= 0 {
		return fmt.Errorf("配置错误: total_investment 必须为正数, 当前为 %.2f", cfg.TotalInvestment)
	}
	if cfg.GridCount <= 0 {
		return fmt.Errorf("配置错误: grid_count 必须为正数, 当前为 %d", cfg.GridCount)
	}
	if cfg.RangePercent <= 0 || cfg.RangePercent >= 1 {
		return fmt.Errorf("配置错误: range_percent 必须在 (0,1) 区间, 当前为 %.4f", cfg.RangePercent)
	}
	if cfg.SlippageTolerance < 0 || cfg.SlippageTolerance >= 1 {
		return fmt.Errorf("配置错误: slippage_tolerance 必须在 [0,1) 区间, 当前为 %.4f", cfg.SlippageTolerance)
	}

	switch models.SizingMode(cfg.SizingMode) {
	case models.SizingArithmetic, models.SizingGeometric, models.SizingHybrid:
	default:
		return fmt.Errorf("配置错误: 未知的 sizing_mode %q", cfg.SizingMode)
	}

	if cfg.HighVolThreshold > 0 && cfg.LowVolThreshold > 0 && cfg.LowVolThreshold >= cfg.HighVolThreshold {
		return fmt.Errorf("配置错误: low_vol_threshold (%.6f) 必须小于 high_vol_threshold (%.6f)",
			cfg.LowVolThreshold, cfg.HighVolThreshold)
	}
	if cfg.ProfitMarginLow > 0 && cfg.ProfitMarginHigh > 0 && cfg.ProfitMarginLow > cfg.ProfitMarginHigh {
		return fmt.Errorf("配置错误: profit_margin_low 不能大于 profit_margin_high")
	}

	enabled := enabledPairs(cfg)
	if len(enabled) == 0 {
		return fmt.Errorf("配置错误: 至少需要启用一个交易对")
	}

	seen := make(map[string]bool, len(enabled))
	var sum float64
	for _, p := range enabled {
		if p.PairID == "" {
			return fmt.Errorf("配置错误: 交易对缺少 pair_id")
		}
		if seen[p.PairID] {
			return fmt.Errorf("配置错误: 交易对 %s 重复定义", p.PairID)
		}
		seen[p.PairID] = true
		if p.AllocationPercent <= 0 {
			return fmt.Errorf("配置错误: 交易对 %s 的 allocation_percent 必须为正数", p.PairID)
		}
		if p.PoolFeePercent < 0 {
			return fmt.Errorf("配置错误: 交易对 %s 的 pool_fee_percent 不能为负", p.PairID)
		}
		if p.RangePercent < 0 || p.RangePercent >= 1 {
			return fmt.Errorf("配置错误: 交易对 %s 的 range_percent 必须在 [0,1) 区间", p.PairID)
		}
		sum += p.AllocationPercent
	}

	// 硬性约束: 启用交易对的分配比例之和必须恰好为 100%
	if math.Abs(sum-100.0) > allocationTolerance {
		return fmt.Errorf("配置错误: 启用交易对的 allocation_percent 之和必须为 100.0, 当前为 %.4f", sum)
	}

	return nil
}

// enabledPairs 返回所有启用的交易对配置
func enabledPairs(cfg *models.Config) []models.PairConfig {
	out := make([]models.PairConfig, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// EnabledPairs 对外暴露启用交易对列表
func EnabledPairs(cfg *models.Config) []models.PairConfig {
	return enabledPairs(cfg)
}
