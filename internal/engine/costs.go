package engine

import (
	"context"
	"math/big"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// PriceGetter 是成本估算所需的最小报价接口
type PriceGetter interface {
	GetPrice(ctx context.Context, asset string) (models.PriceQuote, error)
}

// GasPricer 提供链上gas价格，允许为空 (dry-run 或节点不可用时)
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// CostConfig 是成本模型的参数
type CostConfig struct {
	NativeAsset      string  // gas 计价资产, 如 "ETH"
	GasUnits         uint64  // 单次兑换的近似gas用量
	GasCostUSDBase   float64 // 取不到链上数据时的兜底gas成本
	SlippageBase     float64 // 滑点估算基准比例
	SlippageDepthUSD float64 // 仓位越大滑点越大的参考深度
}

// CostEstimator 实现统一的成本模型:
// 池子费率按仓位比例收取，gas是近似固定成本并经报价聚合器折算成美元，
// 滑点估算随仓位大小放大。买卖两侧使用同一换算路径。
type CostEstimator struct {
	cfg    CostConfig
	prices PriceGetter
	gas    GasPricer
	logger *zap.SugaredLogger
}

// NewCostEstimator 创建成本估算器，gas 可以为 nil
func NewCostEstimator(cfg CostConfig, prices PriceGetter, gas GasPricer) *CostEstimator {
	if cfg.GasUnits == 0 {
		cfg.GasUnits = 150000
	}
	return &CostEstimator{
		cfg:    cfg,
		prices: prices,
		gas:    gas,
		logger: logger.Named("costs"),
	}
}

// Estimate 估算一次执行的全部成本 (美元)
func (e *CostEstimator) Estimate(ctx context.Context, positionUSD, poolFeePercent float64) models.TradeCosts {
	poolFee := positionUSD * poolFeePercent / 100

	slippage := positionUSD * e.cfg.SlippageBase
	if e.cfg.SlippageDepthUSD > 0 {
		slippage *= 1 + positionUSD/e.cfg.SlippageDepthUSD
	}

	return models.TradeCosts{
		PoolFee:  poolFee,
		GasCost:  e.gasCostUSD(ctx),
		Slippage: slippage,
	}
}

// gasCostUSD 将链上gas价格折算成美元，任何一步失败都退回兜底值
func (e *CostEstimator) gasCostUSD(ctx context.Context) float64 {
	if e.gas == nil || e.prices == nil || e.cfg.NativeAsset == "" {
		return e.cfg.GasCostUSDBase
	}

	gasPrice, err := e.gas.SuggestGasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		return e.cfg.GasCostUSDBase
	}

	quote, err := e.prices.GetPrice(ctx, e.cfg.NativeAsset)
	if err != nil {
		e.logger.Debugf("无法取得 %s 报价折算gas成本，使用兜底值: %v", e.cfg.NativeAsset, err)
		return e.cfg.GasCostUSDBase
	}

	// wei * gasUnits / 1e18 = 原生资产数量
	weiTotal := new(big.Float).SetInt(new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(e.cfg.GasUnits)))
	nativeAmount, _ := new(big.Float).Quo(weiTotal, big.NewFloat(1e18)).Float64()

	return nativeAmount * quote.Price
}
