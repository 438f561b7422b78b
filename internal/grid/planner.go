package grid

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"dex-grid-bot-go/internal/models"
)

// budgetTolerance 是预算归一化后允许的浮点误差
const budgetTolerance = 1e-6

var levelSeq atomic.Int64

// nextLevelID 生成进程内唯一的档位ID
func nextLevelID() int64 {
	return levelSeq.Add(1)
}

// PlanParams 是一次网格规划的全部输入
type PlanParams struct {
	PairID        string
	CurrentPrice  float64
	RangePercent  float64 // 区间半径, 如 0.05 表示 ±5%
	Count         int
	SizingMode    models.SizingMode
	InvestmentUSD float64 // 该交易对的资金额度

	GeometricRatio      float64 // geometric 模式的增长比率
	GeometricScale      float64 // geometric 模式的缩放因子
	HybridMaxMultiplier float64 // hybrid 模式的倍数上限

	SlippageTolerance float64
	ProfitTarget      float64
	Now               time.Time
}

// PlanLevels 在 [current*(1-r), current*(1+r)] 区间内生成几何分布的网格档位。
// 相邻档位保持相同的价格比例而不是相同的价差，与池子按比例收费的经济模型一致。
// 仓位倍数经过预算归一化，保证所有档位的美元仓位之和恰好等于投资额。
func PlanLevels(p PlanParams) ([]models.GridLevel, error) {
	if p.Count <= 0 {
		return nil, fmt.Errorf("网格数量必须为正数: %d", p.Count)
	}
	if p.CurrentPrice <= 0 {
		return nil, fmt.Errorf("当前价格必须为正数: %.6f", p.CurrentPrice)
	}
	if p.RangePercent <= 0 || p.RangePercent >= 1 {
		return nil, fmt.Errorf("价格区间比例必须在 (0,1): %.4f", p.RangePercent)
	}
	if p.InvestmentUSD <= 0 {
		return nil, fmt.Errorf("投资额必须为正数: %.2f", p.InvestmentUSD)
	}

	minPrice := p.CurrentPrice * (1 - p.RangePercent)
	maxPrice := p.CurrentPrice * (1 + p.RangePercent)

	prices := geometricPrices(minPrice, maxPrice, p.Count)

	// 计算每个档位的理论仓位倍数
	multipliers := make([]float64, p.Count)
	for i, price := range prices {
		multipliers[i] = sizeMultiplier(p, price)
	}

	// 预算归一化: 缩放所有倍数使其总和等于档位数，
	// 从而 sum(投资额*倍数/档位数) == 投资额
	var sum float64
	for _, m := range multipliers {
		sum += m
	}
	if sum <= 0 {
		return nil, fmt.Errorf("仓位倍数之和为非正数，无法归一化")
	}
	scale := float64(p.Count) / sum
	var normalized float64
	for i := range multipliers {
		multipliers[i] *= scale
		normalized += multipliers[i]
	}
	// 硬性后置条件: 归一化后的倍数之和必须等于档位数
	if math.Abs(normalized-float64(p.Count)) > budgetTolerance*float64(p.Count) {
		return nil, fmt.Errorf("预算归一化失败: 倍数之和 %.10f != %d", normalized, p.Count)
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	perLevelBudget := p.InvestmentUSD / float64(p.Count)
	levels := make([]models.GridLevel, 0, p.Count)
	for i, price := range prices {
		positionUSD := perLevelBudget * multipliers[i]
		quantity := positionUSD / price

		// 低于当前价的是买入档位，等于或高于的是卖出档位
		side := models.Sell
		if price < p.CurrentPrice {
			side = models.Buy
		}

		level := models.GridLevel{
			ID:           nextLevelID(),
			PairID:       p.PairID,
			Price:        price,
			Side:         side,
			Quantity:     quantity,
			PositionUSD:  positionUSD,
			ProfitTarget: p.ProfitTarget,
			Status:       models.LevelPending,
			CreatedAt:    now,
		}
		applySwapAmounts(&level, p.SlippageTolerance)
		levels = append(levels, level)
	}

	return levels, nil
}

// geometricPrices 生成几何分布的价格序列，首尾恰为 min 和 max
func geometricPrices(min, max float64, count int) []float64 {
	prices := make([]float64, count)
	if count == 1 {
		prices[0] = math.Sqrt(min * max)
		return prices
	}
	ratio := math.Pow(max/min, 1/float64(count-1))
	price := min
	for i := 0; i < count; i++ {
		prices[i] = price
		price *= ratio
	}
	// 消除累积浮点误差
	prices[count-1] = max
	return prices
}

// sizeMultiplier 按距中心价的归一化距离计算理论仓位倍数
func sizeMultiplier(p PlanParams, price float64) float64 {
	dist := math.Abs(price-p.CurrentPrice) / (p.CurrentPrice * p.RangePercent)
	if dist > 1 {
		dist = 1
	}

	switch p.SizingMode {
	case models.SizingGeometric:
		ratio := p.GeometricRatio
		if ratio <= 0 {
			ratio = 1.5
		}
		scale := p.GeometricScale
		if scale <= 0 {
			scale = 1.0
		}
		return scale * math.Pow(ratio, dist)
	case models.SizingHybrid:
		ratio := p.GeometricRatio
		if ratio <= 0 {
			ratio = 1.5
		}
		cap := p.HybridMaxMultiplier
		if cap <= 0 {
			cap = 3.0
		}
		m := (1 + dist) * math.Pow(ratio, dist)
		if m > cap {
			m = cap
		}
		return m
	default: // arithmetic: 仓位随距离线性增长
		return 1 + dist
	}
}

// applySwapAmounts 填写档位执行时的输入数量和滑点保护后的最小输出。
// 买入时输入计价资产，卖出时输入基础资产。
func applySwapAmounts(level *models.GridLevel, slippage float64) {
	if level.Side == models.Buy {
		level.SwapAmountIn = level.PositionUSD
		level.MinAmountOut = level.Quantity * (1 - slippage)
	} else {
		level.SwapAmountIn = level.Quantity
		level.MinAmountOut = level.PositionUSD * (1 - slippage)
	}
}

// RederiveSide 在触发时根据当前价重新推导档位方向。
// 价格向下穿越档位是买入，向上穿越是卖出；方向不是固定属性。
func RederiveSide(levelPrice, currentPrice float64) models.Side {
	if currentPrice <= levelPrice {
		return models.Buy
	}
	return models.Sell
}
