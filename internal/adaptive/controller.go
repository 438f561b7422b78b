package adaptive

import (
	"fmt"
	"math"
	"time"

	"dex-grid-bot-go/internal/logger"

	"go.uber.org/zap"
)

// Regime 表示当前的波动率状态
type Regime string

const (
	RegimeHigh   Regime = "HIGH"   // 高波动: 更少档位、更低利润率
	RegimeNormal Regime = "NORMAL" // 基准
	RegimeLow    Regime = "LOW"    // 低波动: 更多档位、更高利润率
)

// Params 将波动率状态映射到网格参数
type Params struct {
	GridCount    int
	ProfitMargin float64
	Regime       Regime
}

// ControllerConfig 汇总自适应控制器的全部阈值
type ControllerConfig struct {
	WindowSize int // 滚动价格窗口长度

	HighVolThreshold float64
	LowVolThreshold  float64

	GridCountBase    int
	GridCountHighVol int
	GridCountLowVol  int

	ProfitMarginBase float64
	ProfitMarginLow  float64 // 高波动时使用
	ProfitMarginHigh float64 // 低波动时使用

	SignificantMovePercent float64 // 偏离区间中心的显著移动阈值
	ForcedUpdatePercent    float64 // 强制重建阈值
	ReplanCooldown         time.Duration
}

// Controller 为单个交易对维护滚动价格窗口，
// 计算波动率并决定何时触发网格重建。
type Controller struct {
	pairID string
	cfg    ControllerConfig
	prices []float64
	logger *zap.SugaredLogger
}

// NewController 创建交易对的自适应控制器
func NewController(pairID string, cfg ControllerConfig) *Controller {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 60
	}
	return &Controller{
		pairID: pairID,
		cfg:    cfg,
		prices: make([]float64, 0, cfg.WindowSize),
		logger: logger.Named("adaptive"),
	}
}

// Observe 把最新价格加入滚动窗口，窗口满时淘汰最旧的
func (c *Controller) Observe(price float64) {
	if price <= 0 {
		return
	}
	c.prices = append(c.prices, price)
	if len(c.prices) > c.cfg.WindowSize {
		c.prices = c.prices[1:]
	}
}

// Seed 用历史收盘价预填窗口，让波动率从首个周期起就可用
func (c *Controller) Seed(closes []float64) {
	for _, p := range closes {
		c.Observe(p)
	}
	c.logger.Infof("[%s] 波动率窗口预填完成, 样本数: %d", c.pairID, len(c.prices))
}

// Volatility 返回相邻收益率的标准差。
// 样本不足时返回 0，调用方按基准状态处理。
func (c *Controller) Volatility() float64 {
	if len(c.prices) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(c.prices)-1)
	for i := 1; i < len(c.prices); i++ {
		if c.prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, c.prices[i]/c.prices[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}

// CurrentParams 根据波动率状态返回应使用的网格参数
func (c *Controller) CurrentParams() Params {
	vol := c.Volatility()

	switch {
	case c.cfg.HighVolThreshold > 0 && vol >= c.cfg.HighVolThreshold:
		return Params{
			GridCount:    c.cfg.GridCountHighVol,
			ProfitMargin: c.cfg.ProfitMarginLow,
			Regime:       RegimeHigh,
		}
	case c.cfg.LowVolThreshold > 0 && vol > 0 && vol <= c.cfg.LowVolThreshold:
		return Params{
			GridCount:    c.cfg.GridCountLowVol,
			ProfitMargin: c.cfg.ProfitMarginHigh,
			Regime:       RegimeLow,
		}
	default:
		return Params{
			GridCount:    c.cfg.GridCountBase,
			ProfitMargin: c.cfg.ProfitMarginBase,
			Regime:       RegimeNormal,
		}
	}
}

// ReplanDecision 是一次重建判定的结果
type ReplanDecision struct {
	Replan bool
	Reason string
}

// ShouldReplan 判断是否需要重建网格。
// 触发条件: 价格走出区间、偏离中心超过显著阈值、或超过强制阈值;
// 每个条件都受最小冷却时间约束，避免频繁重建。
func (c *Controller) ShouldReplan(price, rangeLow, rangeHigh, center float64, lastReplan, now time.Time) ReplanDecision {
	if center <= 0 || rangeHigh <= rangeLow {
		return ReplanDecision{Replan: true, Reason: "区间未初始化"}
	}
	if now.Sub(lastReplan) < c.cfg.ReplanCooldown {
		return ReplanDecision{}
	}

	deviation := math.Abs(price-center) / center

	if c.cfg.ForcedUpdatePercent > 0 && deviation >= c.cfg.ForcedUpdatePercent {
		return ReplanDecision{Replan: true, Reason: fmt.Sprintf("偏离中心 %.2f%%, 超过强制重建阈值", deviation*100)}
	}
	if price < rangeLow || price > rangeHigh {
		return ReplanDecision{Replan: true, Reason: fmt.Sprintf("价格 %.6f 走出区间 [%.6f, %.6f]", price, rangeLow, rangeHigh)}
	}
	if c.cfg.SignificantMovePercent > 0 && deviation >= c.cfg.SignificantMovePercent {
		return ReplanDecision{Replan: true, Reason: fmt.Sprintf("偏离中心 %.2f%%, 超过显著移动阈值", deviation*100)}
	}

	return ReplanDecision{}
}

// SampleCount 返回当前窗口内的样本数
func (c *Controller) SampleCount() int {
	return len(c.prices)
}
