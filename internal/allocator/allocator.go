package allocator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// allocationTolerance 是分配比例之和允许的浮点误差
const allocationTolerance = 1e-6

// Config 是资金分配与调度的参数
type Config struct {
	TotalInvestment     float64
	DefaultGridCount    int
	DefaultRangePercent float64
	MaxConcurrentTrades int // 全局并发执行上限, 0 表示不限制
	BatchSize           int // 单批提交的档位数量, 0 表示不分批
}

// pairSchedule 是单个交易对的调度状态
type pairSchedule struct {
	baseInterval time.Duration // 配置的交易间隔基准
	interval     time.Duration // 随表现自适应的当前间隔
	lastTrade    time.Time
	successes    int
	failures     int
}

// Allocator 在启动时按配置比例切分资金，运行期间按表现调度各交易对。
// 分配一经确定便不再变化；调度间隔随成功率自适应伸缩。
type Allocator struct {
	cfg         Config
	allocations map[string]models.PairAllocation
	schedules   map[string]*pairSchedule
	logger      *zap.SugaredLogger
}

// New 创建分配器并校验分配比例。
// 启用交易对的比例之和不等于100%是配置错误，直接拒绝启动。
func New(cfg Config, pairs []models.PairConfig) (*Allocator, error) {
	if cfg.TotalInvestment <= 0 {
		return nil, fmt.Errorf("总投资额必须为正数: %.2f", cfg.TotalInvestment)
	}

	var sum float64
	for _, p := range pairs {
		sum += p.AllocationPercent
	}
	if math.Abs(sum-100) > allocationTolerance {
		return nil, fmt.Errorf("资金分配比例之和必须为100%%, 实际为 %.6f%%", sum)
	}

	a := &Allocator{
		cfg:         cfg,
		allocations: make(map[string]models.PairAllocation, len(pairs)),
		schedules:   make(map[string]*pairSchedule, len(pairs)),
		logger:      logger.Named("allocator"),
	}

	for _, p := range pairs {
		gridCount := p.GridCount
		if gridCount <= 0 {
			gridCount = cfg.DefaultGridCount
		}
		rangePct := p.RangePercent
		if rangePct <= 0 {
			rangePct = cfg.DefaultRangePercent
		}

		a.allocations[p.PairID] = models.PairAllocation{
			PairID:         p.PairID,
			AllocationUSD:  cfg.TotalInvestment * p.AllocationPercent / 100,
			GridCount:      gridCount,
			RangePercent:   rangePct,
			PoolFeePercent: p.PoolFeePercent,
		}

		base := time.Duration(p.TradingIntervalSec) * time.Second
		if base <= 0 {
			base = 30 * time.Second
		}
		a.schedules[p.PairID] = &pairSchedule{baseInterval: base, interval: base}

		a.logger.Infof("[%s] 分配资金 %.2f USD (%.2f%%), 网格 %d 档",
			p.PairID, a.allocations[p.PairID].AllocationUSD, p.AllocationPercent, gridCount)
	}

	return a, nil
}

// Allocation 返回交易对的资金额度
func (a *Allocator) Allocation(pairID string) (models.PairAllocation, bool) {
	alloc, ok := a.allocations[pairID]
	return alloc, ok
}

// Allocations 返回全部分配结果
func (a *Allocator) Allocations() []models.PairAllocation {
	out := make([]models.PairAllocation, 0, len(a.allocations))
	for _, alloc := range a.allocations {
		out = append(out, alloc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairID < out[j].PairID })
	return out
}

// ReadyToTrade 判断交易对是否已过冷却期
func (a *Allocator) ReadyToTrade(pairID string, now time.Time) bool {
	s, ok := a.schedules[pairID]
	if !ok {
		return false
	}
	return s.lastTrade.IsZero() || now.Sub(s.lastTrade) >= s.interval
}

// RecordOutcome 记录一次执行结果并调整调度间隔:
// 成功率低于一半时间隔加倍降频，高于八成时间隔减半提频，
// 始终夹在基准间隔的 [1/2, 4] 倍之间。
func (a *Allocator) RecordOutcome(pairID string, success bool, now time.Time) {
	s, ok := a.schedules[pairID]
	if !ok {
		return
	}
	s.lastTrade = now
	if success {
		s.successes++
	} else {
		s.failures++
	}

	total := s.successes + s.failures
	if total < 4 {
		return
	}
	rate := float64(s.successes) / float64(total)

	switch {
	case rate < 0.5:
		s.interval *= 2
		if max := s.baseInterval * 4; s.interval > max {
			s.interval = max
		}
		a.logger.Warnf("[%s] 成功率 %.0f%%, 调度间隔放宽至 %s", pairID, rate*100, s.interval)
	case rate > 0.8:
		s.interval /= 2
		if min := s.baseInterval / 2; s.interval < min {
			s.interval = min
		}
	}
}

// Prioritize 为触发的档位计算优先级得分并按得分降序排序。
// 得分由预期利润和距当前价的接近程度组成，波动率高的交易对获得加成。
func (a *Allocator) Prioritize(levels []*models.GridLevel, prices map[string]float64, volatility map[string]float64) {
	for _, lvl := range levels {
		expectedProfit := lvl.PositionUSD * lvl.ProfitTarget

		proximity := 0.0
		if price, ok := prices[lvl.PairID]; ok && price > 0 {
			dist := math.Abs(lvl.Price-price) / price
			proximity = 1 / (1 + dist*100)
		}

		volBoost := 1.0
		if vol, ok := volatility[lvl.PairID]; ok {
			volBoost = 1 + vol*10
		}

		lvl.Priority = (expectedProfit + proximity) * volBoost
	}

	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Priority > levels[j].Priority
	})
}

// Batch 把已排序的档位按批量大小切分，并施加全局并发上限。
// 超出并发上限的低优先级档位不进入批次，而是原样返回给调用方，
// 由调用方把它们放回待触发状态。
func (a *Allocator) Batch(levels []*models.GridLevel, inFlight int) (batches [][]*models.GridLevel, dropped []*models.GridLevel) {
	if a.cfg.MaxConcurrentTrades > 0 {
		room := a.cfg.MaxConcurrentTrades - inFlight
		if room <= 0 {
			return nil, levels
		}
		if len(levels) > room {
			a.logger.Debugf("并发上限 %d, 裁掉 %d 个低优先级档位",
				a.cfg.MaxConcurrentTrades, len(levels)-room)
			dropped = levels[room:]
			levels = levels[:room]
		}
	}

	size := a.cfg.BatchSize
	if size <= 0 || size >= len(levels) {
		if len(levels) == 0 {
			return nil, dropped
		}
		return [][]*models.GridLevel{levels}, dropped
	}

	for len(levels) > 0 {
		n := size
		if n > len(levels) {
			n = len(levels)
		}
		batches = append(batches, levels[:n])
		levels = levels[n:]
	}
	return batches, dropped
}
