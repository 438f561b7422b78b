package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// ErrNoPriceData 表示所有报价来源都已耗尽。
// 调用方必须跳过本轮该资产的处理，绝不能用常量价格兜底。
var ErrNoPriceData = errors.New("所有报价来源均不可用")

// AggregatorConfig 汇总聚合器的运行参数
type AggregatorConfig struct {
	CacheTTL      time.Duration
	Retries       int           // 单个来源的重试次数
	RetryDelay    time.Duration // 重试间隔，用于吸收行情流预热延迟
	FailThreshold int           // 连续失败多少次后标记来源不可用
	ProbeInterval time.Duration // 不可用来源的探测间隔
	Sanity        map[string]models.PriceRange
	Clock         Clock
}

// Aggregator 将多个报价来源合并为单一的带置信度报价。
// 来源按优先级排列成有序列表，由统一的调度循环取第一个成功结果，
// 回退顺序是数据而不是控制流。
type Aggregator struct {
	sources    []PriceSource
	cache      *QuoteCache
	health     *healthTable
	sanity     map[string]models.PriceRange
	retries    int
	retryDelay time.Duration
	clock      Clock
	logger     *zap.SugaredLogger
}

// NewAggregator 创建聚合器，sources 按优先级从高到低排列
func NewAggregator(cfg AggregatorConfig, sources ...PriceSource) *Aggregator {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = time.Minute
	}
	return &Aggregator{
		sources:    sources,
		cache:      NewQuoteCache(cfg.CacheTTL, clock),
		health:     newHealthTable(cfg.FailThreshold, probeInterval, clock),
		sanity:     cfg.Sanity,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		clock:      clock,
		logger:     logger.Named("pricing"),
	}
}

// GetPrice 返回资产的当前报价。
// 依次尝试各来源，全部失败时返回 ErrNoPriceData。
func (a *Aggregator) GetPrice(ctx context.Context, asset string) (models.PriceQuote, error) {
	if quote, ok := a.cache.Get(asset); ok {
		return quote, nil
	}

	for _, src := range a.sources {
		if !a.health.isAvailable(src.Name()) {
			continue
		}

		price, err := a.fetchWithRetry(ctx, src, asset)
		if err != nil {
			if a.health.recordFailure(src.Name()) {
				a.logger.Warnf("报价来源 %s 连续失败，已标记为不可用", src.Name())
			} else {
				a.logger.Debugf("报价来源 %s 获取 %s 失败: %v，尝试下一来源", src.Name(), asset, err)
			}
			continue
		}
		a.health.recordSuccess(src.Name())

		// 合理性校验失败的报价直接丢弃，不缓存也不返回
		if !a.plausible(asset, price) {
			a.logger.Warnf("丢弃 %s 的异常报价 %.6f (来源: %s)", asset, price, src.Name())
			continue
		}

		quote := models.PriceQuote{
			Asset:      asset,
			Price:      price,
			Timestamp:  a.clock.Now(),
			Source:     src.Source(),
			Confidence: src.Confidence(),
		}
		a.cache.Put(quote)
		return quote, nil
	}

	return models.PriceQuote{}, fmt.Errorf("%w: %s", ErrNoPriceData, asset)
}

// fetchWithRetry 对单个来源做有限次重试。
// 重试只用来吸收短暂的预热延迟，不用于掩盖持续性故障。
func (a *Aggregator) fetchWithRetry(ctx context.Context, src PriceSource, asset string) (float64, error) {
	var lastErr error
	attempts := a.retries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(a.retryDelay):
			}
		}
		price, err := src.Fetch(ctx, asset)
		if err == nil {
			if price <= 0 {
				lastErr = fmt.Errorf("来源 %s 返回了非正价格 %.6f", src.Name(), price)
				continue
			}
			return price, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// plausible 判断价格是否落在资产的合理区间内。
// 未配置区间的资产只要求价格为正。
func (a *Aggregator) plausible(asset string, price float64) bool {
	if price <= 0 {
		return false
	}
	r, ok := a.sanity[asset]
	if !ok {
		return true
	}
	return price >= r.Min && price <= r.Max
}

// ProbeUnavailable 对不可用的来源做一次轻量探测，成功则恢复可用。
// 由机器人的后台健康检查定时器调用。
func (a *Aggregator) ProbeUnavailable(ctx context.Context, probeAsset string) {
	for _, src := range a.sources {
		if a.health.isAvailable(src.Name()) {
			continue
		}
		if price, err := src.Fetch(ctx, probeAsset); err == nil && price > 0 {
			a.health.recordSuccess(src.Name())
			a.logger.Infof("报价来源 %s 探测成功，恢复可用", src.Name())
		} else {
			a.health.recordFailure(src.Name())
		}
	}
}

// Health 返回所有来源的健康快照
func (a *Aggregator) Health() []SourceHealth {
	return a.health.snapshot()
}

// Cache 暴露底层缓存，供控制循环在周期边界做维护
func (a *Aggregator) Cache() *QuoteCache {
	return a.cache
}
