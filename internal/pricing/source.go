package pricing

import (
	"context"
	"sync"
	"time"

	"dex-grid-bot-go/internal/models"
)

// PriceSource 是单个报价来源。聚合器按优先级顺序逐个尝试，
// 来源只负责返回价格或报错，不做缓存和合理性判断。
type PriceSource interface {
	Name() string
	Source() models.QuoteSource
	Confidence() models.Confidence
	Fetch(ctx context.Context, asset string) (float64, error)
}

// OnChainQuoter 是链上报价协作方。
// 实现方负责与报价合约交互，核心只消费价格。
type OnChainQuoter interface {
	// QuoteUSD 直接通过 资产/计价资产 池子取得美元价格
	QuoteUSD(ctx context.Context, asset string) (float64, error)
	// QuoteVia 经过中间资产合成价格: asset->bridge 与 bridge->USD 两段报价相乘
	QuoteVia(ctx context.Context, asset, bridge string) (float64, error)
}

type sourceHealth struct {
	consecutiveFails int
	available        bool
	retryAt          time.Time // 不可用后允许下一次探测的时间
}

// healthTable 记录每个来源的连续失败次数与可用性。
// 主循环读取、后台健康检查写入，因此所有访问都加锁。
type healthTable struct {
	mu            sync.Mutex
	failThreshold int
	probeInterval time.Duration
	clock         Clock
	entries       map[string]*sourceHealth
}

func newHealthTable(failThreshold int, probeInterval time.Duration, clock Clock) *healthTable {
	if clock == nil {
		clock = systemClock{}
	}
	return &healthTable{
		failThreshold: failThreshold,
		probeInterval: probeInterval,
		clock:         clock,
		entries:       make(map[string]*sourceHealth),
	}
}

func (h *healthTable) entry(name string) *sourceHealth {
	e, ok := h.entries[name]
	if !ok {
		e = &sourceHealth{available: true}
		h.entries[name] = e
	}
	return e
}

// isAvailable 返回来源当前是否可以尝试。
// 被标记为不可用的来源在探测间隔过后允许一次探测。
func (h *healthTable) isAvailable(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entry(name)
	if e.available {
		return true
	}
	return h.clock.Now().After(e.retryAt)
}

// recordSuccess 重置失败计数并恢复可用状态
func (h *healthTable) recordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entry(name)
	e.consecutiveFails = 0
	e.available = true
}

// recordFailure 累加失败计数，超过阈值后标记不可用。
// 返回该来源本次是否被标记为不可用。
func (h *healthTable) recordFailure(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.entry(name)
	e.consecutiveFails++
	if e.available && e.consecutiveFails >= h.failThreshold {
		e.available = false
		e.retryAt = h.clock.Now().Add(h.probeInterval)
		return true
	}
	if !e.available {
		e.retryAt = h.clock.Now().Add(h.probeInterval)
	}
	return false
}

// SourceHealth 是健康状况的只读快照
type SourceHealth struct {
	Name             string
	ConsecutiveFails int
	Available        bool
}

func (h *healthTable) snapshot() []SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SourceHealth, 0, len(h.entries))
	for name, e := range h.entries {
		out = append(out, SourceHealth{
			Name:             name,
			ConsecutiveFails: e.consecutiveFails,
			Available:        e.available,
		})
	}
	return out
}

// directSource 通过链上池子直接报价
type directSource struct {
	quoter OnChainQuoter
}

func (s *directSource) Name() string                  { return "onchain-direct" }
func (s *directSource) Source() models.QuoteSource    { return models.SourceOnChainDirect }
func (s *directSource) Confidence() models.Confidence { return models.ConfidenceHigh }

func (s *directSource) Fetch(ctx context.Context, asset string) (float64, error) {
	return s.quoter.QuoteUSD(ctx, asset)
}

// chainedSource 经过中间资产合成报价，置信度降为 Medium
type chainedSource struct {
	quoter OnChainQuoter
	bridge string
}

func (s *chainedSource) Name() string                  { return "onchain-chained" }
func (s *chainedSource) Source() models.QuoteSource    { return models.SourceOnChainChained }
func (s *chainedSource) Confidence() models.Confidence { return models.ConfidenceMedium }

func (s *chainedSource) Fetch(ctx context.Context, asset string) (float64, error) {
	return s.quoter.QuoteVia(ctx, asset, s.bridge)
}

// NewDirectSource 创建链上直接报价来源
func NewDirectSource(q OnChainQuoter) PriceSource { return &directSource{quoter: q} }

// NewChainedSource 创建链上中转报价来源
func NewChainedSource(q OnChainQuoter, bridge string) PriceSource {
	return &chainedSource{quoter: q, bridge: bridge}
}
