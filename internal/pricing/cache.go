package pricing

import (
	"sync"
	"time"

	"dex-grid-bot-go/internal/models"
)

// Clock 抽象时间来源，便于在测试中确定性地验证缓存过期
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 返回基于真实时间的时钟
func SystemClock() Clock { return systemClock{} }

type cacheEntry struct {
	quote  models.PriceQuote
	expiry time.Time
}

// QuoteCache 是带TTL的报价缓存。
// 过期条目视为不存在，绝不会作为"旧但可用"的数据返回。
type QuoteCache struct {
	ttl     time.Duration
	clock   Clock
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewQuoteCache 创建报价缓存，clock 为 nil 时使用系统时钟
func NewQuoteCache(ttl time.Duration, clock Clock) *QuoteCache {
	if clock == nil {
		clock = systemClock{}
	}
	return &QuoteCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

// Get 返回未过期的缓存报价
func (c *QuoteCache) Get(asset string) (models.PriceQuote, bool) {
	c.mu.RLock()
	entry, ok := c.entries[asset]
	c.mu.RUnlock()

	if !ok || c.clock.Now().After(entry.expiry) {
		return models.PriceQuote{}, false
	}
	return entry.quote, true
}

// Put 写入报价并设置过期时间
func (c *QuoteCache) Put(quote models.PriceQuote) {
	c.mu.Lock()
	c.entries[quote.Asset] = cacheEntry{
		quote:  quote,
		expiry: c.clock.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Purge 清空所有缓存条目
func (c *QuoteCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
