package pricing

import (
	"sync"
	"testing"
	"time"

	"dex-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a manually advanced clock for deterministic TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestQuoteCacheTTL verifies that entries are served before the TTL and
// treated as absent after it. Expired entries must never come back.
func TestQuoteCacheTTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewQuoteCache(30*time.Second, clock)

	cache.Put(models.PriceQuote{Asset: "ETH", Price: 3000})

	quote, ok := cache.Get("ETH")
	assert.True(t, ok)
	assert.Equal(t, 3000.0, quote.Price)

	clock.Advance(29 * time.Second)
	_, ok = cache.Get("ETH")
	assert.True(t, ok, "entry must survive until the TTL elapses")

	clock.Advance(2 * time.Second)
	_, ok = cache.Get("ETH")
	assert.False(t, ok, "expired entry must be treated as absent")
}

// TestQuoteCacheMiss verifies that an unknown asset is a miss.
func TestQuoteCacheMiss(t *testing.T) {
	cache := NewQuoteCache(time.Minute, newFakeClock())
	_, ok := cache.Get("BTC")
	assert.False(t, ok)
}

// TestQuoteCachePurge verifies that Purge drops everything.
func TestQuoteCachePurge(t *testing.T) {
	cache := NewQuoteCache(time.Minute, newFakeClock())
	cache.Put(models.PriceQuote{Asset: "ETH", Price: 3000})
	cache.Put(models.PriceQuote{Asset: "BTC", Price: 90000})

	cache.Purge()

	_, ok := cache.Get("ETH")
	assert.False(t, ok)
	_, ok = cache.Get("BTC")
	assert.False(t, ok)
}
