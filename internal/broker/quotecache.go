package broker

import (
	"context"
	"sync"
	"time"

	"daybot/internal/domain"
)

var _ Broker = (*QuoteCache)(nil)

// QuoteCache decorates a Broker with a short-TTL quote cache so that
// several strategies asking for the same symbol inside one tick share a
// single upstream request. Everything other than GetQuote passes through.
type QuoteCache struct {
	Broker

	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cachedQuote
}

type cachedQuote struct {
	quote   domain.Quote
	fetched time.Time
}

// NewQuoteCache wraps inner with a quote cache of the given TTL. A zero
// or negative TTL disables caching.
func NewQuoteCache(inner Broker, ttl time.Duration) *QuoteCache {
	return &QuoteCache{
		Broker:  inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedQuote),
	}
}

// GetQuote serves from cache when the entry is fresher than the TTL.
func (c *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if c.ttl <= 0 {
		return c.Broker.GetQuote(ctx, symbol)
	}

	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[symbol]; ok && now.Sub(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.quote, nil
	}
	c.mu.Unlock()

	q, err := c.Broker.GetQuote(ctx, symbol)
	if err != nil {
		return domain.Quote{}, err
	}

	c.mu.Lock()
	c.entries[symbol] = cachedQuote{quote: q, fetched: now}
	c.mu.Unlock()
	return q, nil
}

// Invalidate drops every cached quote. The engine calls this at the top
// of each tick so decisions within a tick see one consistent price but
// ticks never reuse stale data.
func (c *QuoteCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cachedQuote)
	c.mu.Unlock()
}
