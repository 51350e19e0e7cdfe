package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tutorlink/tutorbilling/ports"
)

type entry struct {
	value   string
	expires time.Time
}

// MemoryCatalog is a process-local catalog cache.
type MemoryCatalog struct {
	clock ports.Clock

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemoryCatalog creates an in-memory catalog cache.
func NewMemoryCatalog(clk ports.Clock) *MemoryCatalog {
	return &MemoryCatalog{clock: clk, entries: make(map[string]entry)}
}

func (c *MemoryCatalog) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !c.clock.Now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores priceID. A non-positive ttl never expires.
func (c *MemoryCatalog) Set(ctx context.Context, key, priceID string, ttl time.Duration) error {
	e := entry{value: priceID}
	if ttl > 0 {
		e.expires = c.clock.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

var _ ports.CatalogCache = (*MemoryCatalog)(nil)
