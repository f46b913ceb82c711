package cache

import (
	"context"
	"sync"
	"time"

	"github.com/filecoin-project/go-clock"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache stores values in-memory with a shared TTL. Expired entries
// are dropped on read and by Sweep.
type MemoryCache struct {
	mu         sync.RWMutex
	items      map[string]entry
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
}

// NewMemoryCache creates a cache holding at most maxEntries values; zero means unbounded
func NewMemoryCache(ttl time.Duration, maxEntries int, c clock.Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if c == nil {
		c = clock.New()
	}
	return &MemoryCache{
		items:      make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      c,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now := c.clock.Now(); now.After(e.expiresAt) {
		c.mu.Lock()
		// a concurrent Set may have refreshed the entry since RUnlock
		if cur, ok := c.items[key]; ok && now.After(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.items) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.items[key] = entry{value: value, expiresAt: now.Add(c.ttl)}
	return nil
}

// Sweep removes expired entries and returns how many were dropped
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.clock.Now())
}

func (c *MemoryCache) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// evictOldestLocked drops the entry closest to expiry
func (c *MemoryCache) evictOldestLocked() {
	var (
		oldest string
		at     time.Time
	)
	for k, e := range c.items {
		if oldest == "" || e.expiresAt.Before(at) {
			oldest, at = k, e.expiresAt
		}
	}
	delete(c.items, oldest)
}

// Len counts stored entries, expired or not
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats drops expired entries and counts the rest
func (c *MemoryCache) Stats(context.Context) (int64, error) {
	c.Sweep()
	return int64(c.Len()), nil
}

func (c *MemoryCache) Flush(context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error {
	return c.Flush(context.Background())
}
