package cache

import (
	"context"
	"sync"
	"time"

	"authcore/internal/usecase"
)

type memoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
	hasExpiry bool
}

// NewMemoryCache is the single-process stand-in for redis, used when
// REDIS_ADDR is unset and in tests. The now func is injectable so expiry can
// be driven by a fake clock.
func NewMemoryCache(now func() time.Time) usecase.Cache {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{
		now:     now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value, ttl)
	return nil
}

func (c *memoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && c.live(entry) {
		return false, nil
	}
	c.put(key, value, ttl)
	return true, nil
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !c.live(entry) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *memoryCache) put(key, value string, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
}

func (c *memoryCache) live(entry memoryEntry) bool {
	return !entry.hasExpiry || c.now().Before(entry.expiresAt)
}
