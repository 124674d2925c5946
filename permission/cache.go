package permission

import (
	"sync"
	"time"
)

// Cache stores resolved permission sets per user. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(userID string, now time.Time) ([]string, bool)
	Put(userID string, codes []string, now time.Time)
	Invalidate(userID string)
	InvalidateAll()
}

type cacheEntry struct {
	codes     []string
	expiresAt time.Time
}

// MemoryCache is a TTL map. Entries are replaced wholesale on Put; there
// is no partial update path.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryCache) Get(userID string, now time.Time) ([]string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || now.After(entry.expiresAt) {
		return nil, false
	}
	out := make([]string, len(entry.codes))
	copy(out, entry.codes)
	return out, true
}

func (c *MemoryCache) Put(userID string, codes []string, now time.Time) {
	cp := make([]string, len(codes))
	copy(cp, codes)
	c.mu.Lock()
	c.entries[userID] = cacheEntry{codes: cp, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries, expired or not. Test helper.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
