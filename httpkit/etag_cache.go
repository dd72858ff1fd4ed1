package httpkit

import (
	"sync"
	"time"
)

// DefaultETagCacheSize bounds the cache when no size is configured.
const DefaultETagCacheSize = 1000

// ETagEntry is one cached conditional-request payload.
type ETagEntry struct {
	ETag      string
	Payload   []byte
	Timestamp time.Time
}

// ETagCache holds response payloads keyed by request fingerprint so 304
// revalidations can be served without refetching. Entries may be stale;
// the caller decides validity from the conditional response. Bounded by
// evicting the oldest entry at capacity.
type ETagCache struct {
	mu         sync.RWMutex
	entries    map[string]*ETagEntry
	maxEntries int
	ttl        time.Duration
}

// NewETagCache creates a cache holding at most maxEntries entries. A
// positive ttl drops entries outright after that age.
func NewETagCache(maxEntries int, ttl time.Duration) *ETagCache {
	if maxEntries <= 0 {
		maxEntries = DefaultETagCacheSize
	}
	return &ETagCache{
		entries:    make(map[string]*ETagEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the entry for a key, or nil. Entries past the cache TTL are
// removed; entries merely older than the origin's freshness are returned
// as-is, since a 304 can revalidate them.
func (c *ETagCache) Get(key string) *ETagEntry {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil
	}
	if c.ttl > 0 && time.Since(entry.Timestamp) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil
	}
	return entry
}

// Set upserts an entry, evicting the oldest entry when at capacity.
func (c *ETagCache) Set(key, etag string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &ETagEntry{
		ETag:      etag,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Delete removes an entry.
func (c *ETagCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached entries.
func (c *ETagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the entry with the earliest timestamp. Caller holds
// the write lock.
func (c *ETagCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.Timestamp.Before(oldest) {
			oldestKey = key
			oldest = entry.Timestamp
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
