package utils

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value   V
	expires time.Time
}

// CacheStats counts lookups since the cache was created
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// MemoryCache is an in-memory key/value cache with per-entry expiry
type MemoryCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
	hits    uint64
	misses  uint64
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a cache sweeping expired entries every interval.
// A zero interval disables the sweep; expired entries are then dropped on read.
func NewMemoryCache[V any](interval time.Duration) *MemoryCache[V] {
	c := &MemoryCache[V]{
		entries: make(map[string]cacheEntry[V]),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		go c.sweepLoop(interval)
	}
	return c
}

// Set stores value under key for ttl
func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Get returns the live value stored under key
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.now().After(entry.expires) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return entry.value, true
}

// Delete removes key
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats returns the lookup counters and the number of stored entries
func (c *MemoryCache[V]) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

// Close stops the sweep goroutine
func (c *MemoryCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}
