// SPDX-License-Identifier: MIT

// Package cache provides a TTL cache for upstream API responses so repeated
// incident locations/dates do not hit the climate services twice.
package cache

import (
	"fmt"
	"sync"
	"time"
)

// Key builds the canonical cache key for an upstream lookup.
func Key(source string, lat, lon float64, day string) string {
	return fmt.Sprintf("%s:%.4f:%.4f:%s", source, lat, lon, day)
}

// Cache provides thread-safe caching with expiration support.
type Cache interface {
	// Get retrieves a raw payload from the cache.
	Get(key string) ([]byte, bool)
	// Set stores a payload in the cache with the specified TTL.
	Set(key string, value []byte, ttl time.Duration)
	// Delete removes a value from the cache.
	Delete(key string)
	// Clear drops every cached value.
	Clear()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) expired() bool {
	return time.Now().After(e.expiration)
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	stats   Stats
	stop    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory cache. If cleanupInterval > 0 a janitor
// goroutine removes expired entries until Stop is called.
func NewMemory(cleanupInterval time.Duration) *Memory {
	c := &memoryCache{
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return &Memory{c}
}

// Memory wraps the in-memory implementation so callers can Stop it.
type Memory struct {
	*memoryCache
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !found || e.expired() {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *memoryCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl)}
	c.stats.Sets++
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[string]*entry)
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

func (c *memoryCache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired() {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}

func (c *memoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Stop terminates the janitor goroutine.
func (c *Memory) Stop() {
	c.once.Do(func() { close(c.stop) })
}

type noOpCache struct{}

// NewNoOp creates a cache that doesn't cache anything.
func NewNoOp() Cache {
	return &noOpCache{}
}

func (noOpCache) Get(string) ([]byte, bool)         { return nil, false }
func (noOpCache) Set(string, []byte, time.Duration) {}
func (noOpCache) Delete(string)                     {}
func (noOpCache) Clear()                            {}
func (noOpCache) Stats() Stats                      { return Stats{} }
