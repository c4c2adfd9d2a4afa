// Package cachex provides a small in-process TTL cache used for federation
// discovery results and remote file metadata.
package cachex

import (
	"sync"
	"time"
)

// Cache is a string-keyed cache with per-entry TTL. A TTL of zero means the
// entry never expires.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
	Clear()
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

// Memory is a mutex-guarded map cache. Expired entries are dropped lazily on
// read and swept when the map is written to, which is enough for the small
// keyspaces it holds (one entry per remote server or remote token).
type Memory[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// NewMemory returns an empty in-memory cache.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// NewMemoryWithClock returns a cache that consults the given clock for
// expiry checks. Used in tests.
func NewMemoryWithClock[V any](now func() time.Time) *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		now:     now,
	}
}

func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e

	c.sweepLocked()
}

func (c *Memory[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Memory[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len reports the number of live entries.
func (c *Memory[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	now := c.now()
	for _, e := range c.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (c *Memory[V]) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
