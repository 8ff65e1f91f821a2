// Package cache provides a time-bounded key/value store.
//
// Entries are never evicted for capacity reasons. Expired entries leave on the
// next read of their key or on Sweep, so callers with many keys should sweep periodically.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// TTL is safe for concurrent use.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	now     func() time.Time
}

type Option[K comparable, V any] func(*TTL[K, V])

// WithClock replaces time.Now, mostly for tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TTL[K, V]) { c.now = now }
}

func NewTTL[K comparable, V any](opts ...Option[K, V]) *TTL[K, V] {
	c := &TTL[K, V]{
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value while now - storedAt < ttl. An expired entry is
// removed and reported as a miss.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value for ttl measured from now. A non-positive ttl stores nothing readable.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.now(), ttl: ttl}
}

func (c *TTL[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len counts stored entries, expired ones included until they are swept or read.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *TTL[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
