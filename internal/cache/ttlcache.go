// Package cache provides a generic TTL cache shared by the config store and
// the UDF wrapper registry.
package cache

import (
	"sync"
	"time"
)

// ReleaseHook is invoked for every entry evicted by the sweeper, by Delete,
// or by an overwriting Set. It runs without the cache lock held, so it may
// safely call back into the cache.
type ReleaseHook[V any] func(key string, value V)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a generic, concurrency-safe string-keyed TTL cache with a
// background sweep and an optional release hook. Zero value is not usable;
// construct with New.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	onEvict ReleaseHook[V]

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// New creates a Cache that sweeps for expired entries every sweepInterval.
// Pass a nil onEvict if eviction has no side effects to release.
func New[V any](sweepInterval time.Duration, onEvict ReleaseHook[V]) *Cache[V] {
	c := &Cache[V]{
		entries:       make(map[string]entry[V]),
		onEvict:       onEvict,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache[V]) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Cache[V]) sweep(now time.Time) {
	var evicted []entry[V]
	var keys []string

	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			keys = append(keys, k)
			evicted = append(evicted, e)
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	if c.onEvict == nil {
		return
	}
	for i, k := range keys {
		c.onEvict(k, evicted[i].value)
	}
}

// Get returns the value for key and whether it was present and unexpired.
// It does not extend the entry's TTL; call Touch for that.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL, evicting (and releasing)
// any prior value for that key first.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	old, hadOld := c.entries[key]
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()

	if hadOld && c.onEvict != nil {
		c.onEvict(key, old.value)
	}
}

// Touch extends key's expiry to now+ttl if present, reporting whether the
// entry existed.
func (c *Cache[V]) Touch(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.expiresAt = time.Now().Add(ttl)
	c.entries[key] = e
	return true
}

// Delete removes key, invoking the release hook if it was present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(key, e.value)
	}
}

// Len returns the current entry count, including not-yet-swept expired
// entries. Used by the cache status reporter.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweeper and evicts every remaining entry, invoking the
// release hook for each.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	remaining := c.entries
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()

	if c.onEvict == nil {
		return
	}
	for k, e := range remaining {
		c.onEvict(k, e.value)
	}
}
