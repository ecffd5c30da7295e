// Package cache holds the single in-flight probe snapshot.
//
// The storage engine never caches topology across action boundaries (see
// probe.Snapshot): every mutating action invalidates the generation before
// its successor is allowed to read. This package keeps that invariant in one
// place instead of scattering ad-hoc "did I already probe" booleans through
// the executors.
package cache

import "sync"

// Cache holds at most one cached value per key, tagged with a generation
// number. Bump() invalidates everything at once: it is called after every
// external mutation (format, partition, lvcreate, ...) so the next read is
// forced to reprobe.
type Cache struct {
	mu         sync.RWMutex
	generation uint64
	entries    map[string]entry
}

type entry struct {
	generation uint64
	value      interface{}
}

// New creates an empty cache at generation 0.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Get returns the cached value for key if it was stored at the current
// generation, nil otherwise.
func (c *Cache) Get(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || e.generation != c.generation {
		return nil
	}
	return e.value
}

// Set stores value under key at the current generation.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{generation: c.generation, value: value}
}

// Bump invalidates every entry currently held. Call this after any action
// that mutates kernel block-device state.
func (c *Cache) Bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
}

// Generation reports the current generation number, useful for diagnostics.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

var (
	global *Cache
	once   sync.Once
)

// Global returns the process-wide probe cache.
func Global() *Cache {
	once.Do(func() { global = New() })
	return global
}
