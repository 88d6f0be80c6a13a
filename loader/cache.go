package loader

import (
	"slices"
	"sync"

	"cineshelf/storage"
)

// Cache holds the last delivered result of each slot. It is owned by the
// caller and only cleared when the caller asks or when the slot is pointed at
// a different request.
type Cache struct {
	mu      sync.Mutex
	entries map[int]cacheEntry
}

type cacheEntry struct {
	fingerprint string
	movies      []storage.Movie
}

func NewCache() *Cache {
	return &Cache{entries: make(map[int]cacheEntry)}
}

// Get returns a copy of the result cached for slot if it was produced by the
// request with fingerprint.
func (c *Cache) Get(slot int, fingerprint string) ([]storage.Movie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[slot]
	if !ok || e.fingerprint != fingerprint {
		return nil, false
	}
	return slices.Clone(e.movies), true
}

// Fingerprint reports which request the slot's entry belongs to.
func (c *Cache) Fingerprint(slot int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[slot]
	return e.fingerprint, ok
}

// Put replaces the slot's entry.
func (c *Cache) Put(slot int, fingerprint string, movies []storage.Movie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[slot] = cacheEntry{fingerprint: fingerprint, movies: slices.Clone(movies)}
}

// Clear drops the slot's entry.
func (c *Cache) Clear(slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, slot)
}
