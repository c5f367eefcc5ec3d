package pyramid

import (
	"sync"
)

// Cache provides thread-safe caching of decoded pyramid levels so that
// repeated opens of the same slide do not decode the file again.
//
// Entries are keyed by slide path and the options that shape the level stack.
// The cached level data is never mutated after it is built, so handles opened
// from the same entry may be used from different goroutines.
//
// # Memory Management
//
// Cached levels remain in memory until explicitly removed via Evict() or Clear().
// Whole-slide images are large; long-running processes should evict slides they
// are finished with.
type Cache struct {
	mu     sync.RWMutex
	levels map[cacheKey]*levelSet
}

type cacheKey struct {
	path         string
	maxLevels    int
	minLevelSide int
}

// NewCache creates and initializes a new empty level cache.
func NewCache() *Cache {
	return &Cache{
		levels: make(map[cacheKey]*levelSet),
	}
}

// load returns the cached level set for key or builds and stores it.
// Concurrent misses for the same key may build twice; the first stored wins.
func (c *Cache) load(key cacheKey, build func() (*levelSet, error)) (*levelSet, error) {
	c.mu.RLock()
	if ls, ok := c.levels[key]; ok {
		c.mu.RUnlock()
		return ls, nil
	}
	c.mu.RUnlock()

	ls, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.levels[key]; ok {
		ls = existing
	} else {
		c.levels[key] = ls
	}
	c.mu.Unlock()

	return ls, nil
}

// Clear removes all slides from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.levels = make(map[cacheKey]*levelSet)
	c.mu.Unlock()
}

// Evict removes every cached entry for the given slide path.
//
// If the path is not in the cache, this method does nothing.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	for k := range c.levels {
		if k.path == path {
			delete(c.levels, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.levels)
}
