// Package cache provides the read-through cache in front of project
// listings. It uses patrickmn/go-cache for TTL-based expiry; entries are
// grouped by project so a mutation can drop everything it may have staled.
package cache

import (
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache wraps go-cache with per-project keys and hit accounting.
type Cache struct {
	store  *gocache.Cache
	hits   atomic.Uint64
	misses atomic.Uint64

	// mu orders SetIfCurrent against InvalidateProject.
	mu          sync.Mutex
	generations map[string]uint64
}

// New creates a new cache with the given TTL and cleanup interval.
// defaultTTL is the default expiration time for cache entries.
// cleanupInterval is how often expired items are removed from memory.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store:       gocache.New(defaultTTL, cleanupInterval),
		generations: make(map[string]uint64),
	}
}

// Key builds the cache key of one resource of a project. The project id is
// escaped so it never contains the separator.
func Key(projectID string, parts ...string) string {
	return projectPrefix(projectID) + strings.Join(parts, ":")
}

func projectPrefix(projectID string) string {
	return url.QueryEscape(projectID) + ":"
}

// Get retrieves a value from the cache.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Generation returns the project's invalidation counter. Read it before
// loading a value and hand it to SetIfCurrent.
func (c *Cache) Generation(projectID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[projectID]
}

// SetIfCurrent stores value under key unless the project was invalidated
// since gen was read. It reports whether the value was stored.
func (c *Cache) SetIfCurrent(projectID string, gen uint64, key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[projectID] != gen {
		return false
	}
	c.store.Set(key, value, gocache.DefaultExpiration)
	return true
}

// InvalidateProject removes every entry of projectID and returns how many
// were removed. Values loaded before the call can no longer be stored
// through SetIfCurrent.
func (c *Cache) InvalidateProject(projectID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[projectID]++

	prefix := projectPrefix(projectID)
	n := 0
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
			n++
		}
	}
	return n
}

// ItemCount returns the number of items in the cache.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}

// Stats returns cache statistics.
type Stats struct {
	ItemCount int    `json:"item_count"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	return Stats{
		ItemCount: c.store.ItemCount(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
	}
}
