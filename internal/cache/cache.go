// Package cache holds the in-memory index of compiled documents keyed by
// logical path.
//
// The cache stores pointers to immutable entries. Writers replace a pointer
// under the write lock; readers take the read lock only for the map access
// and then use the entry they got without further synchronization.
package cache

import (
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/bloxciting/internal/entry"
)

// Cache maps logical paths to their current entry.
type Cache struct {
	entries map[string]*entry.Entry
	mutex   sync.RWMutex
	// Statistics tracking (atomic for thread safety)
	hits     int64
	misses   int64
	upserts  int64
	removals int64
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries  int   `json:"entries"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Upserts  int64 `json:"upserts"`
	Removals int64 `json:"removals"`
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry.Entry)}
}

// Upsert publishes e under logicalPath, replacing any previous entry.
func (c *Cache) Upsert(logicalPath string, e *entry.Entry) {
	if e == nil {
		return
	}
	key := entry.Normalize(logicalPath)

	c.mutex.Lock()
	c.entries[key] = e
	c.mutex.Unlock()

	atomic.AddInt64(&c.upserts, 1)
}

// Remove deletes the entry for logicalPath and returns it, or nil when the
// path was not tracked.
func (c *Cache) Remove(logicalPath string) *entry.Entry {
	key := entry.Normalize(logicalPath)

	c.mutex.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mutex.Unlock()

	if ok {
		atomic.AddInt64(&c.removals, 1)
	}
	return e
}

// Get returns the current entry for logicalPath.
func (c *Cache) Get(logicalPath string) (*entry.Entry, bool) {
	key := entry.Normalize(logicalPath)

	c.mutex.RLock()
	e, ok := c.entries[key]
	c.mutex.RUnlock()

	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return e, ok
}

// Peek is Get without touching the hit and miss counters. Writers use it to
// find the entry they are about to replace.
func (c *Cache) Peek(logicalPath string) *entry.Entry {
	key := entry.Normalize(logicalPath)

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.entries[key]
}

// ListUnder returns the documents directly inside dir ("" is the root),
// skipping the index document, sorted by logical path.
func (c *Cache) ListUnder(dir, indexName string) []*entry.Entry {
	dir = entry.Normalize(dir)

	c.mutex.RLock()
	result := make([]*entry.Entry, 0)
	for key, e := range c.entries {
		if entry.Dir(key) != dir {
			continue
		}
		if indexName != "" && path.Base(key) == indexName {
			continue
		}
		result = append(result, e)
	}
	c.mutex.RUnlock()

	sortEntries(result)
	return result
}

// Len returns the number of tracked entries.
func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

// Snapshot returns every entry sorted by logical path.
func (c *Cache) Snapshot() []*entry.Entry {
	c.mutex.RLock()
	result := make([]*entry.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		result = append(result, e)
	}
	c.mutex.RUnlock()

	sortEntries(result)
	return result
}

// Paths returns the tracked logical paths with the given prefix.
func (c *Cache) Paths(prefix string) []string {
	c.mutex.RLock()
	var result []string
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}
	c.mutex.RUnlock()

	sort.Strings(result)
	return result
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:  c.Len(),
		Hits:     atomic.LoadInt64(&c.hits),
		Misses:   atomic.LoadInt64(&c.misses),
		Upserts:  atomic.LoadInt64(&c.upserts),
		Removals: atomic.LoadInt64(&c.removals),
	}
}

// HitRate returns the fraction of lookups that found an entry.
func (c *Cache) HitRate() float64 {
	hits := atomic.LoadInt64(&c.hits)
	total := hits + atomic.LoadInt64(&c.misses)
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func sortEntries(entries []*entry.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LogicalPath < entries[j].LogicalPath
	})
}
