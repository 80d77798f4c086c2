// Package filecache is the coordinator's bounded in-memory cache of
// fully reconstructed files, per spec.md section 4.5: at most N entries
// and at most B aggregate bytes, strict LRU eviction, single process,
// non-durable.
package filecache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Entry is one cached, fully reconstructed file.
type Entry struct {
	Buffer   []byte
	Filename string
}

// Cache is a dual-bounded LRU: bounded by entry count and by aggregate
// buffer bytes.
type Cache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *Entry]
	maxBytes   int64
	totalBytes int64
}

// New builds a Cache bounded by maxCount entries and maxBytes aggregate
// buffer length.
func New(maxCount int, maxBytes int64) *Cache {
	c := &Cache{maxBytes: maxBytes}

	lru, err := simplelru.NewLRU[string, *Entry](maxCount, func(_ string, e *Entry) {
		c.totalBytes -= int64(len(e.Buffer))
	})
	if err != nil {
		// maxCount <= 0 is a programmer error, not a runtime condition.
		panic(err)
	}
	c.lru = lru
	return c
}

// Has reports whether fileID is cached, without affecting recency.
func (c *Cache) Has(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(fileID)
}

// Get returns the cached entry for fileID, promoting it to most
// recently used.
func (c *Cache) Get(fileID string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(fileID)
}

// Set inserts or replaces fileID's cache entry, then evicts
// least-recently-used entries until the aggregate byte bound holds.
func (c *Cache) Set(fileID string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(fileID); ok {
		c.totalBytes -= int64(len(old.Buffer))
	}

	c.lru.Add(fileID, entry)
	c.totalBytes += int64(len(entry.Buffer))

	for c.totalBytes > c.maxBytes && c.lru.Len() > 0 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// ForEach visits every cached entry in no particular order. fn must not
// call back into the Cache.
func (c *Cache) ForEach(fn func(fileID string, entry *Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.lru.Keys() {
		if v, ok := c.lru.Peek(key); ok {
			fn(key, v)
		}
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// TotalBytes reports the current aggregate buffer length across all
// cached entries.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}
