// Package cache implements the lookaside resolution cache keyed by
// (domain key, record type).
//
// Entries expire by TTL only. Stale entries are discarded lazily on read
// rather than swept eagerly; there is no LRU or size bound.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Source names the tier that produced a resolution result.
type Source string

const (
	SourceCache         Source = "cache"
	SourceFast          Source = "fast"
	SourceAuthoritative Source = "authoritative"
	SourceFallback      Source = "fallback"
	SourceError         Source = "error"
)

// Entry is one cached resolution result.
//
// An entry is valid for reads only while now < StoredAt + TTL seconds; once
// past that it is treated as absent, never returned.
type Entry struct {
	Value      string
	TTL        uint32
	ContentRef []byte
	Source     Source
	StoredAt   time.Time
}

func (e Entry) live(now time.Time) bool {
	return now.Before(e.StoredAt.Add(time.Duration(e.TTL) * time.Second))
}

// Cache is a TTL-bounded key/value store for resolved records, safe for
// concurrent get/put.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// New returns an empty cache using wall-clock time.
func New() *Cache {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty cache with an injected clock, used by tests
// to pin TTL boundaries.
func NewWithClock(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{entries: make(map[string]Entry), now: now}
}

func entryKey(key common.Hash, rtype string) string {
	return fmt.Sprintf("%x/%s", key, rtype)
}

// Get returns the live entry for (key, rtype). Expired entries are removed
// and reported as absent.
func (c *Cache) Get(key common.Hash, rtype string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := entryKey(key, rtype)
	e, ok := c.entries[k]
	if !ok {
		return Entry{}, false
	}
	if !e.live(c.now()) {
		delete(c.entries, k)
		return Entry{}, false
	}
	return e, true
}

// Put stores an entry for (key, rtype), overwriting unconditionally and
// stamping it with the current time.
func (c *Cache) Put(key common.Hash, rtype string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.StoredAt = c.now()
	c.entries[entryKey(key, rtype)] = e
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
