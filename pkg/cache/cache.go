// Package cache implements ResultCache (spec §2 item 10, §4.7): an
// LRU-ish, TTL-bounded cache keyed by fingerprint(table, query, filters,
// sort), storing the pre-pagination candidate docid sequence.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Key uniquely identifies a cacheable query (spec §4.7 Key).
type Key struct {
	Table      string
	QueryText  string // normalized query text
	FilterExpr string // canonical filter-expression string
	Sort       string // e.g. "pk DESC"
}

// Fingerprint returns the stable cache key string for k.
func (k Key) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", k.Table, k.QueryText, k.FilterExpr, k.Sort)
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is the cached, pre-pagination result (spec §4.7 Value).
type Entry struct {
	DocIDs     []uint64
	Total      int
	CostMillis float64
	storedAt   time.Time
	bytes      int64
	elem       *list.Element
	table      string
}

// Config bounds the cache (spec §4.7 Eviction).
type Config struct {
	MaxMemoryBytes  int64
	TTL             time.Duration
	MinQueryCostMS  float64
}

// Cache is an LRU keyed by fingerprint, invalidated per table on any
// write (spec §4.7 Concurrency). It is not sharded: one map and one
// recency list sit behind a single mutex, so every lookup, insert and
// invalidation serializes on mu. enabled is a soft switch: disabling
// stops lookups/inserts without destroying existing entries (spec §4.7,
// the `cache.enabled` runtime variable).
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry
	lru     *list.List // front = most recently used
	curBytes int64
	enabled bool

	hits, misses int64
}

// New creates a Cache with the given bounds, enabled by default.
func New(cfg Config) *Cache {
	return &Cache{cfg: cfg, entries: make(map[string]*Entry), lru: list.New(), enabled: true}
}

// SetEnabled implements the `cache.enabled` runtime variable apply-fn.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports the current enable state.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetMinQueryCostMS updates the `cache.min_query_cost_ms` runtime variable.
func (c *Cache) SetMinQueryCostMS(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.MinQueryCostMS = ms
}

// SetTTLSeconds updates the `cache.ttl_seconds` runtime variable.
func (c *Cache) SetTTLSeconds(secs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.TTL = time.Duration(secs) * time.Second
}

// Get returns the cached entry for key, along with its age, or ok=false
// on a miss, a disabled cache, or an expired entry.
func (c *Cache) Get(key Key) (Entry, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return Entry{}, 0, false
	}
	e, ok := c.entries[key.Fingerprint()]
	if !ok {
		c.misses++
		return Entry{}, 0, false
	}
	age := time.Since(e.storedAt)
	if c.cfg.TTL > 0 && age > c.cfg.TTL {
		c.evictLocked(key.Fingerprint())
		c.misses++
		return Entry{}, 0, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits++
	return *e, age, true
}

// Put stores result for key if the cache is enabled, the query cost
// exceeded MinQueryCostMS, and the memory budget allows (evicting LRU
// entries otherwise) — spec §4.6 cache-interaction conditions (a)-(c).
func (c *Cache) Put(key Key, result Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if result.CostMillis < c.cfg.MinQueryCostMS {
		return
	}

	result.bytes = int64(len(result.DocIDs))*8 + 64
	result.storedAt = time.Now()
	result.table = key.Table

	fp := key.Fingerprint()
	if old, ok := c.entries[fp]; ok {
		c.evictLocked(fp)
		_ = old
	}

	for c.cfg.MaxMemoryBytes > 0 && c.curBytes+result.bytes > c.cfg.MaxMemoryBytes && c.lru.Len() > 0 {
		back := c.lru.Back()
		c.evictLocked(back.Value.(string))
	}
	if c.cfg.MaxMemoryBytes > 0 && result.bytes > c.cfg.MaxMemoryBytes {
		return // single entry larger than the whole budget; refuse
	}

	elem := c.lru.PushFront(fp)
	result.elem = elem
	stored := result
	c.entries[fp] = &stored
	c.curBytes += result.bytes
}

// InvalidateTable drops every entry belonging to table (spec §4.7: "must
// at minimum invalidate by table").
func (c *Cache) InvalidateTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, e := range c.entries {
		if e.table == table {
			c.evictLocked(fp)
		}
	}
}

// Clear drops every entry, used by `CACHE CLEAR`.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.lru.Init()
	c.curBytes = 0
}

// evictLocked removes fp; caller holds c.mu.
func (c *Cache) evictLocked(fp string) {
	e, ok := c.entries[fp]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	c.curBytes -= e.bytes
	delete(c.entries, fp)
}

// Stats reports counters for `CACHE STATS` / `INFO`.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      int64
	Misses    int64
	Enabled   bool
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		Bytes:   c.curBytes,
		Hits:    c.hits,
		Misses:  c.misses,
		Enabled: c.enabled,
	}
}
