package engine

import (
	"container/list"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

// DefaultCacheMaxEntries bounds the number of cached results across all queries.
const DefaultCacheMaxEntries = 1000

const cacheKeySeparator = "|"

// CacheKey builds the deterministic cache key for a query name and its
// parameters. Parameters are sorted by name and URL-encoded so distinct
// parameter sets never produce the same key.
func CacheKey(queryName string, params map[string]string) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v)
	}
	return queryName + cacheKeySeparator + values.Encode()
}

// CachedResult is a cache hit: the rows and when they were stored.
type CachedResult struct {
	Rows     []models.Row
	Columns  []string
	CachedAt time.Time
}

type cacheEntry struct {
	key      string
	rows     []models.Row
	columns  []string
	storedAt time.Time
	ttl      time.Duration
}

// ResultCache stores query results with a per-entry TTL and a global entry
// ceiling. Expiry is checked lazily on read. When the ceiling is reached the
// oldest insertion is evicted, regardless of how recently it was read.
type ResultCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest insertion
	maxEntries int
	now        func() time.Time
}

// NewResultCache creates a cache holding at most maxEntries results.
func NewResultCache(maxEntries int) *ResultCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &ResultCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached result for key if present and not expired.
// Expired entries are removed.
func (c *ResultCache) Get(key string) (*CachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) >= entry.ttl {
		c.removeElement(elem)
		return nil, false
	}

	return &CachedResult{
		Rows:     entry.rows,
		Columns:  entry.columns,
		CachedAt: entry.storedAt,
	}, true
}

// Set stores rows under key for ttl. Replacing an existing key keeps its
// insertion position. Returns the key evicted to make room, if any.
func (c *ResultCache) Set(key string, rows []models.Row, columns []string, ttl time.Duration) (evicted string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.rows = rows
		entry.columns = columns
		entry.storedAt = c.now()
		entry.ttl = ttl
		return ""
	}

	if c.order.Len() >= c.maxEntries {
		if oldest := c.order.Front(); oldest != nil {
			evicted = oldest.Value.(*cacheEntry).key
			c.removeElement(oldest)
		}
	}

	c.entries[key] = c.order.PushBack(&cacheEntry{
		key:      key,
		rows:     rows,
		columns:  columns,
		storedAt: c.now(),
		ttl:      ttl,
	})
	return evicted
}

// Clear removes the entries of one query and returns how many were removed.
func (c *ResultCache) Clear(queryName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := queryName + cacheKeySeparator
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if strings.HasPrefix(elem.Value.(*cacheEntry).key, prefix) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// ClearAll empties the cache and returns how many entries were removed.
func (c *ResultCache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.order.Len()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return removed
}

// Len returns the number of stored entries, expired ones included until read.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Caller must hold c.mu.
func (c *ResultCache) removeElement(elem *list.Element) {
	delete(c.entries, elem.Value.(*cacheEntry).key)
	c.order.Remove(elem)
}
