// Package cache provides an in-memory response cache with absolute TTL
// expiry and least-recently-used eviction.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

// sweepEvery is how many insertions pass between expired-entry sweeps.
const sweepEvery = 100

// Options configures a Cache.
type Options struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// Cache is a thread-safe TTL + LRU cache of delegation results.
// The front of the eviction list is the most recently used entry.
type Cache struct {
	mu         sync.Mutex
	enabled    bool
	ttl        time.Duration
	maxEntries int
	items      map[string]*list.Element
	evictList  *list.List
	bytes      int64
	inserts    int
	hits       int64
	misses     int64
	now        func() time.Time
}

// New creates a Cache. A non-positive MaxEntries leaves the cache unbounded.
func New(opts Options) *Cache {
	return &Cache{
		enabled:    opts.Enabled,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		now:        time.Now,
	}
}

// Key derives a cache key from a query, a model and an optional context.
// Case and surrounding whitespace do not affect the key.
func Key(query, model, context string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(model)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(context))))
	return hex.EncodeToString(h.Sum(nil))
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Get returns the value stored under key while it is unexpired.
func (c *Cache) Get(key string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*models.CacheEntry)
	if entry.Expired(c.now()) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}

	c.evictList.MoveToFront(elem)
	c.hits++
	return entry.Value, true
}

// Set stores value under key, evicting the least recently used entry when a
// new key would exceed capacity.
func (c *Cache) Set(key string, value []byte) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.inserts++
	if c.inserts%sweepEvery == 0 {
		c.sweepLocked(now)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*models.CacheEntry)
		c.bytes += int64(len(value)) - int64(len(entry.Value))
		entry.Value = value
		entry.CreatedAt = now
		entry.ExpiresAt = now.Add(c.ttl)
		c.evictList.MoveToFront(elem)
		return
	}

	if c.maxEntries > 0 && c.evictList.Len() >= c.maxEntries {
		c.removeOldest()
	}

	entry := &models.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.items[key] = c.evictList.PushFront(entry)
	c.bytes += entryBytes(entry)
}

// Delete removes an entry from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Clear removes all entries. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.bytes = 0
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := models.CacheStats{
		Enabled:     c.enabled,
		Entries:     int64(c.evictList.Len()),
		MaxEntries:  int64(c.maxEntries),
		Hits:        c.hits,
		Misses:      c.misses,
		ApproxBytes: c.bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for elem := c.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*models.CacheEntry).Expired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *Cache) removeOldest() {
	if elem := c.evictList.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.evictList.Remove(elem)
	entry := elem.Value.(*models.CacheEntry)
	delete(c.items, entry.Key)
	c.bytes -= entryBytes(entry)
}

// entryBytes approximates an entry's footprint as key plus value length.
func entryBytes(e *models.CacheEntry) int64 {
	return int64(len(e.Key) + len(e.Value))
}
