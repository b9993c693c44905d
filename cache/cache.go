// Package cache provides the in-memory cache that sits between the
// resource fetchers and the Google Cloud APIs: per-entry TTL, a total
// size bound with LRU eviction, and a background sweeper that reclaims
// expired entries nobody asked for again.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/dan-elliott-appneta/sequel/telemetry"
)

const (
	// DefaultMaxSize is the default cache size bound.
	DefaultMaxSize = 100 * 1024 * 1024 // 100MB

	// DefaultSweepInterval is how often the background sweeper runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Config holds cache configuration.
type Config struct {
	// MaxSize is the maximum total estimated size of cached values in
	// bytes. When an insert would exceed it, least-recently-used entries
	// are evicted until the cache is back under the limit.
	// Zero means DefaultMaxSize.
	MaxSize int64

	// SweepInterval is how often the background sweeper removes expired
	// entries. Zero means DefaultSweepInterval.
	SweepInterval time.Duration

	// Logger for cache events.
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:       DefaultMaxSize,
		SweepInterval: DefaultSweepInterval,
		Logger:        slog.Default(),
	}
}

// Stats is a snapshot of the cache counters. Counters only reset through
// ResetStats.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64

	// Point-in-time state, included for status displays.
	Entries int
	Bytes   int64
}

// HitRate returns the fraction of lookups served from the cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// entry is one cached value. Entries live in the LRU list; the map indexes
// them by key. Front of the list is most recently used.
type entry struct {
	key            string
	value          any
	size           int64
	expiresAt      time.Time
	insertedAt     time.Time
	lastAccessedAt time.Time
}

// Cache is a TTL-based, size-bounded cache with LRU eviction. All methods
// are safe for concurrent use; every mutation happens under one mutex and
// never while remote I/O is in flight.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List // *entry values, front = most recently used
	total   int64
	maxSize int64
	stats   Stats
	logger  *slog.Logger
	now     func() time.Time // for testing
}

// New creates a cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: cfg.MaxSize,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Get returns the cached value for key. Expired entries are removed on
// access and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		telemetry.RecordCacheGet("miss")
		c.logger.Debug("cache miss", "key", key)
		return nil, false
	}

	ent := elem.Value.(*entry)
	now := c.now()
	if !now.Before(ent.expiresAt) {
		c.removeLocked(elem, ent)
		c.stats.Expirations++
		c.stats.Misses++
		c.mu.Unlock()
		telemetry.RecordCacheGet("expired")
		c.logger.Debug("cache expired", "key", key)
		return nil, false
	}

	ent.lastAccessedAt = now
	c.lru.MoveToFront(elem)
	c.stats.Hits++
	c.mu.Unlock()
	telemetry.RecordCacheGet("hit")
	c.logger.Debug("cache hit", "key", key)
	return ent.value, true
}

// Set stores value under key with the given TTL. Setting an existing key
// replaces the entry and its LRU position. If the insert pushes the cache
// over its size bound, least-recently-used entries are evicted until it
// fits; the entry being inserted is never evicted.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	size := estimateSize(value)
	now := c.now()

	c.mu.Lock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem, elem.Value.(*entry))
	}

	ent := &entry{
		key:            key,
		value:          value,
		size:           size,
		expiresAt:      now.Add(ttl),
		insertedAt:     now,
		lastAccessedAt: now,
	}
	c.items[key] = c.lru.PushFront(ent)
	c.total += size

	evicted := 0
	for c.total > c.maxSize && c.lru.Len() > 1 {
		back := c.lru.Back()
		victim := back.Value.(*entry)
		if victim.key == key {
			break
		}
		c.removeLocked(back, victim)
		c.stats.Evictions++
		evicted++
	}

	entries, bytes := c.lru.Len(), c.total
	c.mu.Unlock()

	telemetry.RecordCacheSet(evicted)
	telemetry.UpdateCacheState(entries, bytes)
	c.logger.Debug("cache set", "key", key, "ttl", ttl, "size", size, "evicted", evicted)
}

// Invalidate removes a cache entry, typically on a caller-triggered
// refresh.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem, elem.Value.(*entry))
		c.logger.Debug("cache invalidated", "key", key)
	}
}

// InvalidateFunc removes every entry whose key matches the predicate and
// returns how many were removed.
func (c *Cache) InvalidateFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if match(key) {
			c.removeLocked(elem, elem.Value.(*entry))
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache invalidated by predicate", "removed", removed)
	}
	return removed
}

// Clear removes all entries. Counters are left intact.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.lru.Len()
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.total = 0
	c.logger.Debug("cache cleared", "entries", count)
}

// Len returns the number of entries, including ones that have expired but
// not yet been swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// SizeBytes returns the total estimated size of retained values.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Stats returns a snapshot of the counters. The snapshot is a copy;
// concurrent readers never observe partial updates.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	s.Bytes = c.total
	return s
}

// ResetStats zeroes the counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

// removeExpired removes every expired entry in one critical section and
// returns how many were removed and the bytes freed. Called by the
// sweeper.
func (c *Cache) removeExpired() (int, int64) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var freed int64
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*entry)
		if !now.Before(ent.expiresAt) {
			freed += ent.size
			c.removeLocked(elem, ent)
			c.stats.Expirations++
			removed++
		}
		elem = prev
	}
	return removed, freed
}

func (c *Cache) removeLocked(elem *list.Element, ent *entry) {
	c.lru.Remove(elem)
	delete(c.items, ent.key)
	c.total -= ent.size
}
