package cache

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, maxSize int64) (*Cache, *time.Time) {
	t.Helper()

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New(Config{MaxSize: maxSize, Logger: slog.Default()})
	c.now = func() time.Time { return current }
	return c, &current
}

func TestCacheGetSet(t *testing.T) {
	c, _ := newTestCache(t, 0)

	_, ok := c.Get("missing")
	require.False(t, ok)

	c.Set("k1", "v1", time.Minute)
	v, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, "v1", v)
	require.Equal(t, 1, c.Len())
}

func TestCacheExpiryOnGet(t *testing.T) {
	c, now := newTestCache(t, 0)

	c.Set("k1", "v1", time.Minute)

	// still fresh one second before the deadline
	*now = now.Add(59 * time.Second)
	_, ok := c.Get("k1")
	require.True(t, ok)

	// at exactly the deadline the entry is expired, removed, and a miss
	*now = now.Add(time.Second)
	_, ok = c.Get("k1")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Expirations)
	require.Equal(t, uint64(1), stats.Misses)
}

func TestCacheReplaceExistingKey(t *testing.T) {
	c, _ := newTestCache(t, 0)

	c.Set("k1", "old", time.Minute)
	c.Set("k1", "new", time.Minute)

	v, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, "new", v)
	require.Equal(t, 1, c.Len())
	require.Equal(t, estimateSize("new"), c.SizeBytes())
}

func TestCacheLRUEviction(t *testing.T) {
	// Each string entry costs stringOverhead + 2 bytes. A bound that
	// holds three entries but not four forces eviction on the fourth.
	entrySize := estimateSize("xx")
	c, _ := newTestCache(t, 3*entrySize)

	c.Set("a", "xx", time.Minute)
	c.Set("b", "xx", time.Minute)
	c.Set("c", "xx", time.Minute)

	// Touch a so b becomes the least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", "xx", time.Minute)

	_, ok = c.Get("b")
	require.False(t, ok, "least recently used entry should have been evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		require.True(t, ok, "entry %q should have survived", key)
	}
	require.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCacheNeverEvictsInsertedEntry(t *testing.T) {
	entrySize := estimateSize("xx")
	c, _ := newTestCache(t, entrySize) // room for exactly one entry

	c.Set("a", "xx", time.Minute)

	// The oversized value exceeds the bound on its own; the old entry
	// goes, but the value just inserted is retained.
	c.Set("big", "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx", time.Minute)

	_, ok := c.Get("a")
	require.False(t, ok)
	_, ok = c.Get("big")
	require.True(t, ok)
	require.Equal(t, 1, c.Len())
}

func TestCacheInvalidate(t *testing.T) {
	c, _ := newTestCache(t, 0)

	c.Set("k1", "v1", time.Minute)
	c.Invalidate("k1")
	c.Invalidate("never-existed") // no-op

	_, ok := c.Get("k1")
	require.False(t, ok)
	require.Equal(t, int64(0), c.SizeBytes())
}

func TestCacheInvalidateFunc(t *testing.T) {
	c, _ := newTestCache(t, 0)

	c.Set("project:list", 1, time.Minute)
	c.Set("secret:list:p1", 2, time.Minute)
	c.Set("secret:list:p2", 3, time.Minute)

	removed := c.InvalidateFunc(func(key string) bool {
		return len(key) > len("secret:list:") && key[:len("secret:list:")] == "secret:list:"
	})
	require.Equal(t, 2, removed)
	require.Equal(t, 1, c.Len())

	_, ok := c.Get("project:list")
	require.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	c, _ := newTestCache(t, 0)

	c.Set("k1", "v1", time.Minute)
	c.Set("k2", "v2", time.Minute)
	c.Get("k1")

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Equal(t, int64(0), c.SizeBytes())

	// counters survive a clear
	require.Equal(t, uint64(1), c.Stats().Hits)
}

func TestCacheStats(t *testing.T) {
	c, _ := newTestCache(t, 0)

	c.Set("k1", "v1", time.Minute)
	c.Get("k1")
	c.Get("k1")
	c.Get("absent")

	stats := c.Stats()
	require.Equal(t, uint64(2), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 1, stats.Entries)
	require.Equal(t, estimateSize("v1"), stats.Bytes)
	require.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)

	c.ResetStats()
	require.Equal(t, Stats{Entries: 1, Bytes: estimateSize("v1")}, c.Stats())
	require.Equal(t, float64(0), Stats{}.HitRate())
}

func TestCacheRemoveExpired(t *testing.T) {
	c, now := newTestCache(t, 0)

	c.Set("short", "v", time.Minute)
	c.Set("long", "v", time.Hour)

	*now = now.Add(2 * time.Minute)

	removed, freed := c.removeExpired()
	require.Equal(t, 1, removed)
	require.Equal(t, estimateSize("v"), freed)
	require.Equal(t, 1, c.Len())

	_, ok := c.Get("long")
	require.True(t, ok)
}
