package engine

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func rows(values ...string) []models.Row {
	out := make([]models.Row, len(values))
	for i, v := range values {
		out[i] = models.Row{"v": v}
	}
	return out
}

func TestCacheKey_Deterministic(t *testing.T) {
	p1 := map[string]string{}
	p1["a"] = "1"
	p1["b"] = "2"
	p1["c"] = "3"

	p2 := map[string]string{}
	p2["c"] = "3"
	p2["a"] = "1"
	p2["b"] = "2"

	for i := 0; i < 20; i++ {
		assert.Equal(t, CacheKey("q", p1), CacheKey("q", p2))
	}
	assert.True(t, strings.HasPrefix(CacheKey("q", p1), "q|"))
	assert.Equal(t, "q|", CacheKey("q", nil))
}

func TestCacheKey_Distinct(t *testing.T) {
	tests := []struct {
		name   string
		p1, p2 map[string]string
	}{
		{"different value", map[string]string{"id": "5"}, map[string]string{"id": "6"}},
		{"different key", map[string]string{"id": "5"}, map[string]string{"pk": "5"}},
		{"extra pair", map[string]string{"id": "5"}, map[string]string{"id": "5", "x": ""}},
		{"separator in value", map[string]string{"a": "1&b=2"}, map[string]string{"a": "1", "b": "2"}},
		{"pipe in value", map[string]string{"a": "x|y"}, map[string]string{"a": "x", "y": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, CacheKey("q", tt.p1), CacheKey("q", tt.p2))
		})
	}
	assert.NotEqual(t, CacheKey("q1", nil), CacheKey("q2", nil))
}

func TestResultCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := NewResultCache(10)
	cache.now = clock.Now

	storedAt := clock.Now()
	cache.Set("q|id=1", rows("x"), []string{"v"}, 60*time.Second)

	clock.Advance(60*time.Second - time.Millisecond)
	hit, ok := cache.Get("q|id=1")
	require.True(t, ok)
	assert.Equal(t, storedAt, hit.CachedAt)
	assert.Equal(t, rows("x"), hit.Rows)
	assert.Equal(t, []string{"v"}, hit.Columns)

	clock.Advance(2 * time.Millisecond)
	_, ok = cache.Get("q|id=1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len(), "expired entry is removed on read")
}

func TestResultCache_FIFOBound(t *testing.T) {
	const limit = 5
	cache := NewResultCache(limit)

	for i := 0; i <= limit; i++ {
		cache.Set(fmt.Sprintf("q|id=%d", i), rows("x"), nil, time.Hour)
	}

	assert.Equal(t, limit, cache.Len())
	_, ok := cache.Get("q|id=0")
	assert.False(t, ok, "oldest insertion must be evicted")
	for i := 1; i <= limit; i++ {
		_, ok := cache.Get(fmt.Sprintf("q|id=%d", i))
		assert.True(t, ok, "entry %d should survive", i)
	}
}

func TestResultCache_EvictionIgnoresRecency(t *testing.T) {
	cache := NewResultCache(3)
	cache.Set("a|", rows("a"), nil, time.Hour)
	cache.Set("b|", rows("b"), nil, time.Hour)
	cache.Set("c|", rows("c"), nil, time.Hour)

	// Reading "a" must not protect it: eviction follows insertion order.
	for i := 0; i < 3; i++ {
		_, ok := cache.Get("a|")
		require.True(t, ok)
	}

	evicted := cache.Set("d|", rows("d"), nil, time.Hour)
	assert.Equal(t, "a|", evicted)
	_, ok := cache.Get("a|")
	assert.False(t, ok)
	_, ok = cache.Get("b|")
	assert.True(t, ok)
}

func TestResultCache_OverwriteKeepsPosition(t *testing.T) {
	cache := NewResultCache(2)
	cache.Set("a|", rows("a1"), nil, time.Hour)
	cache.Set("b|", rows("b"), nil, time.Hour)
	assert.Empty(t, cache.Set("a|", rows("a2"), nil, time.Hour))
	assert.Equal(t, 2, cache.Len())

	hit, ok := cache.Get("a|")
	require.True(t, ok)
	assert.Equal(t, rows("a2"), hit.Rows)

	assert.Equal(t, "a|", cache.Set("c|", rows("c"), nil, time.Hour))
}

func TestResultCache_Clear(t *testing.T) {
	cache := NewResultCache(10)
	cache.Set(CacheKey("Account Lookup", map[string]string{"name": "a"}), rows("1"), nil, time.Hour)
	cache.Set(CacheKey("Account Lookup", map[string]string{"name": "b"}), rows("2"), nil, time.Hour)
	cache.Set(CacheKey("Account Lookup All", nil), rows("3"), nil, time.Hour)
	cache.Set(CacheKey("Beacons", map[string]string{"id": "7"}), rows("4"), nil, time.Hour)

	assert.Equal(t, 2, cache.Clear("Account Lookup"))
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, 0, cache.Clear("Account Lookup"))
	assert.Equal(t, 0, cache.Clear("Unknown"))

	assert.Equal(t, 2, cache.ClearAll())
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, cache.ClearAll())
}

func TestNewResultCache_DefaultCeiling(t *testing.T) {
	cache := NewResultCache(0)
	assert.Equal(t, DefaultCacheMaxEntries, cache.maxEntries)
}
