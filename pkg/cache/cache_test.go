package cache

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(t *testing.T, ttl time.Duration, maxEntries int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Options{Enabled: true, TTL: ttl, MaxEntries: maxEntries})
	c.now = clock.Now
	return c, clock
}

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("What is Go?", "grok-3", "")
	k2 := Key("What is Go?", "grok-3", "")
	if k1 != k2 {
		t.Error("same input should produce same key")
	}
	if len(k1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(k1))
	}
}

func TestKeyNormalization(t *testing.T) {
	base := Key("what is go?", "grok-3", "some context")

	tests := []struct {
		name                    string
		query, model, context string
	}{
		{"query case", "WHAT IS GO?", "grok-3", "some context"},
		{"query whitespace", "  what is go?\n", "grok-3", "some context"},
		{"model case", "what is go?", "GROK-3", "some context"},
		{"context case and whitespace", "what is go?", "grok-3", "\tSome Context  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.query, tt.model, tt.context); got != base {
				t.Errorf("Key(%q, %q, %q) differs from normalized key", tt.query, tt.model, tt.context)
			}
		})
	}
}

func TestKeyDistinguishesComponents(t *testing.T) {
	if Key("a", "m", "") == Key("a", "other", "") {
		t.Error("different model should produce different key")
	}
	if Key("a", "m", "") == Key("a", "m", "ctx") {
		t.Error("different context should produce different key")
	}
	// Component boundaries must not be ambiguous.
	if Key("ab", "m", "") == Key("a", "bm", "") {
		t.Error("shifting characters across components should change the key")
	}
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)
	c.Set("k", []byte(`{"answer":"42"}`))

	data, ok := c.Get("k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"answer":"42"}` {
		t.Errorf("unexpected value: %s", data)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestTTLIsAbsolute(t *testing.T) {
	c, clock := newTestCache(t, 300*time.Second, 10)
	c.Set("k", []byte("v"))

	clock.Advance(299 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit at t=299")
	}

	// The hit at t=299 must not have extended expiry.
	clock.Advance(2 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss at t=301")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be deleted on read, len=%d", c.Len())
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
}

func TestLRUEviction(t *testing.T) {
	c, clock := newTestCache(t, time.Hour, 3)
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, []byte(k))
		clock.Advance(time.Second)
	}

	c.Set("d", []byte("d"))

	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("expected %s to survive", k)
		}
	}
}

func TestLRUGetChangesVictim(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)
	c.Set("a", []byte("a"))
	c.Set("b", []byte("b"))
	c.Set("c", []byte("c"))

	c.Get("a")
	c.Set("d", []byte("d"))

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted after a was read")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive")
	}
}

func TestReinsertRefreshes(t *testing.T) {
	c, clock := newTestCache(t, 10*time.Second, 3)
	c.Set("a", []byte("old"))
	c.Set("b", []byte("b"))
	c.Set("c", []byte("c"))

	clock.Advance(8 * time.Second)
	c.Set("a", []byte("new"))
	if c.Len() != 3 {
		t.Fatalf("re-insert should not grow the cache, len=%d", c.Len())
	}

	c.Set("d", []byte("d"))
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted, a was refreshed")
	}

	clock.Advance(5 * time.Second)
	data, ok := c.Get("a")
	if !ok {
		t.Fatal("re-insert should restamp expiry")
	}
	if string(data) != "new" {
		t.Errorf("expected refreshed value, got %s", data)
	}
}

func TestPeriodicSweep(t *testing.T) {
	c, clock := newTestCache(t, time.Second, 0)
	c.Set("stale", []byte("x"))
	clock.Advance(2 * time.Second)

	for i := 1; i < sweepEvery; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("x"))
	}
	if c.Len() != sweepEvery-1 {
		t.Errorf("expected stale entry swept, len=%d", c.Len())
	}
}

func TestDisabled(t *testing.T) {
	c := New(Options{Enabled: false, TTL: time.Hour, MaxEntries: 10})
	c.Set("k", []byte("v"))
	if _, ok := c.Get("k"); ok {
		t.Error("disabled cache should never hit")
	}
	stats := c.Stats()
	if stats.Entries != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("disabled cache should record nothing: %+v", stats)
	}
}

func TestStats(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)

	stats := c.Stats()
	if stats.HitRate != 0 {
		t.Errorf("hit rate with no traffic should be 0, got %v", stats.HitRate)
	}

	c.Set("h1", []byte("data"))
	c.Get("h1")
	c.Get("h1")
	c.Get("h2")

	stats = c.Stats()
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate < 0.66 || stats.HitRate > 0.67 {
		t.Errorf("expected hit rate ~0.667, got %v", stats.HitRate)
	}
	if stats.ApproxBytes != int64(len("h1")+len("data")) {
		t.Errorf("unexpected byte estimate %d", stats.ApproxBytes)
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)
	c.Set("h1", []byte("data"))
	c.Set("h2", []byte("data"))
	c.Clear()

	stats := c.Stats()
	if stats.Entries != 0 || stats.ApproxBytes != 0 {
		t.Errorf("expected empty cache after clear, got %+v", stats)
	}
}
