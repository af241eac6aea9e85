package reqcache_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"tsundoku/internal/reqcache"
	"tsundoku/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T, store storage.Store, clk *clock, opts reqcache.Options) *reqcache.Cache {
	t.Helper()
	opts.Now = clk.Now
	return reqcache.New(store, opts)
}

func TestHitBeforeTTLMissAtTTL(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	ttl := 30 * time.Minute
	cache := newCache(t, storage.NewMemory(0), clk, reqcache.Options{TTLs: map[reqcache.Op]time.Duration{reqcache.OpSearch: ttl}})
	key := reqcache.Key(reqcache.OpSearch, "Frieren", "20")

	cache.Put(ctx, reqcache.OpSearch, key, json.RawMessage(`[{"id":1}]`))

	clk.Advance(ttl - time.Nanosecond)
	if payload, ok := cache.Get(ctx, reqcache.OpSearch, key); !ok || string(payload) != `[{"id":1}]` {
		t.Fatalf("expected hit just before TTL, got %q %v", payload, ok)
	}

	clk.Advance(time.Nanosecond)
	if _, ok := cache.Get(ctx, reqcache.OpSearch, key); ok {
		t.Fatal("expected miss at exactly TTL")
	}
}

func TestPersistentTierSurvivesNewCacheAndKeepsTTL(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := storage.NewMemory(0)
	first := newCache(t, store, clk, reqcache.Options{})
	key := reqcache.Key(reqcache.OpRelated, "42")
	first.Put(ctx, reqcache.OpRelated, key, json.RawMessage(`[]`))

	clk.Advance(23 * time.Hour)
	second := newCache(t, store, clk, reqcache.Options{})
	if _, ok := second.Get(ctx, reqcache.OpRelated, key); !ok {
		t.Fatal("expected persistent hit in a fresh cache")
	}

	// Promotion into memory must not restart the clock.
	clk.Advance(time.Hour)
	if _, ok := second.Get(ctx, reqcache.OpRelated, key); ok {
		t.Fatal("expected promoted entry to expire with its original timestamp")
	}
}

func TestTTLsDifferPerOperation(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	cache := newCache(t, storage.NewMemory(0), clk, reqcache.Options{})
	searchKey := reqcache.Key(reqcache.OpSearch, "x y")
	detailsKey := reqcache.Key(reqcache.OpDetails, "7")
	cache.Put(ctx, reqcache.OpSearch, searchKey, json.RawMessage(`[]`))
	cache.Put(ctx, reqcache.OpDetails, detailsKey, json.RawMessage(`{}`))

	clk.Advance(time.Hour)
	if _, ok := cache.Get(ctx, reqcache.OpSearch, searchKey); ok {
		t.Fatal("search entry should expire after 30 minutes")
	}
	if _, ok := cache.Get(ctx, reqcache.OpDetails, detailsKey); !ok {
		t.Fatal("details entry should live for a week")
	}
}

func TestMemoryTierIsBoundedPerOperation(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := storage.NewMemory(0)
	cache := newCache(t, store, clk, reqcache.Options{MemoryLimit: 5, EvictBatch: 2})
	for i := 0; i < 6; i++ {
		clk.Advance(time.Second)
		cache.Put(ctx, reqcache.OpDetails, reqcache.Key(reqcache.OpDetails, string(rune('a'+i))), json.RawMessage(`{}`))
	}
	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	details := stats.Ops[1]
	if details.Op != reqcache.OpDetails {
		t.Fatalf("unexpected op order %v", stats.Ops)
	}
	if details.MemoryEntries != 4 {
		t.Fatalf("expected 2 oldest evicted from memory, got %d entries", details.MemoryEntries)
	}
	if details.PersistentEntries != 6 {
		t.Fatalf("persistent tier should keep all entries, got %d", details.PersistentEntries)
	}
	// The evicted entry is still served from the persistent tier.
	if _, ok := cache.Get(ctx, reqcache.OpDetails, reqcache.Key(reqcache.OpDetails, "a")); !ok {
		t.Fatal("expected persistent fallback for evicted key")
	}
}

func TestSweepRunsAtMostOncePerInterval(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := storage.NewMemory(0)
	cache := newCache(t, store, clk, reqcache.Options{})
	cache.Put(ctx, reqcache.OpSearch, reqcache.Key(reqcache.OpSearch, "old"), json.RawMessage(`[]`))

	clk.Advance(2 * time.Hour)
	// Search entry expired, but a sweep already ran on the first Put today.
	cache.MaybeSweep(ctx)
	keys, _ := store.Keys(ctx, "api_cache_")
	if len(keys) != 1 {
		t.Fatalf("expected expired entry to survive until next sweep, got %v", keys)
	}

	clk.Advance(24 * time.Hour)
	cache.MaybeSweep(ctx)
	keys, _ = store.Keys(ctx, "api_cache_")
	if len(keys) != 0 {
		t.Fatalf("expected sweep to purge expired entry, got %v", keys)
	}
}

func bigPayload(n int) json.RawMessage {
	return json.RawMessage(`"` + strings.Repeat("x", n) + `"`)
}

func TestQuotaRecoveryPurgesOldestAndRetries(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := storage.NewMemory(2800)
	cache := newCache(t, store, clk, reqcache.Options{})
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		clk.Advance(time.Second)
		cache.Put(ctx, reqcache.OpDetails, reqcache.Key(reqcache.OpDetails, id), bigPayload(500))
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.QuotaRecoveries != 1 || stats.PersistFailures != 0 {
		t.Fatalf("expected one successful recovery, got %+v", stats)
	}
	keys, _ := store.Keys(ctx, "api_cache_")
	want := map[string]bool{"api_cache_details|3": true, "api_cache_details|4": true, "api_cache_details|5": true}
	if len(keys) != len(want) {
		t.Fatalf("expected oldest two purged, got %v", keys)
	}
	for _, key := range keys {
		if !want[key] {
			t.Fatalf("unexpected surviving key %s in %v", key, keys)
		}
	}
}

func TestQuotaFailureAfterRetryIsSwallowed(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := storage.NewMemory(300)
	cache := newCache(t, store, clk, reqcache.Options{})
	key := reqcache.Key(reqcache.OpDetails, "9")

	cache.Put(ctx, reqcache.OpDetails, key, bigPayload(500))

	if _, ok := cache.Get(ctx, reqcache.OpDetails, key); !ok {
		t.Fatal("value should still be served from memory")
	}
	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PersistFailures != 1 || stats.QuotaRecoveries != 1 {
		t.Fatalf("unexpected counters %+v", stats)
	}
	if err := store.Set(ctx, "library", map[string]string{"1": "ok"}); err != nil {
		t.Fatalf("library writes must remain unaffected: %v", err)
	}
}

func TestClearScopes(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	store := storage.NewMemory(0)
	cache := newCache(t, store, clk, reqcache.Options{})
	key := reqcache.Key(reqcache.OpDetails, "1")
	cache.Put(ctx, reqcache.OpDetails, key, json.RawMessage(`{}`))
	if err := store.Set(ctx, "library", map[string]int{}); err != nil {
		t.Fatalf("set library: %v", err)
	}

	if err := cache.Clear(ctx, reqcache.ScopeMemory); err != nil {
		t.Fatalf("clear memory: %v", err)
	}
	if _, ok := cache.Get(ctx, reqcache.OpDetails, key); !ok {
		t.Fatal("persistent tier should still answer after memory clear")
	}

	if err := cache.Clear(ctx, reqcache.ScopeAll); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if _, ok := cache.Get(ctx, reqcache.OpDetails, key); ok {
		t.Fatal("expected miss after clearing all tiers")
	}
	if found, _ := store.Get(ctx, "library", nil); !found {
		t.Fatal("clearing the cache must not touch library data")
	}
	if err := cache.Clear(ctx, reqcache.Scope("disk")); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}

func TestKeyNormalizesQueries(t *testing.T) {
	a := reqcache.Key(reqcache.OpSearch, "  Sousou   no FRIEREN ", "20")
	b := reqcache.Key(reqcache.OpSearch, "sousou no frieren", "20")
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
	if reqcache.NormalizeParam("ＡＢＣ") != "abc" {
		t.Fatalf("expected full-width letters folded, got %q", reqcache.NormalizeParam("ＡＢＣ"))
	}
}
