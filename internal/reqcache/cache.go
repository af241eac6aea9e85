package reqcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tsundoku/internal/logging"
	"tsundoku/internal/storage"
)

// Scope selects which tiers Clear empties.
type Scope string

const (
	ScopeMemory     Scope = "memory"
	ScopePersistent Scope = "persistent"
	ScopeAll        Scope = "all"
)

// Observer receives cache lookup outcomes, typically for metrics.
type Observer interface {
	CacheLookup(op string, hit bool, tier string)
}

// Options configures a Cache. Zero values fall back to the catalog defaults.
type Options struct {
	TTLs          map[Op]time.Duration
	MemoryLimit   int
	EvictBatch    int
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
	Observer      Observer
}

// DefaultTTLs are the lifetimes used when Options.TTLs omits an operation.
var DefaultTTLs = map[Op]time.Duration{
	OpSearch:  30 * time.Minute,
	OpDetails: 7 * 24 * time.Hour,
	OpRelated: 24 * time.Hour,
}

type entry struct {
	Op       Op              `json:"op"`
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
}

type memEntry struct {
	payload  json.RawMessage
	storedAt time.Time
	seq      uint64
}

type opCounters struct {
	hits   int64
	misses int64
}

// Cache is the two-tier request cache.
type Cache struct {
	store    storage.Store
	ttls     map[Op]time.Duration
	limit    int
	evict    int
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer

	mu              sync.Mutex
	memory          map[Op]map[string]memEntry
	seq             uint64
	counters        map[Op]*opCounters
	persistFailures int64
	recoveries      int64
	lastSweep       time.Time
	sweepLoaded     bool
}

// New builds a cache on top of store.
func New(store storage.Store, opts Options) *Cache {
	ttls := make(map[Op]time.Duration, len(DefaultTTLs))
	for op, ttl := range DefaultTTLs {
		ttls[op] = ttl
	}
	for op, ttl := range opts.TTLs {
		if ttl > 0 {
			ttls[op] = ttl
		}
	}
	limit := opts.MemoryLimit
	if limit <= 0 {
		limit = 100
	}
	evict := opts.EvictBatch
	if evict <= 0 {
		evict = 20
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache{
		store:    store,
		ttls:     ttls,
		limit:    limit,
		evict:    evict,
		interval: interval,
		now:      now,
		logger:   logging.NewComponentLogger(opts.Logger, "reqcache"),
		observer: opts.Observer,
		memory:   make(map[Op]map[string]memEntry),
		counters: make(map[Op]*opCounters),
	}
	for _, op := range Ops {
		c.memory[op] = make(map[string]memEntry)
		c.counters[op] = &opCounters{}
	}
	return c
}

// TTL returns the lifetime applied to op.
func (c *Cache) TTL(op Op) time.Duration {
	if ttl, ok := c.ttls[op]; ok {
		return ttl
	}
	return c.ttls[OpSearch]
}

func (c *Cache) valid(op Op, storedAt time.Time) bool {
	return c.now().Sub(storedAt) < c.TTL(op)
}

// Get returns the cached payload for key. A persistent hit is promoted into
// the memory tier with its original timestamp so the TTL is not extended.
func (c *Cache) Get(ctx context.Context, op Op, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	tier := c.tier(op)
	if m, ok := tier[key]; ok {
		if c.valid(op, m.storedAt) {
			c.mu.Unlock()
			c.record(op, true, "memory")
			return m.payload, true
		}
		delete(tier, key)
	}
	c.mu.Unlock()

	var e entry
	found, err := c.store.Get(ctx, persistentKey(key), &e)
	if err != nil {
		logging.WarnWithContext(c.logger, "persistent cache read failed", "cache_read_failed",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "request will be fetched live"))
	}
	if err != nil || !found || !c.valid(op, e.StoredAt) {
		c.record(op, false, "")
		return nil, false
	}

	c.mu.Lock()
	c.insertLocked(op, key, e.Payload, e.StoredAt)
	c.mu.Unlock()
	c.record(op, true, "persistent")
	return e.Payload, true
}

// Put writes payload to both tiers. Persistent failures never propagate: quota
// exhaustion triggers one purge-and-retry, after which the value lives in the
// memory tier only.
func (c *Cache) Put(ctx context.Context, op Op, key string, payload json.RawMessage) {
	storedAt := c.now()
	payload = append(json.RawMessage(nil), payload...)

	c.mu.Lock()
	c.insertLocked(op, key, payload, storedAt)
	c.mu.Unlock()

	e := entry{Op: op, Payload: payload, StoredAt: storedAt}
	err := c.store.Set(ctx, persistentKey(key), e)
	if storage.IsQuotaExceeded(err) {
		if reclaimErr := c.Reclaim(ctx); reclaimErr == nil {
			err = c.store.Set(ctx, persistentKey(key), e)
		}
	}
	if err != nil {
		c.mu.Lock()
		c.persistFailures++
		c.mu.Unlock()
		logging.WarnWithContext(c.logger, "persistent cache write dropped", "cache_write_dropped",
			logging.String("key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "free disk space or run 'tsundoku cache clear'"),
			logging.String(logging.FieldImpact, "response cached in memory only"))
		return
	}

	c.MaybeSweep(ctx)
}

// insertLocked stores a memory entry and evicts the oldest entries once the
// per-operation bound is exceeded.
func (c *Cache) insertLocked(op Op, key string, payload json.RawMessage, storedAt time.Time) {
	tier := c.tier(op)
	c.seq++
	tier[key] = memEntry{payload: payload, storedAt: storedAt, seq: c.seq}
	if len(tier) <= c.limit {
		return
	}
	drop := max(c.evict, len(tier)-c.limit)
	type aged struct {
		key string
		memEntry
	}
	all := make([]aged, 0, len(tier))
	for k, v := range tier {
		all = append(all, aged{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].storedAt.Equal(all[j].storedAt) {
			return all[i].storedAt.Before(all[j].storedAt)
		}
		return all[i].seq < all[j].seq
	})
	for i := 0; i < drop && i < len(all); i++ {
		if all[i].key == key {
			continue
		}
		delete(tier, all[i].key)
	}
}

func (c *Cache) tier(op Op) map[string]memEntry {
	tier, ok := c.memory[op]
	if !ok {
		tier = make(map[string]memEntry)
		c.memory[op] = tier
		c.counters[op] = &opCounters{}
	}
	return tier
}

func (c *Cache) record(op Op, hit bool, tier string) {
	c.mu.Lock()
	counters := c.counters[op]
	if counters == nil {
		counters = &opCounters{}
		c.counters[op] = counters
	}
	if hit {
		counters.hits++
	} else {
		counters.misses++
	}
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.CacheLookup(string(op), hit, tier)
	}
}
