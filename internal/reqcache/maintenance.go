package reqcache

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"tsundoku/internal/logging"
	"tsundoku/internal/storage"
)

type persisted struct {
	key      string
	op       Op
	storedAt time.Time
}

func (c *Cache) listPersistent(ctx context.Context) ([]persisted, error) {
	keys, err := c.store.Keys(ctx, persistentPrefix)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	items := make([]persisted, 0, len(keys))
	for _, key := range keys {
		var e entry
		found, err := c.store.Get(ctx, key, &e)
		if err != nil || !found {
			// Unreadable entries sort first so they are purged before valid ones.
			items = append(items, persisted{key: key, op: opFromKey(key)})
			continue
		}
		op := e.Op
		if op == "" {
			op = opFromKey(key)
		}
		items = append(items, persisted{key: key, op: op, storedAt: e.StoredAt})
	}
	return items, nil
}

// PurgeOldest deletes the oldest fraction of persistent cache entries, at
// least one when any exist, and returns how many were removed.
func (c *Cache) PurgeOldest(ctx context.Context, fraction float64) (int, error) {
	items, err := c.listPersistent(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].storedAt.Before(items[j].storedAt) })
	count := int(math.Ceil(float64(len(items)) * fraction))
	count = min(max(count, 1), len(items))
	removed := 0
	for _, item := range items[:count] {
		if err := c.store.Delete(ctx, item.key); err != nil {
			return removed, fmt.Errorf("purge cache entry %s: %w", item.key, err)
		}
		removed++
	}
	return removed, nil
}

// Reclaim purges the oldest half of the persistent tier after a quota
// failure. It satisfies storage.Reclaimer so library writes can share the
// same recovery.
func (c *Cache) Reclaim(ctx context.Context) error {
	removed, err := c.PurgeOldest(ctx, 0.5)
	c.mu.Lock()
	c.recoveries++
	c.mu.Unlock()
	c.logger.Info("storage quota exceeded; purged oldest cache entries",
		logging.Int("removed", removed))
	return err
}

// MaybeSweep runs Sweep when the last sweep is older than the sweep interval.
func (c *Cache) MaybeSweep(ctx context.Context) {
	c.mu.Lock()
	if !c.sweepLoaded {
		var last time.Time
		if _, err := c.store.Get(ctx, lastSweepKey, &last); err == nil {
			c.lastSweep = last
		}
		c.sweepLoaded = true
	}
	due := c.now().Sub(c.lastSweep) >= c.interval
	c.mu.Unlock()
	if !due {
		return
	}
	if _, err := c.Sweep(ctx); err != nil {
		logging.WarnWithContext(c.logger, "cache sweep failed", "cache_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired entries stay on disk until the next sweep"))
	}
}

// Sweep deletes persistent entries past their TTL and records the sweep time.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	c.mu.Lock()
	c.lastSweep = now
	c.sweepLoaded = true
	c.mu.Unlock()

	items, err := c.listPersistent(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		if c.valid(item.op, item.storedAt) {
			continue
		}
		if err := c.store.Delete(ctx, item.key); err != nil {
			return removed, fmt.Errorf("sweep cache entry %s: %w", item.key, err)
		}
		removed++
	}
	if err := c.store.Set(ctx, lastSweepKey, now); err != nil {
		return removed, fmt.Errorf("record sweep time: %w", err)
	}
	c.logger.Debug("cache sweep finished",
		logging.Int("removed", removed),
		logging.Int("scanned", len(items)))
	return removed, nil
}

// Invalidate drops a single key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, op Op, key string) error {
	c.mu.Lock()
	delete(c.tier(op), key)
	c.mu.Unlock()
	return c.store.Delete(ctx, persistentKey(key))
}

// Clear empties the selected tiers (invalidateAll).
func (c *Cache) Clear(ctx context.Context, scope Scope) error {
	switch scope {
	case ScopeMemory, ScopePersistent, ScopeAll:
	default:
		return fmt.Errorf("unknown cache scope %q", scope)
	}
	if scope == ScopeMemory || scope == ScopeAll {
		c.mu.Lock()
		for op := range c.memory {
			c.memory[op] = make(map[string]memEntry)
		}
		c.mu.Unlock()
	}
	if scope == ScopePersistent || scope == ScopeAll {
		keys, err := c.store.Keys(ctx, persistentPrefix)
		if err != nil {
			return fmt.Errorf("list cache keys: %w", err)
		}
		for _, key := range keys {
			if err := c.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("clear cache entry %s: %w", key, err)
			}
		}
	}
	c.logger.Info("cache cleared", logging.String("scope", string(scope)))
	return nil
}

// OpStats summarizes one operation's cache state.
type OpStats struct {
	Op                Op        `json:"op"`
	TTL               string    `json:"ttl"`
	MemoryEntries     int       `json:"memoryEntries"`
	PersistentEntries int       `json:"persistentEntries"`
	Expired           int       `json:"expired"`
	Oldest            time.Time `json:"oldest,omitzero"`
	Newest            time.Time `json:"newest,omitzero"`
	Hits              int64     `json:"hits"`
	Misses            int64     `json:"misses"`
}

// Stats summarizes the whole cache.
type Stats struct {
	Ops             []OpStats `json:"ops"`
	PersistFailures int64     `json:"persistFailures"`
	QuotaRecoveries int64     `json:"quotaRecoveries"`
	LastSweep       time.Time `json:"lastSweep,omitzero"`
	StoreBytes      int64     `json:"storeBytes,omitempty"`
}

// Stats reports per-operation counts and the counters accumulated by this process.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	items, err := c.listPersistent(ctx)
	if err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	stats := Stats{
		PersistFailures: c.persistFailures,
		QuotaRecoveries: c.recoveries,
		LastSweep:       c.lastSweep,
	}
	byOp := make(map[Op]*OpStats, len(Ops))
	for _, op := range Ops {
		s := &OpStats{Op: op, TTL: c.TTL(op).String(), MemoryEntries: len(c.memory[op])}
		if counters := c.counters[op]; counters != nil {
			s.Hits, s.Misses = counters.hits, counters.misses
		}
		byOp[op] = s
	}
	c.mu.Unlock()

	for _, item := range items {
		s, ok := byOp[item.op]
		if !ok {
			continue
		}
		s.PersistentEntries++
		if !c.valid(item.op, item.storedAt) {
			s.Expired++
		}
		if s.Oldest.IsZero() || item.storedAt.Before(s.Oldest) {
			s.Oldest = item.storedAt
		}
		if item.storedAt.After(s.Newest) {
			s.Newest = item.storedAt
		}
	}
	for _, op := range Ops {
		stats.Ops = append(stats.Ops, *byOp[op])
	}
	if sizer, ok := c.store.(storage.Sizer); ok {
		if size, err := sizer.Size(ctx); err == nil {
			stats.StoreBytes = size
		}
	}
	return stats, nil
}
