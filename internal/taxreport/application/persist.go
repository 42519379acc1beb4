package application

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"compliance-cloud/internal/observability/metrics"
	taxreport "compliance-cloud/internal/taxreport/domain"
)

// persistedEntry is the durable shape of one company's cache entry.
type persistedEntry struct {
	Data      taxreport.Report `json:"data"`
	Timestamp int64            `json:"timestamp"`
	Complete  bool             `json:"complete"`
}

// Restore loads unexpired complete entries from the durable store. Expired
// or incomplete entries are dropped and the mirror is marked for rewrite.
// A missing or unreadable mirror leaves the cache empty.
func (c *Cache) Restore(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	payload, ok, err := c.store.Load(ctx, StorageKey)
	if err != nil {
		c.logf("tax report cache restore error: %v", err)
		return 0, err
	}
	if !ok || len(payload) == 0 {
		return 0, nil
	}

	var persisted map[string]persistedEntry
	if err := json.Unmarshal(payload, &persisted); err != nil {
		c.logf("tax report cache decode error: %v", err)
		return 0, err
	}

	now := c.clock.Now()
	restored := 0
	dropped := 0

	c.mu.Lock()
	for companyID, p := range persisted {
		if companyID == "" || !p.Complete || p.Timestamp <= 0 || p.Data == nil {
			dropped++
			continue
		}
		fetchedAt := time.UnixMilli(p.Timestamp).UTC()
		ready := readyEntry{report: p.Data, fetchedAt: fetchedAt}
		if !c.valid(ready, now) || p.Data.Validate() != nil {
			dropped++
			continue
		}
		if _, exists := c.entries.Get(companyID); exists {
			continue
		}
		c.entries.Set(companyID, ready, gocache.NoExpiration)
		restored++
	}
	if dropped > 0 {
		c.dirty = true
	}
	count := c.entries.ItemCount()
	c.mu.Unlock()

	metrics.SetCacheEntries(count)
	return restored, nil
}

// Flush writes every populated entry to the durable store, replacing the
// previous mirror. Without force it is a no-op unless something changed
// since the last flush.
func (c *Cache) Flush(ctx context.Context, force bool) error {
	if c.store == nil {
		return nil
	}
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	c.mu.Lock()
	if !c.dirty && !force {
		c.mu.Unlock()
		return nil
	}
	snapshot := c.snapshot()
	c.dirty = false
	c.mu.Unlock()

	start := time.Now()
	err := c.write(ctx, snapshot)
	if err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()
		metrics.ObserveFlush(metrics.ResultError, time.Since(start))
		c.logf("tax report cache flush error: %v", err)
		return err
	}
	metrics.ObserveFlush(metrics.ResultSuccess, time.Since(start))
	return nil
}

func (c *Cache) write(ctx context.Context, snapshot map[string]persistedEntry) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.store.Save(ctx, StorageKey, payload)
}

// snapshot copies ready entries. Caller holds c.mu.
func (c *Cache) snapshot() map[string]persistedEntry {
	items := c.entries.Items()
	out := make(map[string]persistedEntry, len(items))
	for companyID, item := range items {
		e, ok := item.Object.(readyEntry)
		if !ok {
			continue
		}
		out[companyID] = persistedEntry{
			Data:      e.report.Clone(),
			Timestamp: e.fetchedAt.UnixMilli(),
			Complete:  true,
		}
	}
	return out
}
