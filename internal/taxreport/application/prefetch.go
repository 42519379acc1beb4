package application

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"compliance-cloud/internal/observability/metrics"
)

// PrefetchResult summarizes one PrefetchMany call.
type PrefetchResult struct {
	Requested int `json:"requested"`
	Skipped   int `json:"skipped"`
	Fetched   int `json:"fetched"`
	Failed    int `json:"failed"`
}

// PrefetchMany warms the cache for the given companies. Ids already cached
// and valid are skipped; the rest are fetched a few at a time with a pause
// between batches. Failures are logged and counted, never returned.
func (c *Cache) PrefetchMany(ctx context.Context, companyIDs []string) PrefetchResult {
	var result PrefetchResult
	seen := make(map[string]struct{}, len(companyIDs))
	var pending []string
	for _, id := range companyIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result.Requested++
		if c.Valid(id) {
			result.Skipped++
			continue
		}
		pending = append(pending, id)
	}

	for n, batch := range chunk(pending, c.prefetchBatch) {
		var pause time.Duration
		if n > 0 {
			pause = c.prefetchPause
		}
		if err := sleepContext(ctx, pause); err != nil {
			c.logf("tax report prefetch stopped: %v", err)
			break
		}
		failed := make([]bool, len(batch))
		var g errgroup.Group
		for i, companyID := range batch {
			g.Go(func() error {
				if _, err := c.Fetch(ctx, companyID); err != nil {
					failed[i] = true
					c.logf("tax report prefetch error: company=%s err=%v", companyID, err)
				}
				return nil
			})
		}
		_ = g.Wait()
		for _, f := range failed {
			if f {
				result.Failed++
			} else {
				result.Fetched++
			}
		}
	}

	metrics.AddPrefetch("skipped", result.Skipped)
	metrics.AddPrefetch("fetched", result.Fetched)
	metrics.AddPrefetch("failed", result.Failed)
	return result
}

// sleepContext waits d or until ctx ends. The pause between prefetch batches
// is measured from the end of the previous batch.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
