package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"compliance-cloud/internal/observability/metrics"
	taxreport "compliance-cloud/internal/taxreport/domain"
)

const (
	// DefaultTTL is how long a populated report stays valid.
	DefaultTTL = 24 * time.Hour
	// StorageKey is the durable store key holding the serialized cache.
	StorageKey = "companyTaxCache"
	// DefaultPrefetchBatch is the number of concurrent fetches per prefetch batch.
	DefaultPrefetchBatch = 3
	// DefaultPrefetchPause paces consecutive prefetch batches.
	DefaultPrefetchPause = 500 * time.Millisecond
)

// entry is either loadingEntry or readyEntry; absence from the map is the
// third state.
type entry interface {
	isEntry()
}

type loadingEntry struct {
	task *LoadTask
}

type readyEntry struct {
	report    taxreport.Report
	fetchedAt time.Time
}

func (loadingEntry) isEntry() {}
func (readyEntry) isEntry()   {}

// Lookup is the answer to Get: either complete data, or the placeholder
// plus the task that will produce the data.
type Lookup struct {
	Report    taxreport.Report
	FetchedAt time.Time
	Task      *LoadTask
}

// Complete reports whether Report holds populated data.
func (l Lookup) Complete() bool { return l.Task == nil }

// Cache serves per-company tax reports, coalescing concurrent populations
// and mirroring populated reports to a durable store.
type Cache struct {
	mu      sync.Mutex
	entries *gocache.Cache
	dirty   bool

	inflight sync.WaitGroup

	// storeMu serializes mirror writes with Clear so a flush snapshot taken
	// before a Clear is never saved after it.
	storeMu sync.Mutex

	loader Populator
	store  Store
	clock  Clock
	logger *log.Logger
	ttl    time.Duration

	prefetchBatch int
	prefetchPause time.Duration
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithTTL overrides the entry time-to-live.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if c != nil && ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the cache clock.
func WithClock(clock Clock) CacheOption {
	return func(c *Cache) {
		if c != nil && clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger *log.Logger) CacheOption {
	return func(c *Cache) {
		if c != nil {
			c.logger = logger
		}
	}
}

// WithPrefetch overrides the prefetch batch size and the pause between batches.
func WithPrefetch(batch int, pause time.Duration) CacheOption {
	return func(c *Cache) {
		if c == nil {
			return
		}
		if batch > 0 {
			c.prefetchBatch = batch
		}
		if pause >= 0 {
			c.prefetchPause = pause
		}
	}
}

// NewCache constructs a cache. A nil store keeps the cache in memory only.
func NewCache(loader Populator, store Store, opts ...CacheOption) (*Cache, error) {
	if loader == nil {
		return nil, errors.New("tax report cache: nil loader")
	}
	c := &Cache{
		entries:       gocache.New(gocache.NoExpiration, 0),
		loader:        loader,
		store:         store,
		clock:         SystemClock{},
		ttl:           DefaultTTL,
		prefetchBatch: DefaultPrefetchBatch,
		prefetchPause: DefaultPrefetchPause,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the company's report when a valid populated entry exists.
// Otherwise it returns the in-flight task for the company, starting one
// with a zero-filled placeholder if none is running.
func (c *Cache) Get(companyID string) (Lookup, error) {
	if companyID == "" {
		return Lookup{}, taxreport.ErrEmptyCompanyID
	}
	now := c.clock.Now()

	c.mu.Lock()
	outcome := metrics.LookupMiss
	if value, ok := c.entries.Get(companyID); ok {
		switch e := value.(type) {
		case readyEntry:
			if c.valid(e, now) {
				c.mu.Unlock()
				metrics.IncCacheLookup(metrics.LookupHit)
				return Lookup{Report: e.report.Clone(), FetchedAt: e.fetchedAt}, nil
			}
			outcome = metrics.LookupStale
		case loadingEntry:
			c.mu.Unlock()
			metrics.IncCacheLookup(metrics.LookupCoalesced)
			return Lookup{Report: e.task.Placeholder(), Task: e.task}, nil
		}
	}
	task := newLoadTask(companyID, taxreport.Placeholder(now))
	c.entries.Set(companyID, loadingEntry{task: task}, gocache.NoExpiration)
	count := c.entries.ItemCount()
	c.inflight.Add(1)
	c.mu.Unlock()

	metrics.IncCacheLookup(outcome)
	metrics.SetCacheEntries(count)
	go c.populate(task)
	return Lookup{Report: task.Placeholder(), Task: task}, nil
}

// Fetch returns the company's report, waiting for population when needed.
func (c *Cache) Fetch(ctx context.Context, companyID string) (taxreport.Report, error) {
	lookup, err := c.Get(companyID)
	if err != nil {
		return nil, err
	}
	if lookup.Complete() {
		return lookup.Report, nil
	}
	return lookup.Task.Wait(ctx)
}

// Valid reports whether a populated, unexpired entry exists for the company.
func (c *Cache) Valid(companyID string) bool {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries.Get(companyID)
	if !ok {
		return false
	}
	e, ok := value.(readyEntry)
	return ok && c.valid(e, now)
}

// Len returns the number of companies held, loading or ready.
func (c *Cache) Len() int {
	return c.entries.ItemCount()
}

// Clear drops every entry and erases the durable mirror. Populations still
// running finish but no longer store their result.
func (c *Cache) Clear(ctx context.Context) error {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	c.mu.Lock()
	c.entries.Flush()
	c.dirty = false
	c.mu.Unlock()
	metrics.SetCacheEntries(0)

	if c.store == nil {
		return nil
	}
	if err := c.store.Delete(ctx, StorageKey); err != nil {
		c.logf("tax report cache clear error: %v", err)
		return err
	}
	return nil
}

// Drain waits until every running population has stored its result, or
// until ctx ends. Callers stop issuing Get before draining.
func (c *Cache) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// populate runs detached from any caller context; population is never cancelled.
func (c *Cache) populate(task *LoadTask) {
	defer c.inflight.Done()
	start := time.Now()
	report, err := c.loader.Load(context.Background(), task.companyID)

	var fetchedAt time.Time
	c.mu.Lock()
	owned := c.ownsSlot(task)
	if err != nil {
		if owned {
			c.entries.Delete(task.companyID)
		}
	} else {
		fetchedAt = c.clock.Now()
		if owned {
			c.entries.Set(task.companyID, readyEntry{report: report.Clone(), fetchedAt: fetchedAt}, gocache.NoExpiration)
			c.dirty = true
		}
	}
	count := c.entries.ItemCount()
	c.mu.Unlock()

	metrics.SetCacheEntries(count)
	if err != nil {
		metrics.ObservePopulation(metrics.ResultError, time.Since(start))
		c.logf("tax report population error: company=%s err=%v", task.companyID, err)
	} else {
		metrics.ObservePopulation(metrics.ResultSuccess, time.Since(start))
	}
	task.finish(report, fetchedAt, err)
}

// ownsSlot reports whether task is still the entry's in-flight population.
// Caller holds c.mu.
func (c *Cache) ownsSlot(task *LoadTask) bool {
	value, ok := c.entries.Get(task.companyID)
	if !ok {
		return false
	}
	e, ok := value.(loadingEntry)
	return ok && e.task == task
}

func (c *Cache) valid(e readyEntry, now time.Time) bool {
	return now.Sub(e.fetchedAt) < c.ttl
}

func (c *Cache) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
