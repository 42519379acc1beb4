package application

import (
	"context"
	"log"
	"time"
)

// DefaultFlushInterval is how often dirty cache state is written out.
const DefaultFlushInterval = 30 * time.Second

const teardownFlushTimeout = 5 * time.Second

// Flusher periodically writes the cache to its durable store.
type Flusher struct {
	cache    *Cache
	interval time.Duration
	logger   *log.Logger
}

// NewFlusher constructs a Flusher.
func NewFlusher(cache *Cache, interval time.Duration, logger *log.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{cache: cache, interval: interval, logger: logger}
}

// Start runs the flush loop until ctx ends, then flushes once more.
func (f *Flusher) Start(ctx context.Context) {
	if f == nil || f.cache == nil {
		return
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			teardown, cancel := context.WithTimeout(context.Background(), teardownFlushTimeout)
			if err := f.cache.Flush(teardown, false); err != nil && f.logger != nil {
				f.logger.Printf("tax report teardown flush error: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := f.FlushNow(ctx); err != nil && f.logger != nil {
				f.logger.Printf("tax report flush error: %v", err)
			}
		}
	}
}

// FlushNow writes pending changes immediately.
func (f *Flusher) FlushNow(ctx context.Context) error {
	if f == nil || f.cache == nil {
		return nil
	}
	return f.cache.Flush(ctx, false)
}
