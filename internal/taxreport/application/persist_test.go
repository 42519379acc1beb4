package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"compliance-cloud/internal/taxreport/infrastructure/memory"
)

func TestCache_PersistAndRestoreSkipsExpired(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	clock := newFakeClock(cacheStart)
	cache := newTestCache(t, newFakePopulator(), store, clock)

	if _, err := cache.Fetch(ctx, "old"); err != nil {
		t.Fatalf("fetch old: %v", err)
	}
	clock.Advance(20 * time.Hour)
	fresh, err := cache.Fetch(ctx, "new")
	if err != nil {
		t.Fatalf("fetch new: %v", err)
	}
	if err := cache.Flush(ctx, false); err != nil {
		t.Fatalf("flush: %v", err)
	}

	clock.Advance(5 * time.Hour)
	populator := newFakePopulator()
	restored := newTestCache(t, populator, store, clock)
	count, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one restored entry, got %d", count)
	}
	if restored.Valid("old") {
		t.Fatalf("expired entry must not be restored")
	}

	lookup, err := restored.Get("new")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !lookup.Complete() {
		t.Fatalf("restored entry should be served directly")
	}
	if mustJSON(t, lookup.Report) != mustJSON(t, fresh) {
		t.Fatalf("restored report differs:\n%s\n%s", mustJSON(t, lookup.Report), mustJSON(t, fresh))
	}
	if !lookup.FetchedAt.Equal(cacheStart.Add(20 * time.Hour)) {
		t.Fatalf("restored fetched at %v", lookup.FetchedAt)
	}
	if populator.Calls("new") != 0 {
		t.Fatalf("restored entry must not hit the backend")
	}

	// dropping the expired entry marks the mirror for rewrite
	saves := store.Saves()
	if err := restored.Flush(ctx, false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if store.Saves() != saves+1 {
		t.Fatalf("expected rewrite after dropping expired entries")
	}
}

func TestCache_RestoreRejectsCorruptMirror(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	if err := store.Save(ctx, StorageKey, []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := newTestCache(t, newFakePopulator(), store, newFakeClock(cacheStart))
	if _, err := cache.Restore(ctx); err == nil {
		t.Fatalf("expected decode error")
	}
	if cache.Len() != 0 {
		t.Fatalf("corrupt mirror must leave the cache empty")
	}
}

func TestCache_RestoreSkipsIncompleteEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	payload := `{"c1":{"data":{"2025":[]},"timestamp":` + itoa(cacheStart.UnixMilli()) + `,"complete":false}}`
	if err := store.Save(ctx, StorageKey, []byte(payload)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := newTestCache(t, newFakePopulator(), store, newFakeClock(cacheStart))
	count, err := cache.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if count != 0 || cache.Valid("c1") {
		t.Fatalf("incomplete entry must not be restored")
	}
}

func TestFlusher_WritesOnlyWhenDirty(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	cache := newTestCache(t, newFakePopulator(), store, newFakeClock(cacheStart))
	flusher := NewFlusher(cache, time.Hour, nil)

	if err := flusher.FlushNow(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if store.Saves() != 0 {
		t.Fatalf("clean cache must not be written")
	}
	if _, err := cache.Fetch(ctx, "company-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := flusher.FlushNow(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := flusher.FlushNow(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if store.Saves() != 1 {
		t.Fatalf("expected exactly one write, got %d", store.Saves())
	}
}

func TestFlusher_FinalFlushOnShutdown(t *testing.T) {
	store := newRecordingStore()
	cache := newTestCache(t, newFakePopulator(), store, newFakeClock(cacheStart))
	if _, err := cache.Fetch(context.Background(), "company-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewFlusher(cache, time.Hour, nil).Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("flusher did not stop")
	}
	if store.Saves() != 1 {
		t.Fatalf("expected final flush, got %d writes", store.Saves())
	}
}

func TestCache_FlushErrorKeepsChangesPending(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	cache := newTestCache(t, newFakePopulator(), store, newFakeClock(cacheStart))
	if _, err := cache.Fetch(ctx, "company-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	boom := errors.New("disk full")
	store.FailSaves(boom)
	if err := cache.Flush(ctx, false); !errors.Is(err, boom) {
		t.Fatalf("expected save error, got %v", err)
	}
	store.FailSaves(nil)
	if err := cache.Flush(ctx, false); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if store.Saves() != 1 {
		t.Fatalf("expected retried write, got %d", store.Saves())
	}
}

func TestCache_ClearDuringFlushKeepsMirrorErased(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	clock := newFakeClock(cacheStart)
	cache := newTestCache(t, newFakePopulator(), store, clock)
	if _, err := cache.Fetch(ctx, "company-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	entered, release := store.BlockSaves()
	flushed := make(chan error, 1)
	go func() { flushed <- cache.Flush(ctx, false) }()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("flush never reached the store")
	}

	cleared := make(chan error, 1)
	go func() { cleared <- cache.Clear(ctx) }()
	select {
	case err := <-cleared:
		t.Fatalf("clear returned while a flush was writing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-flushed; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := <-cleared; err != nil {
		t.Fatalf("clear: %v", err)
	}

	restored := newTestCache(t, newFakePopulator(), store, clock)
	count, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if count != 0 || restored.Valid("company-1") {
		t.Fatalf("cleared entries came back from the store: restored=%d", count)
	}
}

func TestCache_DrainThenFinalFlushKeepsLatePopulations(t *testing.T) {
	store := newRecordingStore()
	populator := newFakePopulator()
	populator.gate = make(chan struct{})
	clock := newFakeClock(cacheStart)
	cache := newTestCache(t, populator, store, clock)

	flushCtx, stopFlush := context.WithCancel(context.Background())
	flushDone := make(chan struct{})
	go func() {
		NewFlusher(cache, time.Hour, nil).Start(flushCtx)
		close(flushDone)
	}()

	if _, err := cache.Get("late"); err != nil {
		t.Fatalf("get: %v", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	if err := cache.Drain(drainCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain to wait for the gated population, got %v", err)
	}
	cancel()

	close(populator.gate)
	if err := cache.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	stopFlush()
	select {
	case <-flushDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("flusher did not stop")
	}

	restored := newTestCache(t, newFakePopulator(), store, clock)
	if count, err := restored.Restore(context.Background()); err != nil || count != 1 {
		t.Fatalf("expected late population in the mirror, restored=%d err=%v", count, err)
	}
	if !restored.Valid("late") {
		t.Fatalf("late population missing after restart")
	}
}
