package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpersRecordAfterInit(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(cacheLookups.WithLabelValues(LookupHit))
	IncCacheLookup(LookupHit)
	if got := testutil.ToFloat64(cacheLookups.WithLabelValues(LookupHit)); got != before+1 {
		t.Fatalf("expected hit counter to increase, got %v", got)
	}

	SetCacheEntries(-3)
	if got := testutil.ToFloat64(cacheEntries); got != 0 {
		t.Fatalf("negative counts should clamp to zero, got %v", got)
	}

	AddPrefetch("fetched", 0)
	AddPrefetch("fetched", 2)
	if got := testutil.ToFloat64(prefetchTotal.WithLabelValues("fetched")); got < 2 {
		t.Fatalf("expected prefetch counter >= 2, got %v", got)
	}

	ObserveExport("", ResultSuccess, time.Millisecond)
	if got := testutil.ToFloat64(exportTotal.WithLabelValues("unknown", ResultSuccess)); got < 1 {
		t.Fatalf("expected export counter, got %v", got)
	}
}
