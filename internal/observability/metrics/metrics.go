package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "platform_"

	resultSuccess = "success"
	resultError   = "error"

	lookupHit       = "hit"
	lookupCoalesced = "coalesced"
	lookupMiss      = "miss"
	lookupStale     = "stale"
)

var (
	registerOnce sync.Once

	cacheLookups *prometheus.CounterVec
	cacheEntries prometheus.Gauge

	populationTotal   *prometheus.CounterVec
	populationLatency *prometheus.HistogramVec

	prefetchTotal *prometheus.CounterVec

	flushTotal   *prometheus.CounterVec
	flushLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers tax report metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "taxreport_cache_lookups_total",
				Help: "Tax report cache lookups by outcome",
			},
			[]string{"outcome"},
		)
		cacheEntries = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "taxreport_cache_entries",
				Help: "Companies currently held in the tax report cache",
			},
		)

		populationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "taxreport_population_total",
				Help: "Total tax report populations by result",
			},
			[]string{"result"},
		)
		populationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "taxreport_population_latency_seconds",
				Help:    "Tax report population latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		prefetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "taxreport_prefetch_total",
				Help: "Prefetched company ids by outcome",
			},
			[]string{"outcome"},
		)

		flushTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "taxreport_flush_total",
				Help: "Durable cache flushes by result",
			},
			[]string{"result"},
		)
		flushLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "taxreport_flush_latency_seconds",
				Help:    "Durable cache flush latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "taxreport_export_total",
				Help: "Total tax report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "taxreport_export_latency_seconds",
				Help:    "Tax report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			cacheLookups,
			cacheEntries,
			populationTotal,
			populationLatency,
			prefetchTotal,
			flushTotal,
			flushLatency,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncCacheLookup counts a cache lookup by outcome.
func IncCacheLookup(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(outcome).Inc()
	}
}

// SetCacheEntries sets the number of cached companies.
func SetCacheEntries(count int) {
	if count < 0 {
		count = 0
	}
	if cacheEntries != nil {
		cacheEntries.Set(float64(count))
	}
}

// ObservePopulation records population latency and result.
func ObservePopulation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if populationTotal != nil {
		populationTotal.WithLabelValues(result).Inc()
	}
	if populationLatency != nil {
		populationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddPrefetch adds prefetch outcomes.
func AddPrefetch(outcome string, count int) {
	if count <= 0 {
		return
	}
	if prefetchTotal != nil {
		prefetchTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

// ObserveFlush records flush latency and result.
func ObserveFlush(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if flushTotal != nil {
		flushTotal.WithLabelValues(result).Inc()
	}
	if flushLatency != nil {
		flushLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	LookupHit       = lookupHit
	LookupCoalesced = lookupCoalesced
	LookupMiss      = lookupMiss
	LookupStale     = lookupStale
)
