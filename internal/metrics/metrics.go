package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants_aggregator",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grants_aggregator",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grants_aggregator",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Upstream fetch metrics ─────────────────────────────────────────────

var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants_aggregator",
		Subsystem: "fetch",
		Name:      "total",
		Help:      "Total upstream fetch attempts per source and operation.",
	}, []string{"source", "operation", "status"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grants_aggregator",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Duration of upstream fetches per source in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"source"})
)

// ── Cache metrics ──────────────────────────────────────────────────────

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants_aggregator",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache hits, fresh or stale, per cache name.",
	}, []string{"cache", "kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants_aggregator",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache misses per cache name.",
	}, []string{"cache"})
)

// ── Circuit breaker / enrichment metrics ───────────────────────────────

var (
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grants_aggregator",
		Subsystem: "breaker",
		Name:      "open",
		Help:      "1 when the enrichment circuit breaker is open.",
	})

	EnrichmentLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants_aggregator",
		Subsystem: "enrichment",
		Name:      "lookups_total",
		Help:      "Enrichment lookups by outcome.",
	}, []string{"status"})
)

// ── Health metrics ─────────────────────────────────────────────────────

var (
	AdapterHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "grants_aggregator",
		Subsystem: "health",
		Name:      "adapter_up",
		Help:      "Adapter health: 1 healthy, 0.5 degraded, 0 down.",
	}, []string{"adapter"})

	HealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grants_aggregator",
		Subsystem: "health",
		Name:      "checks_total",
		Help:      "Full health probes by resulting overall status.",
	}, []string{"status"})
)
