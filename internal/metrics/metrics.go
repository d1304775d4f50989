package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidproxy",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidproxy",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	HTTPCacheResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidproxy",
		Name:      "http_cache_results_total",
		Help:      "API responses by route and X-Cache outcome (hit or miss).",
	}, []string{"path", "result"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidproxy",
		Name:      "upstream_requests_total",
		Help:      "Total requests to the upstream API by endpoint and result status.",
	}, []string{"endpoint", "status"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidproxy",
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream API request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"endpoint"})

	UpstreamAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidproxy",
		Name:      "upstream_available",
		Help:      "Whether an upstream endpoint is available (1) or blocked by circuit breaker (0).",
	}, []string{"endpoint"})

	FanOutQueries = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidproxy",
		Name:      "fanout_queries",
		Help:      "Number of upstream sub-queries dispatched per aggregated request.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	}, []string{"operation"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidproxy",
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits by tier.",
	}, []string{"tier"})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vidproxy",
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses.",
	})

	CacheInvalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidproxy",
		Name:      "cache_invalidations_total",
		Help:      "Total number of cache entries removed by tag invalidation.",
	}, []string{"tag"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPCacheResultsTotal,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		UpstreamAvailable,
		FanOutQueries,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheInvalidationsTotal,
	)
}
