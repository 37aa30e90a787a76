package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Permission metrics
	PermissionChecksTotal     *prometheus.CounterVec
	PermissionResolveDuration *prometheus.HistogramVec
	AuthorizationDecisions    *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheErrorsTotal        *prometheus.CounterVec
	CacheInvalidationsTotal prometheus.Counter
	CacheInvalidatedKeys    prometheus.Counter

	// Seeding metrics
	SeedingTenantsTotal *prometheus.CounterVec
	SeedingRowsInserted *prometheus.CounterVec
	SeedingRunDuration  prometheus.Histogram

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scopeguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scopeguard_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scopeguard_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_permission_resolutions_total",
				Help: "Total number of permission resolutions by query kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		PermissionResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scopeguard_permission_resolve_duration_seconds",
				Help:    "Time spent resolving permissions from the store",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		AuthorizationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_authorization_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"decision"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"kind"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_permission_cache_errors_total",
				Help: "Total number of permission cache backend errors",
			},
			[]string{"operation"},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scopeguard_permission_cache_invalidations_total",
				Help: "Total number of per-user cache invalidations",
			},
		),
		CacheInvalidatedKeys: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scopeguard_permission_cache_invalidated_keys_total",
				Help: "Total number of cache entries removed by invalidation",
			},
		),

		SeedingTenantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_seeding_tenants_total",
				Help: "Total number of tenants processed by template seeding",
			},
			[]string{"outcome"},
		),
		SeedingRowsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scopeguard_seeding_rows_inserted_total",
				Help: "Total number of rows inserted by template seeding",
			},
			[]string{"step"},
		),
		SeedingRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scopeguard_seeding_run_duration_seconds",
				Help:    "Duration of full cross-tenant seeding passes",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scopeguard_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scopeguard_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.PermissionChecksTotal,
		m.PermissionResolveDuration,
		m.AuthorizationDecisions,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.CacheInvalidationsTotal,
		m.CacheInvalidatedKeys,
		m.SeedingTenantsTotal,
		m.SeedingRowsInserted,
		m.SeedingRunDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
