package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds the Prometheus metrics for the status server
type Metrics struct {
	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// Archive query metrics
	archiveQueriesTotal   *prometheus.CounterVec
	archiveQueryDuration  *prometheus.HistogramVec
	latestRunMatchedRatio prometheus.Gauge

	authRequestsTotal *prometheus.CounterVec
	healthChecksTotal *prometheus.CounterVec
}

// NewMetrics creates the server metrics on reg. A nil reg uses a private
// registry, which keeps repeated construction in tests from colliding.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalgap_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalgap_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		httpRequestsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vitalgap_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),

		archiveQueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalgap_archive_queries_total",
				Help: "Total number of archive queries",
			},
			[]string{"query", "status"},
		),

		archiveQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vitalgap_archive_query_duration_seconds",
				Help:    "Archive query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),

		latestRunMatchedRatio: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vitalgap_latest_run_matched_ratio",
				Help: "Matched share of decoded rows in the latest served run",
			},
		),

		authRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalgap_auth_requests_total",
				Help: "Total number of authentication requests",
			},
			[]string{"status"},
		),

		healthChecksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vitalgap_health_checks_total",
				Help: "Total number of health checks",
			},
			[]string{"status"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordArchiveQuery records an archive lookup
func (m *Metrics) RecordArchiveQuery(query string, success bool, duration time.Duration) {
	m.archiveQueriesTotal.WithLabelValues(query, statusLabel(success)).Inc()
	m.archiveQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetMatchedRatio publishes the matched share of the latest run.
func (m *Metrics) SetMatchedRatio(matched, total int) {
	if total == 0 {
		m.latestRunMatchedRatio.Set(0)
		return
	}
	m.latestRunMatchedRatio.Set(float64(matched) / float64(total))
}

// RecordAuthRequest records an authentication request
func (m *Metrics) RecordAuthRequest(success bool) {
	m.authRequestsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordHealthCheck records a health check
func (m *Metrics) RecordHealthCheck(success bool) {
	m.healthChecksTotal.WithLabelValues(statusLabel(success)).Inc()
}

// InstrumentHandler instruments an HTTP handler with metrics
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// InstrumentAuthMiddleware counts authentication outcomes of requests that
// carried a key.
func (m *Metrics) InstrumentAuthMiddleware(next func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasAPIKey := r.Header.Get("X-API-Key") != ""

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next(h).ServeHTTP(rw, r)

			if hasAPIKey {
				m.RecordAuthRequest(rw.statusCode != http.StatusUnauthorized)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
