package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textrelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Session metrics
	sessionResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_session_resolutions_total",
			Help: "Total number of session resolutions",
		},
		[]string{"channel", "outcome"},
	)

	sessionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_session_fallbacks_total",
			Help: "Total number of non-persisted fallback session ids",
		},
		[]string{"channel"},
	)

	// Relay metrics
	relayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_relay_messages_total",
			Help: "Total number of relayed messages",
		},
		[]string{"channel", "status"},
	)

	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textrelay_relay_duration_seconds",
			Help:    "End-to-end relay duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// Query API metrics
	queryRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_query_requests_total",
			Help: "Total number of query API requests",
		},
		[]string{"status"},
	)

	queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "textrelay_query_duration_seconds",
			Help:    "Query API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionResolutionsTotal,
			sessionFallbacksTotal,
			relayMessagesTotal,
			relayDuration,
			queryRequestsTotal,
			queryDuration,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionResolution records the outcome of one session resolution.
// Outcomes are "created", "continued", and "rotated".
func RecordSessionResolution(channel, outcome string) {
	sessionResolutionsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordSessionFallback records a store failure that produced a
// non-persisted fallback id.
func RecordSessionFallback(channel string) {
	sessionFallbacksTotal.WithLabelValues(channel).Inc()
}

// RecordRelayMessage records one end-to-end relayed message.
func RecordRelayMessage(channel, status string, duration time.Duration) {
	relayMessagesTotal.WithLabelValues(channel, status).Inc()
	relayDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordQueryRequest records a query API round trip.
func RecordQueryRequest(status string, duration time.Duration) {
	queryRequestsTotal.WithLabelValues(status).Inc()
	queryDuration.Observe(duration.Seconds())
}
