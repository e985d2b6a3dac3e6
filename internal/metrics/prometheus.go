package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the event tracker
type PrometheusMetrics struct {
	// Log pipeline metrics
	LogsFetchedTotal    *prometheus.CounterVec
	LogsNormalizedTotal *prometheus.CounterVec
	LogsDroppedTotal    *prometheus.CounterVec
	LogsDeliveredTotal  *prometheus.CounterVec

	// Historical fetch metrics
	FetchRequestsTotal *prometheus.CounterVec
	FetchRetriesTotal  prometheus.Counter
	FetchDuration      *prometheus.HistogramVec

	// Subscription metrics
	SubscriptionsActive     prometheus.Gauge
	SubscriptionErrorsTotal prometheus.Counter
	ResubscribesTotal       prometheus.Counter

	// Connection metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Tracker metrics
	EventsTracked prometheus.Gauge

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	GoroutineCount    prometheus.Gauge
	MemoryUsage       prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		LogsFetchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_logs_fetched_total",
				Help: "Total number of raw logs returned by historical fetches",
			},
			[]string{"contract_address"},
		),

		LogsNormalizedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_logs_normalized_total",
				Help: "Total number of logs normalized into canonical records",
			},
			[]string{"contract_address", "event_name"},
		),

		LogsDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_logs_dropped_total",
				Help: "Total number of logs dropped because they did not decode",
			},
			[]string{"contract_address"},
		),

		LogsDeliveredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_logs_delivered_total",
				Help: "Total number of normalized logs delivered to callbacks",
			},
			[]string{"contract_address", "event_name", "path"},
		),

		FetchRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_fetch_requests_total",
				Help: "Total number of historical log fetches",
			},
			[]string{"contract_address", "status"},
		),

		FetchRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_fetch_retries_total",
				Help: "Total number of historical fetch retries",
			},
		),

		FetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_fetch_duration_seconds",
				Help:    "Time spent completing historical fetches, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"contract_address"},
		),

		SubscriptionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_subscriptions_active",
				Help: "Number of currently open live log subscriptions",
			},
		),

		SubscriptionErrorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_subscription_errors_total",
				Help: "Total number of errors reported on subscription channels",
			},
		),

		ResubscribesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_resubscribes_total",
				Help: "Total number of subscription re-establishments",
			},
		),

		ConnectionErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_connection_errors_total",
				Help: "Total number of node connection errors",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_rpc_requests_total",
				Help: "Total number of RPC requests",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_rpc_request_duration_seconds",
				Help:    "RPC request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		EventsTracked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_events_tracked",
				Help: "Number of event descriptors currently tracked",
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_goroutines",
				Help: "Number of running goroutines",
			},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_memory_bytes",
				Help: "Allocated heap bytes",
			},
		),
	}
}

// RecordLogsFetched records raw logs returned by a historical fetch
func (m *PrometheusMetrics) RecordLogsFetched(contract string, count int) {
	m.LogsFetchedTotal.WithLabelValues(contract).Add(float64(count))
}

// RecordLogNormalized records a successfully normalized log
func (m *PrometheusMetrics) RecordLogNormalized(contract, eventName string) {
	m.LogsNormalizedTotal.WithLabelValues(contract, eventName).Inc()
}

// RecordLogDropped records a log dropped on decode mismatch
func (m *PrometheusMetrics) RecordLogDropped(contract string) {
	m.LogsDroppedTotal.WithLabelValues(contract).Inc()
}

// RecordLogsDelivered records callback deliveries on the given path
// ("historical" or "live")
func (m *PrometheusMetrics) RecordLogsDelivered(contract, eventName, path string, count int) {
	m.LogsDeliveredTotal.WithLabelValues(contract, eventName, path).Add(float64(count))
}

// RecordFetch records a completed historical fetch
func (m *PrometheusMetrics) RecordFetch(contract, status string, duration time.Duration) {
	m.FetchRequestsTotal.WithLabelValues(contract, status).Inc()
	m.FetchDuration.WithLabelValues(contract).Observe(duration.Seconds())
}

// RecordFetchRetry records one fetch retry
func (m *PrometheusMetrics) RecordFetchRetry() {
	m.FetchRetriesTotal.Inc()
}

// RecordSubscriptionOpened increments the active subscription gauge
func (m *PrometheusMetrics) RecordSubscriptionOpened() {
	m.SubscriptionsActive.Inc()
}

// RecordSubscriptionClosed decrements the active subscription gauge
func (m *PrometheusMetrics) RecordSubscriptionClosed() {
	m.SubscriptionsActive.Dec()
}

// RecordSubscriptionError records a channel error
func (m *PrometheusMetrics) RecordSubscriptionError() {
	m.SubscriptionErrorsTotal.Inc()
}

// RecordResubscribe records a subscription re-establishment
func (m *PrometheusMetrics) RecordResubscribe() {
	m.ResubscribesTotal.Inc()
}

// RecordConnectionError records a node connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request outcome
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request outcome
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateEventsTracked sets the tracked descriptor count
func (m *PrometheusMetrics) UpdateEventsTracked(count int) {
	m.EventsTracked.Set(float64(count))
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateGoroutineCount updates the goroutine gauge
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateMemoryUsage updates the heap gauge
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}
