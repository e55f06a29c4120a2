// Package metrics provides Prometheus metrics for the bet scoreboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Core business metrics: the event lifecycle
	eventsSubmitted    prometheus.Counter
	submitRejected     *prometheus.CounterVec
	votesCast          *prometheus.CounterVec
	eventsVetoed       prometheus.Counter
	leaderboardUpdates prometheus.Counter
	idempotentReplays  prometheus.Counter

	// Scale gauges
	groupsTotal prometheus.Gauge
	eventsTotal prometheus.Gauge

	// Record store
	storeTxLatency *prometheus.HistogramVec
	storeTxErrors  *prometheus.CounterVec

	// Notification fan-out
	notificationsPublished *prometheus.CounterVec
	notificationsDropped   *prometheus.CounterVec
	notificationsDelivered *prometheus.CounterVec
	wsSubscribers          prometheus.Gauge

	// Dispatch queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueUtilization        prometheus.Gauge
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "bet",
		subsystem:        "scoreboard",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.eventsSubmitted = auto.NewCounter(m.counter("events_submitted_total", "Events committed by the engine"))
	m.submitRejected = auto.NewCounterVec(m.counter("events_rejected_total", "Submissions rejected before commit"), []string{"reason"})
	m.votesCast = auto.NewCounterVec(m.counter("votes_cast_total", "Veto votes received, by outcome"), []string{"outcome"})
	m.eventsVetoed = auto.NewCounter(m.counter("events_vetoed_total", "Events that crossed their veto threshold"))
	m.leaderboardUpdates = auto.NewCounter(m.counter("leaderboard_updates_total", "Committed leaderboard deltas"))
	m.idempotentReplays = auto.NewCounter(m.counter("idempotent_replays_total", "Submissions answered from the idempotency cache"))

	m.groupsTotal = auto.NewGauge(m.gauge("groups_total", "Groups known to the store"))
	m.eventsTotal = auto.NewGauge(m.gauge("events_total", "Events known to the store"))

	m.storeTxLatency = auto.NewHistogramVec(m.histogram("store_tx_latency_milliseconds", "Record store transaction latency", m.histogramBuckets), []string{"op"})
	m.storeTxErrors = auto.NewCounterVec(m.counter("store_tx_errors_total", "Record store transactions that did not commit"), []string{"op"})

	m.notificationsPublished = auto.NewCounterVec(m.counter("notifications_published_total", "Notifications handed to the fan-out"), []string{"kind"})
	m.notificationsDropped = auto.NewCounterVec(m.counter("notifications_dropped_total", "Notifications the fan-out could not accept or forward"), []string{"reason"})
	m.notificationsDelivered = auto.NewCounterVec(m.counter("notifications_delivered_total", "Notifications written to live connections"), []string{"kind"})
	m.wsSubscribers = auto.NewGauge(m.gauge("ws_subscribers", "Live WebSocket connections joined to a group"))

	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Notifications waiting for dispatch"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Total dispatch queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gauge("queue_utilization_ratio", "Dispatch queue utilization (0-1)"))
	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Dispatch workers running"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogram("worker_processing_latency_milliseconds", "Time to forward one notification", m.histogramBuckets))
	m.workerErrors = auto.NewCounter(m.counter("worker_errors_total", "Forwarding failures"))

	m.httpRequests = auto.NewCounterVec(m.counter("http_requests_total", "HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogram("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counter("errors_by_component_total", "Errors by component and type"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counter("errors_by_type_total", "Errors by type and severity"), []string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counter("errors_by_endpoint_total", "Errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogram("error_latency_milliseconds", "Latency of failed operations", m.histogramBuckets), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// RecordEventSubmitted counts a committed submission.
func RecordEventSubmitted() { globalManager.eventsSubmitted.Inc() }

// RecordSubmitRejected counts a submission rejected with reason (e.g. rule_not_found).
func RecordSubmitRejected(reason string) { globalManager.submitRejected.WithLabelValues(reason).Inc() }

// RecordVoteCast counts a veto vote; duplicate votes are counted separately.
func RecordVoteCast(duplicate bool) {
	outcome := "counted"
	if duplicate {
		outcome = "duplicate"
	}
	globalManager.votesCast.WithLabelValues(outcome).Inc()
}

// RecordEventVetoed counts an approved -> vetoed transition.
func RecordEventVetoed() { globalManager.eventsVetoed.Inc() }

// RecordLeaderboardUpdate counts a committed score delta.
func RecordLeaderboardUpdate() { globalManager.leaderboardUpdates.Inc() }

// RecordIdempotentReplay counts a submission served from the idempotency cache.
func RecordIdempotentReplay() { globalManager.idempotentReplays.Inc() }

// UpdateGroupsTotal sets the number of groups.
func UpdateGroupsTotal(n int) { globalManager.groupsTotal.Set(float64(n)) }

// UpdateEventsTotal sets the number of events.
func UpdateEventsTotal(n int) { globalManager.eventsTotal.Set(float64(n)) }

// RecordStoreTxLatency observes the latency of a store transaction.
func RecordStoreTxLatency(op string, latencyMs float64) {
	globalManager.storeTxLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreTxError counts a transaction that did not commit.
func RecordStoreTxError(op string) { globalManager.storeTxErrors.WithLabelValues(op).Inc() }

// RecordNotificationPublished counts a notification accepted by the fan-out.
func RecordNotificationPublished(kind string) {
	globalManager.notificationsPublished.WithLabelValues(kind).Inc()
}

// RecordNotificationDropped counts a notification lost with reason.
func RecordNotificationDropped(reason string) {
	globalManager.notificationsDropped.WithLabelValues(reason).Inc()
}

// RecordNotificationDelivered counts a frame written to a live connection.
func RecordNotificationDelivered(kind string) {
	globalManager.notificationsDelivered.WithLabelValues(kind).Inc()
}

// AddWSSubscribers adjusts the live subscriber gauge by delta.
func AddWSSubscribers(delta int) { globalManager.wsSubscribers.Add(float64(delta)) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// UpdateWorkerCount sets the number of dispatch workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
