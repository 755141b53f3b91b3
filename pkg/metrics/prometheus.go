// Package metrics provides Prometheus metrics for the shrinkrank evaluator and leaderboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for shrinkrank.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Evaluation
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	inferenceLatency   prometheus.Histogram
	lastScores         *prometheus.GaugeVec
	lastMeasurements   *prometheus.GaugeVec

	// Leaderboard
	resultsSubmitted   prometheus.Counter
	resultsDuplicate   prometheus.Counter
	resultsRejected    prometheus.Counter
	leaderboardUpdates prometheus.Counter
	leaderboardErrors  prometheus.Counter
	leaderboardRows    prometheus.Gauge
	archiveEntries     prometheus.Gauge

	// Store
	lockWait           prometheus.Histogram
	storeUpdateLatency prometheus.Histogram
	storeQueryLatency  prometheus.Histogram

	// Queue and worker
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueUtilization        prometheus.Gauge
	queueEnqueue            prometheus.Counter
	queueDequeue            prometheus.Counter
	queueEnqueueErrors      prometheus.Counter
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "shrinkrank",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.evaluations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "evaluations_total",
		Help:        "Evaluations run, by outcome",
		ConstLabels: m.customLabels,
	}, []string{"outcome"})
	m.evaluationDuration = m.histogram("evaluation_duration_seconds",
		"Wall time of a full evaluation", prometheus.ExponentialBuckets(1, 2, 12))
	m.inferenceLatency = m.histogram("inference_latency_milliseconds",
		"Single-sample inference latency in milliseconds", m.histogramBuckets)
	m.lastScores = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "last_evaluation_score",
		Help:        "Scores of the most recent evaluation, by component",
		ConstLabels: m.customLabels,
	}, []string{"component"})
	m.lastMeasurements = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "last_evaluation_measurement",
		Help:        "Raw measurements of the most recent evaluation (size_mb, latency_ms, accuracy_pct)",
		ConstLabels: m.customLabels,
	}, []string{"metric"})

	m.resultsSubmitted = m.counter("results_submitted_total", "Results accepted for merging")
	m.resultsDuplicate = m.counter("results_duplicate_total", "Results dropped as duplicates")
	m.resultsRejected = m.counter("results_rejected_total", "Results rejected by validation")
	m.leaderboardUpdates = m.counter("leaderboard_updates_total", "Successful leaderboard merges")
	m.leaderboardErrors = m.counter("leaderboard_errors_total", "Failed leaderboard merges")
	m.leaderboardRows = m.gauge("leaderboard_rows", "Rows in the main table including the baseline")
	m.archiveEntries = m.gauge("archive_entries", "Entries in the submission history")

	m.lockWait = m.histogram("lock_wait_milliseconds", "Time spent acquiring the document lock", m.histogramBuckets)
	m.storeUpdateLatency = m.histogram("store_update_latency_milliseconds",
		"Read-merge-write cycle latency while holding the lock", m.histogramBuckets)
	m.storeQueryLatency = m.histogram("store_query_latency_milliseconds",
		"Document read and decode latency", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Current number of queued results")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum number of queued results")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue fill ratio")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Results enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Results dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts that failed")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time to merge one queued result", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Queued results that failed to merge")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "HTTP requests by endpoint and method",
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "errors_total",
		Help:        "Errors by component and kind",
		ConstLabels: m.customLabels,
	}, []string{"component", "kind"})
}

// RecordEvaluation counts a finished evaluation and its wall time.
func RecordEvaluation(outcome string, seconds float64) {
	globalManager.evaluations.WithLabelValues(outcome).Inc()
	globalManager.evaluationDuration.Observe(seconds)
}

// RecordInferenceLatency records one timed inference in milliseconds.
func RecordInferenceLatency(latencyMs float64) {
	globalManager.inferenceLatency.Observe(latencyMs)
}

// UpdateLastEvaluation publishes the measurements and scores of an evaluation.
func UpdateLastEvaluation(sizeMB, latencyMS, accuracyPct, size, latency, accuracy, total float64) {
	globalManager.lastMeasurements.WithLabelValues("size_mb").Set(sizeMB)
	globalManager.lastMeasurements.WithLabelValues("latency_ms").Set(latencyMS)
	globalManager.lastMeasurements.WithLabelValues("accuracy_pct").Set(accuracyPct)
	globalManager.lastScores.WithLabelValues("size").Set(size)
	globalManager.lastScores.WithLabelValues("latency").Set(latency)
	globalManager.lastScores.WithLabelValues("accuracy").Set(accuracy)
	globalManager.lastScores.WithLabelValues("total").Set(total)
}

// RecordResultSubmitted increments the accepted results counter.
func RecordResultSubmitted() { globalManager.resultsSubmitted.Inc() }

// RecordResultDuplicate increments the duplicate results counter.
func RecordResultDuplicate() { globalManager.resultsDuplicate.Inc() }

// RecordResultRejected increments the rejected results counter.
func RecordResultRejected() { globalManager.resultsRejected.Inc() }

// RecordLeaderboardUpdate increments the leaderboard updates counter.
func RecordLeaderboardUpdate() { globalManager.leaderboardUpdates.Inc() }

// RecordLeaderboardError increments the leaderboard errors counter.
func RecordLeaderboardError() { globalManager.leaderboardErrors.Inc() }

// UpdateLeaderboardSize sets the main table and history sizes.
func UpdateLeaderboardSize(rows, archive int) {
	globalManager.leaderboardRows.Set(float64(rows))
	globalManager.archiveEntries.Set(float64(archive))
}

// RecordLockWait records time spent acquiring the document lock.
func RecordLockWait(latencyMs float64) { globalManager.lockWait.Observe(latencyMs) }

// RecordStoreUpdateLatency records a locked read-merge-write cycle.
func RecordStoreUpdateLatency(latencyMs float64) { globalManager.storeUpdateLatency.Observe(latencyMs) }

// RecordStoreQueryLatency records a document read.
func RecordStoreQueryLatency(latencyMs float64) { globalManager.storeQueryLatency.Observe(latencyMs) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

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

// RecordError records an error with component and kind labels.
func RecordError(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
