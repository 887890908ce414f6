// Package metrics provides Prometheus metrics for the skillcheck assessment service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the skillcheck service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	scoreBuckets     []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Assessment Metrics - session and stage lifecycle
	sessionsCreated   prometheus.Counter
	sessionsFinalized prometheus.Counter
	reaggregations    prometheus.Counter
	stagesBegun       *prometheus.CounterVec
	stagesSubmitted   *prometheus.CounterVec
	activeClocks      prometheus.Gauge
	compositeScores   prometheus.Histogram

	// Grading Metrics - grader and oracle behaviour
	gradingLatency *prometheus.HistogramVec
	gradingErrors  *prometheus.CounterVec
	oracleCalls    *prometheus.CounterVec
	oracleLatency  *prometheus.HistogramVec

	// Population Metrics - percentile index
	populationSize          prometheus.Gauge
	percentileQueryLatency  prometheus.Histogram
	indexUpdateLatency      prometheus.Histogram
	indexQueryLatency       prometheus.Histogram
	indexSnapshotDuration   prometheus.Histogram
	indexSnapshotLastUnix   prometheus.Gauge
	indexSnapshotCount      prometheus.Counter
	indexSnapshotLastTookMs prometheus.Gauge

	// Review Queue Metrics - deferred grading backlog
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Review Worker Metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerRetries           prometheus.Counter
	reviewsResolved         *prometheus.CounterVec

	// HTTP Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "skillcheck",
		subsystem:        "assessment",
		histogramBuckets: prometheus.DefBuckets,
		scoreBuckets:     prometheus.LinearBuckets(0, 5, 11),
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.sessionsCreated = auto.NewCounter(m.counterOpts("sessions_created_total", "Total number of assessment sessions created"))
	m.sessionsFinalized = auto.NewCounter(m.counterOpts("sessions_finalized_total", "Total number of sessions with a computed composite"))
	m.reaggregations = auto.NewCounter(m.counterOpts("reaggregations_total", "Total number of explicit composite re-aggregations"))
	m.stagesBegun = auto.NewCounterVec(m.counterOpts("stages_begun_total", "Total number of stages started"), []string{"stage"})
	m.stagesSubmitted = auto.NewCounterVec(m.counterOpts("stages_submitted_total", "Total number of stages submitted"), []string{"stage", "forced"})
	m.activeClocks = auto.NewGauge(m.gaugeOpts("active_clocks", "Number of armed stage clocks"))

	composite := m.histogramOpts("composite_score", "Distribution of composite total scores")
	composite.Buckets = m.scoreBuckets
	m.compositeScores = auto.NewHistogram(composite)

	m.gradingLatency = auto.NewHistogramVec(m.histogramOpts("grading_latency_milliseconds", "Stage grading latency in milliseconds"), []string{"stage"})
	m.gradingErrors = auto.NewCounterVec(m.counterOpts("grading_errors_total", "Total number of grading failures"), []string{"stage", "error_type"})
	m.oracleCalls = auto.NewCounterVec(m.counterOpts("oracle_calls_total", "Total number of text-grading oracle calls"), []string{"backend", "outcome"})
	m.oracleLatency = auto.NewHistogramVec(m.histogramOpts("oracle_latency_milliseconds", "Text-grading oracle latency in milliseconds"), []string{"backend"})

	m.populationSize = auto.NewGauge(m.gaugeOpts("population_size", "Number of finalized sessions in the percentile population"))
	m.percentileQueryLatency = auto.NewHistogram(m.histogramOpts("percentile_query_latency_milliseconds", "Percentile query latency in milliseconds"))
	m.indexUpdateLatency = auto.NewHistogram(m.histogramOpts("index_update_latency_milliseconds", "Population index update latency in milliseconds"))
	m.indexQueryLatency = auto.NewHistogram(m.histogramOpts("index_query_latency_milliseconds", "Population index query latency in milliseconds"))
	m.indexSnapshotDuration = auto.NewHistogram(m.histogramOpts("index_snapshot_rebuild_duration_milliseconds", "Population snapshot rebuild duration in milliseconds"))
	m.indexSnapshotLastUnix = auto.NewGauge(m.gaugeOpts("index_snapshot_last_unix", "Unix timestamp of the last population snapshot publish"))
	m.indexSnapshotCount = auto.NewCounter(m.counterOpts("index_snapshot_count_total", "Total number of population snapshots published"))
	m.indexSnapshotLastTookMs = auto.NewGauge(m.gaugeOpts("index_snapshot_last_duration_milliseconds", "Last population snapshot rebuild duration in milliseconds"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("review_queue_size", "Current size of the review queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("review_queue_capacity", "Maximum review queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("review_queue_utilization_ratio", "Review queue utilization ratio (size / capacity)"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("review_queue_enqueue_total", "Total number of review tasks enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("review_queue_dequeue_total", "Total number of review tasks dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("review_queue_enqueue_errors_total", "Total number of review enqueue errors"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("review_queue_processing_latency_milliseconds", "Time a review task waited in the queue in milliseconds"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("review_worker_count", "Configured number of review workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("review_worker_active_count", "Number of review workers processing a task"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("review_worker_idle_count", "Number of idle review workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("review_worker_processing_latency_milliseconds", "Review processing latency in milliseconds"))
	m.workerErrors = auto.NewCounter(m.counterOpts("review_worker_errors_total", "Total number of review worker errors"))
	m.workerRetries = auto.NewCounter(m.counterOpts("review_worker_retries_total", "Total number of review retries"))
	m.reviewsResolved = auto.NewCounterVec(m.counterOpts("reviews_resolved_total", "Total number of pending results resolved"), []string{"stage", "source"})

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Total number of errors by component"), []string{"component", "error_type"})
	m.errorsByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total", "Total number of errors by type"), []string{"error_type", "severity"})
	m.errorsByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "Total number of errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap memory in use in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
}

// Assessment Metrics Functions.

// RecordSessionCreated increments the sessions created counter.
func RecordSessionCreated() {
	globalManager.sessionsCreated.Inc()
}

// RecordSessionFinalized counts a first aggregation and observes its total.
func RecordSessionFinalized(total float64) {
	globalManager.sessionsFinalized.Inc()
	globalManager.compositeScores.Observe(total)
}

// RecordReaggregation increments the re-aggregation counter.
func RecordReaggregation() {
	globalManager.reaggregations.Inc()
}

// RecordStageBegun increments the stages begun counter.
func RecordStageBegun(stage string) {
	globalManager.stagesBegun.WithLabelValues(stage).Inc()
}

// RecordStageSubmitted increments the stages submitted counter.
func RecordStageSubmitted(stage string, forced bool) {
	globalManager.stagesSubmitted.WithLabelValues(stage, strconv.FormatBool(forced)).Inc()
}

// UpdateActiveClocks sets the number of armed stage clocks.
func UpdateActiveClocks(count int) {
	globalManager.activeClocks.Set(float64(count))
}

// Grading Metrics Functions.

// RecordGradingLatency records grading latency for a stage.
func RecordGradingLatency(stage string, latencyMs float64) {
	globalManager.gradingLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordGradingError increments the grading errors counter.
func RecordGradingError(stage, errorType string) {
	globalManager.gradingErrors.WithLabelValues(stage, errorType).Inc()
}

// RecordOracleCall records one oracle call and its latency.
func RecordOracleCall(backend, outcome string, latencyMs float64) {
	globalManager.oracleCalls.WithLabelValues(backend, outcome).Inc()
	globalManager.oracleLatency.WithLabelValues(backend).Observe(latencyMs)
}

// Population Metrics Functions.

// UpdatePopulationSize sets the number of indexed composites.
func UpdatePopulationSize(count int) {
	globalManager.populationSize.Set(float64(count))
}

// RecordPercentileQuery records percentile query latency.
func RecordPercentileQuery(latencyMs float64) {
	globalManager.percentileQueryLatency.Observe(latencyMs)
}

// RecordIndexUpdateLatency records population index update latency.
func RecordIndexUpdateLatency(latencyMs float64) {
	globalManager.indexUpdateLatency.Observe(latencyMs)
}

// RecordIndexQueryLatency records population index query latency.
func RecordIndexQueryLatency(latencyMs float64) {
	globalManager.indexQueryLatency.Observe(latencyMs)
}

// RecordIndexSnapshot records one snapshot publish.
func RecordIndexSnapshot(durationMs float64) {
	globalManager.indexSnapshotDuration.Observe(durationMs)
	globalManager.indexSnapshotLastTookMs.Set(durationMs)
	globalManager.indexSnapshotLastUnix.Set(float64(time.Now().Unix()))
	globalManager.indexSnapshotCount.Inc()
}

// Review Queue Metrics Functions.

// UpdateQueueSize sets the current review queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum review queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the review queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a task waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Review Worker Metrics Functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records review processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerRetry increments the worker retry counter.
func RecordWorkerRetry() {
	globalManager.workerRetries.Inc()
}

// RecordReviewResolved counts a pending result replaced by a real score.
// source is "automated" or "manual".
func RecordReviewResolved(stage, source string) {
	globalManager.reviewsResolved.WithLabelValues(stage, source).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Metrics Functions.

// UpdateSystemMemoryUsage sets heap memory in use in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
