// Package metrics provides Prometheus metrics for the MAAP snapshot service.
package metrics

import (
	"sync/atomic"

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

	// Snapshot metrics
	snapshotsCreated    *prometheus.CounterVec
	snapshotBuildLatency prometheus.Histogram
	constructionErrors  prometheus.Counter
	changeProposals     *prometheus.CounterVec

	// Finalization metrics
	finalizations       *prometheus.CounterVec
	finalizationErrors  *prometheus.CounterVec
	finalizationLatency prometheus.Histogram
	checkInsFinalized   prometheus.Counter
	milestonesCreated   prometheus.Counter

	// Batch metrics
	batchRuns     prometheus.Counter
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
	batchRetries  prometheus.Counter
	batchInFlight prometheus.Gauge

	// Job queue metrics
	jobQueueSize          prometheus.Gauge
	jobQueueCapacity      prometheus.Gauge
	jobQueueUtilization   prometheus.Gauge
	jobQueueEnqueue       prometheus.Counter
	jobQueueDequeue       prometheus.Counter
	jobQueueEnqueueErrors prometheus.Counter
	jobDuplicates         prometheus.Counter

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Repository metrics
	repositoryTransactions *prometheus.CounterVec
	repositoryTxLatency    *prometheus.HistogramVec

	// Archive metrics
	archiveWrites *prometheus.CounterVec
	archiveBytes  prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorsByComponent *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// latencyBuckets suit millisecond observations from sub-ms lookups to multi-second batches.
var latencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000} //nolint:gochecknoglobals // immutable defaults

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Global metrics manager instance.
var globalManager atomic.Pointer[Manager] //nolint:gochecknoglobals // intentional global for singleton metrics manager

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager.Store(NewManager(WithPrometheusRegistry(customRegistry)))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "maap",
		subsystem:        "snapshot",
		histogramBuckets: latencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// SetDefault swaps the manager used by the package-level recorders.
func SetDefault(m *Manager) error {
	if m == nil {
		return ErrNilManager
	}
	globalManager.Store(m)
	return nil
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets, ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.snapshotsCreated = m.counterVec("created_total", "Snapshots persisted, by change type", "change_type")
	m.snapshotBuildLatency = m.histogram("build_latency_milliseconds", "Time to derive maap_data for one employee", m.histogramBuckets)
	m.constructionErrors = m.counter("construction_errors_total", "Snapshot builds rejected because state could not be derived")
	m.changeProposals = m.counterVec("change_proposals_total", "Proposed field values found while merging form params", "field")

	m.finalizations = m.counterVec("finalizations_total", "Finalization attempts by outcome", "outcome")
	m.finalizationErrors = m.counterVec("finalization_errors_total", "Finalization failures by error kind", "kind")
	m.finalizationLatency = m.histogram("finalization_latency_milliseconds", "Time to finalize one snapshot", m.histogramBuckets)
	m.checkInsFinalized = m.counter("check_ins_finalized_total", "Check-ins completed by finalization")
	m.milestonesCreated = m.counter("milestones_created_total", "Milestones created by finalization")

	m.batchRuns = m.counter("batch_runs_total", "Bulk finalization runs")
	m.batchSize = m.histogram("batch_size", "Snapshots per bulk finalization run", []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000})
	m.batchDuration = m.histogram("batch_duration_milliseconds", "Wall time of a bulk finalization run", m.histogramBuckets)
	m.batchRetries = m.counter("batch_retries_total", "Per-employee retries after persistence errors")
	m.batchInFlight = m.gauge("batch_in_flight", "Employees currently being finalized")

	m.jobQueueSize = m.gauge("job_queue_size", "Batch jobs waiting in the queue")
	m.jobQueueCapacity = m.gauge("job_queue_capacity", "Maximum batch jobs the queue accepts")
	m.jobQueueUtilization = m.gauge("job_queue_utilization", "Queue size divided by capacity")
	m.jobQueueEnqueue = m.counter("job_queue_enqueue_total", "Batch jobs accepted by the queue")
	m.jobQueueDequeue = m.counter("job_queue_dequeue_total", "Batch jobs handed to workers")
	m.jobQueueEnqueueErrors = m.counter("job_queue_enqueue_errors_total", "Batch jobs rejected by the queue")
	m.jobDuplicates = m.counter("job_duplicates_total", "Batch requests rejected as duplicates")

	m.workerActiveCount = m.gauge("worker_active_count", "Batch workers running")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time a worker spends on one batch job", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Batch jobs that ended with an error")

	m.repositoryTransactions = m.counterVec("repository_transactions_total", "Repository transactions by store and outcome", "store", "outcome")
	m.repositoryTxLatency = m.histogramVec("repository_transaction_latency_milliseconds", "Repository transaction latency", "store")

	m.archiveWrites = m.counterVec("archive_writes_total", "Batch report archive writes", "driver", "outcome")
	m.archiveBytes = m.counter("archive_bytes_total", "Bytes written to the report archive")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func get() *Manager { return globalManager.Load() }

// Snapshot Metrics Functions.

// RecordSnapshotCreated counts a persisted snapshot.
func RecordSnapshotCreated(changeType string) {
	get().snapshotsCreated.WithLabelValues(changeType).Inc()
}

// RecordSnapshotBuildLatency records how long deriving maap_data took.
func RecordSnapshotBuildLatency(latencyMs float64) {
	get().snapshotBuildLatency.Observe(latencyMs)
}

// RecordConstructionError counts a failed snapshot build.
func RecordConstructionError() {
	get().constructionErrors.Inc()
}

// RecordChangeProposal counts a proposed value for a form field.
func RecordChangeProposal(field string) {
	get().changeProposals.WithLabelValues(field).Inc()
}

// Finalization Metrics Functions.

// RecordFinalization counts a finalization attempt by outcome.
func RecordFinalization(outcome string) {
	get().finalizations.WithLabelValues(outcome).Inc()
}

// RecordFinalizationError counts a finalization failure by error kind.
func RecordFinalizationError(kind string) {
	get().finalizationErrors.WithLabelValues(kind).Inc()
}

// RecordFinalizationLatency records how long one finalization took.
func RecordFinalizationLatency(latencyMs float64) {
	get().finalizationLatency.Observe(latencyMs)
}

// RecordCheckInsFinalized adds completed check-ins.
func RecordCheckInsFinalized(count int) {
	get().checkInsFinalized.Add(float64(count))
}

// RecordMilestonesCreated adds created milestones.
func RecordMilestonesCreated(count int) {
	get().milestonesCreated.Add(float64(count))
}

// Batch Metrics Functions.

// RecordBatchRun records a completed bulk run with its size and duration.
func RecordBatchRun(size int, durationMs float64) {
	m := get()
	m.batchRuns.Inc()
	m.batchSize.Observe(float64(size))
	m.batchDuration.Observe(durationMs)
}

// RecordBatchRetry counts a retried employee.
func RecordBatchRetry() {
	get().batchRetries.Inc()
}

// AddBatchInFlight moves the in-flight gauge by delta.
func AddBatchInFlight(delta int) {
	get().batchInFlight.Add(float64(delta))
}

// Job Queue Metrics Functions.

// UpdateJobQueueSize sets the queue length and utilization.
func UpdateJobQueueSize(size, capacity int) {
	m := get()
	m.jobQueueSize.Set(float64(size))
	if capacity > 0 {
		m.jobQueueUtilization.Set(float64(size) / float64(capacity))
	}
}

// UpdateJobQueueCapacity sets the queue capacity.
func UpdateJobQueueCapacity(capacity int) {
	get().jobQueueCapacity.Set(float64(capacity))
}

// RecordJobEnqueue counts an accepted job.
func RecordJobEnqueue() {
	get().jobQueueEnqueue.Inc()
}

// RecordJobDequeue counts a job handed to a worker.
func RecordJobDequeue() {
	get().jobQueueDequeue.Inc()
}

// RecordJobEnqueueError counts a rejected job.
func RecordJobEnqueueError() {
	get().jobQueueEnqueueErrors.Inc()
}

// RecordJobDuplicate counts a duplicate batch request.
func RecordJobDuplicate() {
	get().jobDuplicates.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	get().workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records time spent on one job.
func RecordWorkerProcessingLatency(latencyMs float64) {
	get().workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed job.
func RecordWorkerError() {
	get().workerErrors.Inc()
}

// Repository Metrics Functions.

// RecordRepositoryTransaction records a transaction outcome and latency for a store.
func RecordRepositoryTransaction(store, outcome string, latencyMs float64) {
	m := get()
	m.repositoryTransactions.WithLabelValues(store, outcome).Inc()
	m.repositoryTxLatency.WithLabelValues(store).Observe(latencyMs)
}

// Archive Metrics Functions.

// RecordArchiveWrite records a report archive write.
func RecordArchiveWrite(driver, outcome string, bytes int) {
	m := get()
	m.archiveWrites.WithLabelValues(driver, outcome).Inc()
	if bytes > 0 {
		m.archiveBytes.Add(float64(bytes))
	}
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	get().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	get().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	get().errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	get().systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	get().systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	get().systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
