package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	WorkItemsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "factory_work_items_by_status",
			Help: "Number of work items by status",
		},
		[]string{"status"},
	)

	WorkItemsByPriority = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "factory_work_items_by_priority",
			Help: "Number of queued work items by priority",
		},
		[]string{"priority"},
	)

	WorkItemsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_work_items_enqueued_total",
			Help: "Total number of work items added to the queue",
		},
	)

	WorkItemsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_work_items_completed_total",
			Help: "Total number of work items completed",
		},
	)

	WorkItemsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_work_items_failed_total",
			Help: "Total number of work items that exhausted retries",
		},
	)

	WorkItemsRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_work_items_requeued_total",
			Help: "Total number of work items requeued after a failed attempt",
		},
	)

	// Worker metrics
	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "factory_workers_active",
			Help: "Number of workers currently starting or running",
		},
	)

	WorkersSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_workers_spawned_total",
			Help: "Total number of workers spawned",
		},
	)

	WorkersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "factory_workers_by_status",
			Help: "Number of workers by lifecycle status",
		},
		[]string{"status"},
	)

	WorkersStuckTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_workers_stuck_total",
			Help: "Total number of workers transitioned to stuck",
		},
	)

	WorkersKilledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_workers_killed_total",
			Help: "Total number of workers force-killed",
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "factory_scheduling_latency_seconds",
			Help:    "Time taken for one scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "factory_worker_spawn_duration_seconds",
			Help:    "Time taken to spawn a worker container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkItemDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "factory_work_item_duration_seconds",
			Help:    "Time from worker spawn to work item completion in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// Rate limiter metrics
	RateLimiterDailyIterations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "factory_rate_limiter_daily_iterations",
			Help: "Iterations consumed against today's daily budget",
		},
	)

	RateLimiterSpawnDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_rate_limiter_spawn_denied_total",
			Help: "Total number of spawn attempts denied by the rate limiter",
		},
	)

	// Conflict arbiter metrics
	FileLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "factory_file_locks_held",
			Help: "Number of file locks currently held",
		},
	)

	FileLockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "factory_file_lock_conflicts_total",
			Help: "Total number of file lock acquisition conflicts",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factory_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "factory_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WorkItemsByStatus)
	prometheus.MustRegister(WorkItemsByPriority)
	prometheus.MustRegister(WorkItemsEnqueuedTotal)
	prometheus.MustRegister(WorkItemsCompletedTotal)
	prometheus.MustRegister(WorkItemsFailedTotal)
	prometheus.MustRegister(WorkItemsRequeuedTotal)

	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(WorkersSpawnedTotal)
	prometheus.MustRegister(WorkersByStatus)
	prometheus.MustRegister(WorkersStuckTotal)
	prometheus.MustRegister(WorkersKilledTotal)

	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(WorkerSpawnDuration)
	prometheus.MustRegister(WorkItemDuration)

	prometheus.MustRegister(RateLimiterDailyIterations)
	prometheus.MustRegister(RateLimiterSpawnDeniedTotal)

	prometheus.MustRegister(FileLocksHeld)
	prometheus.MustRegister(FileLockConflictsTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
