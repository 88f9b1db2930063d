package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/sync-scheduler/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Executor metrics

	ExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "execution_duration_seconds",
		Help:      "Duration of one sync operation run.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	ExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "executions_total",
		Help:      "Total execution submissions, by outcome.",
	}, []string{"outcome"})

	ActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "executor_active_tasks",
		Help:      "Number of schedules currently being executed.",
	})

	QueuedTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "executor_queued_tasks",
		Help:      "Number of schedules waiting for a free executor slot.",
	})

	MaxConcurrentTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "executor_max_concurrent_tasks",
		Help:      "Current executor concurrency ceiling.",
	})

	// Dispatcher metrics

	PollCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "poll_cycle_duration_seconds",
		Help:      "Time taken for one due-check cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	DueSchedules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "due_schedules",
		Help:      "Schedules found due in the last poll cycle.",
	})

	RetriesScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "retries_scheduled_total",
		Help:      "Total retries armed after a failed execution.",
	})

	RetriesExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "retries_exhausted_total",
		Help:      "Schedules flagged after running out of retries.",
	})

	// Conflict metrics

	ConflictsDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "conflicts_detected_total",
		Help:      "Total schedule conflicts detected, by type.",
	}, []string{"type"})

	// Housekeeping metrics

	HousekeepingPrunedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "housekeeping_pruned_total",
		Help:      "Rows removed by housekeeping, by kind.",
	}, []string{"kind"})

	// Scheduler lifecycle

	SchedulerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the dispatcher started.",
	})

	SchedulerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "shutdowns_total",
		Help:      "Number of times the dispatcher has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	WebhooksThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "webhooks_throttled_total",
		Help:      "Webhook trigger requests rejected by the rate limiter.",
	})
)

func Register() {
	prometheus.MustRegister(
		ExecutionDuration,
		ExecutionsTotal,
		ActiveTasks,
		QueuedTasks,
		MaxConcurrentTasks,
		PollCycleDuration,
		DueSchedules,
		RetriesScheduledTotal,
		RetriesExhaustedTotal,
		ConflictsDetectedTotal,
		HousekeepingPrunedTotal,
		SchedulerStartTime,
		SchedulerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		WebhooksThrottledTotal,
	)
}

// NewServer serves /metrics plus liveness and readiness probes backed by checker.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
