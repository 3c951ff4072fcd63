package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_poll_cycles_total",
			Help: "Total number of bridge loop cycles completed",
		},
	)

	TasksClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_tasks_claimed_total",
			Help: "Total number of tasks successfully claimed",
		},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_tasks_completed_total",
			Help: "Total number of tasks completed, by outcome",
		},
		[]string{"outcome"}, // success, permanent_failure
	)

	TaskFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_task_failures_total",
			Help: "Total number of individual task execution failures, retried or not",
		},
	)

	QuarantineEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_quarantine_entries_total",
			Help: "Total number of times this worker entered the quarantined state",
		},
	)

	ConsecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_consecutive_errors",
			Help: "Current consecutive task-execution error count",
		},
	)

	HeartbeatAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_heartbeat_age_seconds",
			Help: "Seconds since the last heartbeat was written",
		},
	)

	CLIInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_cli_invocation_duration_seconds",
			Help:    "Duration of provider CLI invocations in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"provider", "outcome"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_cycle_duration_seconds",
			Help:    "Duration of one bridge loop cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		PollCyclesTotal,
		TasksClaimedTotal,
		TasksCompletedTotal,
		TaskFailuresTotal,
		QuarantineEntriesTotal,
		ConsecutiveErrors,
		HeartbeatAgeSeconds,
		CLIInvocationDuration,
		CycleDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
