// Package metrics provides Prometheus metrics for the dogwalker daemon:
// package-level collectors recorded throughout the system plus a query
// service for aggregating task durations out of a Prometheus server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus collectors are process-wide by design
var (
	// TasksStarted counts tasks accepted by the entry point.
	TasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogwalker_tasks_started_total",
		Help: "Total number of tasks accepted and enqueued",
	})

	// TasksTerminal counts tasks reaching a terminal phase, by outcome.
	TasksTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogwalker_tasks_terminal_total",
		Help: "Total number of tasks reaching a terminal phase by status",
	}, []string{"status"})

	// PhaseDuration observes wall time per phase per task.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dogwalker_phase_duration_seconds",
		Help:    "Duration of task phases in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"phase", "task_id", "dog"})

	// FeedbackMessages counts feedback flowing through the relay.
	FeedbackMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogwalker_feedback_messages_total",
		Help: "Total feedback messages by direction (recorded or delivered)",
	}, []string{"direction"})

	// CancelRequests counts cancellation requests.
	CancelRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogwalker_cancel_requests_total",
		Help: "Total cancellation requests received",
	})

	// StoreDegraded counts flips into degraded (round-robin) selection.
	StoreDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogwalker_store_degraded_total",
		Help: "Times the selector degraded to round-robin because the store was unreachable",
	})

	// RetryAttempts counts transient-error retries by phase.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogwalker_retry_attempts_total",
		Help: "Transient-error retry attempts by phase",
	}, []string{"phase"})
)
