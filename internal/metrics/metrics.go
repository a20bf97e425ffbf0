package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forwarder",
			Name:      "task_runs_total",
			Help:      "Completed task runs by result.",
		},
		[]string{"result"},
	)

	sendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forwarder",
			Name:      "send_attempts_total",
			Help:      "Sender invocations by outcome reason.",
		},
		[]string{"reason"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "forwarder",
			Name:      "task_run_duration_seconds",
			Help:      "Wall-clock duration of one task run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	inFlightRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forwarder",
			Name:      "in_flight_runs",
			Help:      "Task runs currently executing.",
		},
	)

	dueScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forwarder",
			Name:      "due_tasks_scanned_total",
			Help:      "Due tasks seen by scheduler ticks.",
		},
	)

	bulkSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forwarder",
			Name:      "bulk_skipped_total",
			Help:      "Tasks skipped by bulk operations because a run was in flight.",
		},
		[]string{"action"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(runsTotal, sendAttempts, runDuration, inFlightRuns, dueScanned, bulkSkipped)
	})
}

// ObserveRun records one finished run.
func ObserveRun(result string, duration time.Duration) {
	runsTotal.WithLabelValues(result).Inc()
	runDuration.Observe(duration.Seconds())
}

// IncSendAttempt counts one sender invocation; reason is "ok" on success.
func IncSendAttempt(reason string) {
	sendAttempts.WithLabelValues(reason).Inc()
}

// RunStarted / RunFinished track the in-flight gauge.
func RunStarted()  { inFlightRuns.Inc() }
func RunFinished() { inFlightRuns.Dec() }

// AddDueScanned counts due tasks picked up by a tick.
func AddDueScanned(n int) {
	dueScanned.Add(float64(n))
}

// AddBulkSkipped counts tasks a bulk action had to skip.
func AddBulkSkipped(action string, n int64) {
	bulkSkipped.WithLabelValues(action).Add(float64(n))
}
