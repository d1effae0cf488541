package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Process metrics
	ProcessesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_processes_total",
			Help: "Total number of known processes by state",
		},
		[]string{"state"},
	)

	ArtifactsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_artifacts_total",
			Help: "Total number of discovered workspace artifacts",
		},
	)

	StacksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paddock_stacks_total",
			Help: "Total number of configured stacks",
		},
	)

	// Build/start/stop operation metrics
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_build_duration_seconds",
			Help:    "Time taken for a cargo build invocation in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	BuildsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_builds_failed_total",
			Help: "Total number of failed cargo build invocations",
		},
	)

	ProcessStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_process_start_duration_seconds",
			Help:    "Time taken to start a single process in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_process_stop_duration_seconds",
			Help:    "Time taken to stop a single process in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_process_starts_total",
			Help: "Total number of process start attempts by outcome",
		},
		[]string{"outcome"},
	)

	ProcessStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_process_stops_total",
			Help: "Total number of process stop attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Scheduler metrics
	SchedulerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_scheduler_request_duration_seconds",
			Help:    "Time taken for a scheduler request in seconds, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	SchedulerRequestsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_scheduler_requests_failed_total",
			Help: "Total number of failed scheduler requests by kind",
		},
		[]string{"kind"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(ProcessesTotal)
	prometheus.MustRegister(ArtifactsTotal)
	prometheus.MustRegister(StacksTotal)

	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(BuildsFailedTotal)
	prometheus.MustRegister(ProcessStartDuration)
	prometheus.MustRegister(ProcessStopDuration)
	prometheus.MustRegister(ProcessStartsTotal)
	prometheus.MustRegister(ProcessStopsTotal)

	prometheus.MustRegister(SchedulerRequestDuration)
	prometheus.MustRegister(SchedulerRequestsFailedTotal)

	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
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
