// Package metrics exposes Prometheus instrumentation for the dispatch core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	CycleOK      = "ok"
	CycleError   = "error"
	CycleSkipped = "skipped"

	ModeGreedy     = "greedy"
	ModeOptimized  = "optimized"
	ModeCompletion = "completion"
	ModeManual     = "manual"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	assignments       *prometheus.CounterVec
	conflicts         *prometheus.CounterVec
	activeSchedulers  prometheus.Gauge
	breakerTrips      prometheus.Counter
	notificationFails *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Use prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_scheduler_cycles_total",
				Help: "Scheduling cycles by result",
			},
			[]string{"result"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_scheduler_cycle_duration_seconds",
				Help:    "Duration of completed scheduling cycles",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		assignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_table_assignments_total",
				Help: "Persisted table assignments by mode",
			},
			[]string{"mode"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_table_conflicts_total",
				Help: "Rejected table assignments by conflict kind",
			},
			[]string{"kind"},
		),
		activeSchedulers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_active_schedulers",
				Help: "Tournaments with a running scheduling loop",
			},
		),
		breakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dispatch_scheduler_circuit_breaker_trips_total",
				Help: "Scheduling loops stopped by the error threshold",
			},
		),
		notificationFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_notification_failures_total",
				Help: "Realtime notifications that could not be delivered",
			},
			[]string{"type"},
		),
		gatherer: reg,
	}
}

func (m *Metrics) RecordCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	if result == CycleOK {
		m.cycleDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RecordAssignments(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.assignments.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) RecordConflict(kind string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetActiveSchedulers(n int) {
	if m == nil {
		return
	}
	m.activeSchedulers.Set(float64(n))
}

func (m *Metrics) RecordBreakerTrip() {
	if m == nil {
		return
	}
	m.breakerTrips.Inc()
}

func (m *Metrics) RecordNotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.notificationFails.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
