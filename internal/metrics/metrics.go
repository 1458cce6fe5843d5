package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, one set per running daemon. They are
// registered via Register and updated from internal/supervisor.Driver as
// service records start, stop, and transition state.
var (
	regOK atomic.Bool

	recordStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "starts_total",
			Help:      "Number of successful service record starts.",
		}, []string{"name"},
	)
	recordRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "restarts_total",
			Help:      "Number of auto restarts allowed by the restart rate limiter.",
		}, []string{"name"},
	)
	recordStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or killed).",
		}, []string{"name"},
	)
	recordStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "start_duration_seconds",
			Help:      "Time spent waiting for a readiness notification during bring-up.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	recordsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "running",
			Help:      "Current number of process-backed records with a live process.",
		},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different record states.",
		}, []string{"name", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dinitgo",
			Subsystem: "record",
			Name:      "current_state",
			Help:      "Current state of a record (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{recordStarts, recordRestarts, recordStops, recordStartDuration, recordsRunning, stateTransitions, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers called from internal/supervisor.Driver. They
// no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		recordStarts.WithLabelValues(name).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		recordRestarts.WithLabelValues(name).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		recordStops.WithLabelValues(name).Inc()
	}
}
func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		recordStartDuration.WithLabelValues(name).Observe(seconds)
	}
}
func SetRecordsRunning(n int) {
	if regOK.Load() {
		recordsRunning.Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}
