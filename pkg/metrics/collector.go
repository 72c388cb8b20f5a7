// Package metrics exposes Prometheus collectors for the flow runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chainExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_executions_total",
			Help: "Total number of chain executions labeled by final outcome",
		},
		[]string{"outcome"},
	)
	chainDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_duration_seconds",
			Help:    "Duration of chain executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	chainSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chain_steps",
			Help:    "Number of nodes executed per chain",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
	)
	nodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_executions_total",
			Help: "Total number of node executions labeled by node type and status",
		},
		[]string{"type", "status"},
	)
	cycleGuardTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cycle_guard_trips_total",
			Help: "Number of chains forcibly terminated by the iteration bound",
		},
	)
	effectsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "effects_emitted_total",
			Help: "Total number of effects emitted labeled by effect type",
		},
		[]string{"type"},
	)
	awaitingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "awaiting_sessions",
			Help: "Current number of sessions suspended on user input",
		},
	)
	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Total number of handled Telegram updates labeled by kind and status",
		},
		[]string{"kind", "status"},
	)
	updateDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_update_duration_seconds",
			Help:    "Duration of Telegram update handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// RecordChain tracks one finished chain execution.
func RecordChain(outcome string, steps int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}

	chainExecutionsTotal.WithLabelValues(outcome).Inc()
	chainDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	chainSteps.Observe(float64(steps))
}

// RecordNode tracks one node execution.
func RecordNode(nodeType, status string) {
	if nodeType == "" {
		nodeType = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	nodeExecutionsTotal.WithLabelValues(nodeType, status).Inc()
}

// RecordCycleGuardTrip counts a chain stopped by the iteration bound.
func RecordCycleGuardTrip() {
	cycleGuardTripsTotal.Inc()
}

// RecordEffect counts an emitted effect by type.
func RecordEffect(effectType string) {
	if effectType == "" {
		effectType = "unknown"
	}

	effectsEmittedTotal.WithLabelValues(effectType).Inc()
}

// SetAwaitingSessions updates the gauge of sessions suspended on input.
func SetAwaitingSessions(count int) {
	awaitingSessions.Set(float64(count))
}

// RecordUpdate tracks one handled Telegram update.
func RecordUpdate(kind, status string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	updatesTotal.WithLabelValues(kind, status).Inc()
	updateDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}
