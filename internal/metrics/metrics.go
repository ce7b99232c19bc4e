// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one engine.
type Metrics struct {
	EventsApplied   *prometheus.CounterVec
	EchoesDeduped   prometheus.Counter
	Reconciliations prometheus.Counter
	GapFilled       prometheus.Counter
	StaleDropped    prometheus.Counter
	SendDuration    prometheus.Histogram
	SendFailures    *prometheus.CounterVec
	Connections     *prometheus.GaugeVec
	Materialized    prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_events_applied_total",
				Help: "Push events applied to local state",
			},
			[]string{"entity", "op"},
		),
		EchoesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "murmur_echoes_deduplicated_total",
			Help: "Inserts that resolved a local pending send instead of appending",
		}),
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "murmur_reconciliations_total",
			Help: "Reconnect reconciliations run",
		}),
		GapFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "murmur_gap_filled_messages_total",
			Help: "Messages recovered by reconciliation",
		}),
		StaleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "murmur_stale_messages_dropped_total",
			Help: "Local records dropped because the service no longer has them",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "murmur_send_duration_seconds",
			Help:    "Time from optimistic append to server confirmation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_send_failures_total",
				Help: "Persist calls that failed",
			},
			[]string{"kind"},
		),
		Connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "murmur_subscriptions",
				Help: "Open subscriptions by connection state",
			},
			[]string{"state"},
		),
		Materialized: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_rendered_rows",
			Help: "Rows materialized by the renderer",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsApplied,
			m.EchoesDeduped,
			m.Reconciliations,
			m.GapFilled,
			m.StaleDropped,
			m.SendDuration,
			m.SendFailures,
			m.Connections,
			m.Materialized,
		)
	}
	return m
}

// Transition moves one subscription between connection states.
func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	if from != "" {
		m.Connections.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.Connections.WithLabelValues(to).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
