// Package metrics holds the Prometheus collectors for rendering, exports
// and sessions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "purpleqr"

// Outcome labels
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDiscarded = "discarded"
	OutcomeEmpty     = "empty"
)

type Metrics struct {
	renders        *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	coalesced      prometheus.Counter
	exports        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New creates the collectors and registers them with registerer
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	renders := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Renders completed, by mode and outcome.",
		},
		[]string{"mode", "outcome"}, // success | failure | discarded
	)

	renderDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time from render start to completion.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"mode"},
	)

	coalesced := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_coalesced_total",
			Help:      "Pending renders replaced by a newer change inside the debounce window.",
		},
	)

	exports := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export requests, by format and outcome.",
		},
		[]string{"format", "outcome"}, // success | failure | empty
	)

	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_cache_lookups_total",
			Help:      "Export cache lookups, by result.",
		},
		[]string{"result"}, // hit | miss
	)

	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live editing sessions.",
		},
	)

	registerer.MustRegister(renders, renderDuration, coalesced, exports, cacheLookups, activeSessions)

	return &Metrics{
		renders:        renders,
		renderDuration: renderDuration,
		coalesced:      coalesced,
		exports:        exports,
		cacheLookups:   cacheLookups,
		activeSessions: activeSessions,
	}
}

func (m *Metrics) ObserveRender(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(mode, outcome).Inc()
	if outcome != OutcomeDiscarded {
		m.renderDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) IncExport(format, outcome string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format, outcome).Inc()
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
