// Package metrics holds the Prometheus collectors for the tutor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// so components can be built without instrumentation in tests.
type Metrics struct {
	Turns           *prometheus.CounterVec
	TurnLatency     prometheus.Histogram
	Classifications *prometheus.CounterVec
	RouteFallbacks  *prometheus.CounterVec
	ContentRequests *prometheus.CounterVec
	ActiveSockets   prometheus.Gauge
	RateLimited     prometheus.Counter
}

// New registers the collectors with reg. Passing nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caps_tutor_turns_total",
			Help: "Turns handled, by agent and outcome",
		}, []string{"agent", "outcome"}), // outcome: ok, fallback, routing_error, emergency

		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "caps_tutor_turn_duration_seconds",
			Help:    "End-to-end turn latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caps_tutor_classifications_total",
			Help: "Intent classifications, by category and source",
		}, []string{"category", "source"}),

		RouteFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caps_tutor_route_fallbacks_total",
			Help: "Turns rerouted to the conversation agent, by intended agent",
		}, []string{"intended_agent"}),

		ContentRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "caps_tutor_content_requests_total",
			Help: "Content generation requests, by kind and result",
		}, []string{"kind", "result"}), // result: generated, cached, fallback

		ActiveSockets: f.NewGauge(prometheus.GaugeOpts{
			Name: "caps_tutor_websocket_connections_active",
			Help: "Open simulator WebSocket connections",
		}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "caps_tutor_rate_limited_total",
			Help: "Turns rejected by the per-user rate limiter",
		}),
	}
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(agent, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(agent, outcome).Inc()
	m.TurnLatency.Observe(elapsed.Seconds())
}

// ObserveClassification records which path produced an intent.
func (m *Metrics) ObserveClassification(category, source string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(category, source).Inc()
}

// ObserveRouteFallback records a reroute to the conversation agent.
func (m *Metrics) ObserveRouteFallback(intended string) {
	if m == nil {
		return
	}
	m.RouteFallbacks.WithLabelValues(intended).Inc()
}

// ObserveContent records a content generation result.
func (m *Metrics) ObserveContent(kind, result string) {
	if m == nil {
		return
	}
	m.ContentRequests.WithLabelValues(kind, result).Inc()
}

// SocketOpened increments the open WebSocket gauge.
func (m *Metrics) SocketOpened() {
	if m == nil {
		return
	}
	m.ActiveSockets.Inc()
}

// SocketClosed decrements the open WebSocket gauge.
func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.ActiveSockets.Dec()
}

// ObserveRateLimited counts a rejected turn.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
