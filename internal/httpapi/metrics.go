// Package httpapi exposes the Engine over HTTP: a synchronous trigger
// for the Orchestrator and Dispatcher, the role-scoped query surface,
// trend and period comparison endpoints, Prometheus metrics, and a
// WebSocket live-push feed. Routing is a gorilla/mux router plus a
// dedicated Prometheus registry.
package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/recommendation"
)

// Metrics holds every Prometheus collector the Engine's HTTP surface
// exposes at /metrics.
type Metrics struct {
	CycleDuration          prometheus.Histogram
	CyclesTotal            prometheus.Counter
	CyclesPartial          prometheus.Counter
	DetectorTriggers       *prometheus.CounterVec
	GateRejections         *prometheus.CounterVec
	RecommendationsCreated prometheus.Counter
	DeliveryOutcomes       *prometheus.CounterVec
}

// NewMetrics builds and registers the Engine's Prometheus collectors
// against reg. Pass prometheus.NewRegistry() in tests to avoid colliding
// with the global default registry across cases.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "finengine_cycle_duration_seconds",
			Help:    "Duration of one orchestrator cycle.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finengine_cycles_total",
			Help: "Total number of orchestrator cycles run.",
		}),
		CyclesPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finengine_cycles_partial_total",
			Help: "Total number of cycles that exceeded their deadline (PartialCycle).",
		}),
		DetectorTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finengine_detector_triggers_total",
			Help: "Total anomaly candidates detected, before gating, by kind.",
		}, []string{"kind"}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finengine_gate_rejections_total",
			Help: "Total candidates rejected by gating, by kind and rejection reason.",
		}, []string{"kind", "reason"}),
		RecommendationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finengine_recommendations_created_total",
			Help: "Total recommendations persisted after gating.",
		}),
		DeliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finengine_delivery_outcomes_total",
			Help: "Total per-user delivery attempts, by terminal state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.CycleDuration,
		m.CyclesTotal,
		m.CyclesPartial,
		m.DetectorTriggers,
		m.GateRejections,
		m.RecommendationsCreated,
		m.DeliveryOutcomes,
	)

	return m
}

// ObserveCycle implements engine.MetricsSink.
func (m *Metrics) ObserveCycle(duration time.Duration, detected, gated, created int, partial bool) {
	m.CycleDuration.Observe(duration.Seconds())
	m.CyclesTotal.Inc()
	if partial {
		m.CyclesPartial.Inc()
	}
	m.RecommendationsCreated.Add(float64(created))
}

// ObserveGateRejection implements engine.MetricsSink.
func (m *Metrics) ObserveGateRejection(kind detectors.Kind, reason string) {
	m.GateRejections.WithLabelValues(string(kind), reason).Inc()
}

// ObserveDetection implements engine.MetricsSink: a raw detector trigger,
// before gating.
func (m *Metrics) ObserveDetection(kind detectors.Kind) {
	m.DetectorTriggers.WithLabelValues(string(kind)).Inc()
}

// ObserveDelivery implements dispatcher.MetricsSink.
func (m *Metrics) ObserveDelivery(state recommendation.DeliveryState) {
	m.DeliveryOutcomes.WithLabelValues(string(state)).Inc()
}

// Handler returns the Prometheus exposition handler for GET /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
