// Package metrics holds the Prometheus collectors shared by the engine, the
// event store, the admission gate and the HTTP layer.
//
// Collectors are registered against an explicit registerer rather than the
// global default so that tests can build any number of isolated instances.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lockerd"

// Metrics is the set of collectors exported on /metrics.
type Metrics struct {
	Connections       *prometheus.GaugeVec
	ConnectsRejected  *prometheus.CounterVec
	FramesDropped     prometheus.Counter
	BroadcastDuration prometheus.Histogram
	EventsEmitted     *prometheus.CounterVec
	EventsStored      prometheus.Gauge
	EventsEvicted     *prometheus.CounterVec
	Admissions        *prometheus.CounterVec
	LocksHeld         prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Active WebSocket connections per namespace",
		}, []string{"namespace"}),
		ConnectsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connects_rejected_total",
			Help:      "WebSocket handshakes rejected, by reason",
		}, []string{"reason"}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because the peer was closed or too slow",
		}),
		BroadcastDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "broadcast_duration_seconds",
			Help:      "Time spent fanning a single event out to its recipients",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Events persisted and broadcast, by type",
		}, []string{"type"}),
		EventsStored: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stored",
			Help:      "Events currently held by the event store",
		}),
		EventsEvicted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "evicted_total",
			Help:      "Events removed from the store, by cause (capacity, expired)",
		}, []string{"cause"}),
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions, by outcome",
		}, []string{"outcome"}),
		LocksHeld: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "locks_held",
			Help:      "Resource locks currently recorded (including not yet reclaimed stale ones)",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

// ConnectionOpened increments the gauge for ns.
func (m *Metrics) ConnectionOpened(ns string) {
	if m != nil {
		m.Connections.WithLabelValues(ns).Inc()
	}
}

// ConnectionClosed decrements the gauge for ns.
func (m *Metrics) ConnectionClosed(ns string) {
	if m != nil {
		m.Connections.WithLabelValues(ns).Dec()
	}
}

func (m *Metrics) ConnectRejected(reason string) {
	if m != nil {
		m.ConnectsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

// ObserveBroadcast records one fan-out duration in seconds.
func (m *Metrics) ObserveBroadcast(seconds float64) {
	if m != nil {
		m.BroadcastDuration.Observe(seconds)
	}
}

func (m *Metrics) EventEmitted(eventType string) {
	if m != nil {
		m.EventsEmitted.WithLabelValues(eventType).Inc()
	}
}

// SetStored reports the current event store size.
func (m *Metrics) SetStored(n int) {
	if m != nil {
		m.EventsStored.Set(float64(n))
	}
}

func (m *Metrics) Evicted(cause string, n int) {
	if m != nil && n > 0 {
		m.EventsEvicted.WithLabelValues(cause).Add(float64(n))
	}
}

// Admission records an admission outcome: "admitted", "locked", "pending",
// "invalid" or "error".
func (m *Metrics) Admission(outcome string) {
	if m != nil {
		m.Admissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetLocksHeld(n int) {
	if m != nil {
		m.LocksHeld.Set(float64(n))
	}
}

// ObserveHTTP records one completed request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, route, status).Inc()
		m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
	}
}
