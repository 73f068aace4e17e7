// Package metrics exposes the sensor's Prometheus metrics on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. All methods are safe on a nil receiver.
type Metrics struct {
	registry        *prometheus.Registry
	detections      *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	fillLevel       *prometheus.GaugeVec
	pollErrors      prometheus.Counter
	persistFailures *prometheus.CounterVec
	auditFailures   prometheus.Counter
	drains          prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bin_detections_total",
			Help: "Accepted detection events by category.",
		}, []string{"category"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bin_notifications_total",
			Help: "Threshold notifications emitted by severity.",
		}, []string{"severity"}),
		fillLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bin_fill_level",
			Help: "Current fill level percentage by category.",
		}, []string{"category"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bin_poll_errors_total",
			Help: "Failed or disconnected classifier reads.",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bin_persist_failures_total",
			Help: "Persistence tier failures by tier and operation.",
		}, []string{"tier", "op"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bin_audit_failures_total",
			Help: "Waste item records that could not be written.",
		}),
		drains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bin_drains_total",
			Help: "Categories zeroed by confirmed drains.",
		}),
	}

	m.registry.MustRegister(
		m.detections,
		m.notifications,
		m.fillLevel,
		m.pollErrors,
		m.persistFailures,
		m.auditFailures,
		m.drains,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Detection(category string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(category).Inc()
}

func (m *Metrics) Notification(severity string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(severity).Inc()
}

func (m *Metrics) FillLevel(category string, level int) {
	if m == nil {
		return
	}
	m.fillLevel.WithLabelValues(category).Set(float64(level))
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) PersistFailure(tier, op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(tier, op).Inc()
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// Drained counts n categories zeroed by a drain.
func (m *Metrics) Drained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drains.Add(float64(n))
}
