// ABOUTME: Prometheus counters for gate decisions and audit trail health
// ABOUTME: Each Metrics owns its registry; a nil *Metrics is a valid no-op

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gate"

// Outcome labels shared by decision counters.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Metrics groups the collectors exported by the gate.
type Metrics struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
	auditFallback *prometheus.CounterVec
	auditQueue    prometheus.Gauge
	reloads       *prometheus.CounterVec
}

// New creates a Metrics with a private registry that also carries the
// process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Access decisions by component, action and outcome.",
			},
			[]string{"component", "action", "outcome"},
		),
		auditEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_total",
				Help:      "Audit events accepted for recording.",
			},
			[]string{"type", "outcome"},
		),
		auditFallback: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_fallback_total",
				Help:      "Audit events diverted to the fallback log.",
			},
			[]string{"reason"},
		),
		auditQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Audit events waiting for the writer.",
		}),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invitation_reloads_total",
				Help:      "Invitation list reload attempts by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.decisions,
		m.auditEvents,
		m.auditFallback,
		m.auditQueue,
		m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision counts one allow/deny/error decision.
func (m *Metrics) ObserveDecision(component, action, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(component, action, outcome).Inc()
}

// ObserveAuditEvent counts an event accepted by the audit logger.
func (m *Metrics) ObserveAuditEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(eventType, outcome).Inc()
}

// ObserveAuditFallback counts an event written to the fallback log instead of the sink.
func (m *Metrics) ObserveAuditFallback(reason string) {
	if m == nil {
		return
	}
	m.auditFallback.WithLabelValues(reason).Inc()
}

// SetAuditQueueDepth reports the current audit backlog.
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.auditQueue.Set(float64(n))
}

// ObserveReload counts an invitation reload; ok reports whether it was applied.
func (m *Metrics) ObserveReload(ok bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "rejected"
	}
	m.reloads.WithLabelValues(result).Inc()
}
