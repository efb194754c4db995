// ABOUTME: Tests for the gate's Prometheus collectors
// ABOUTME: Verifies counters increment and nil receivers are safe

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDecision(t *testing.T) {
	m := New()

	m.ObserveDecision("ratelimit", "auth", OutcomeAllowed)
	m.ObserveDecision("ratelimit", "auth", OutcomeAllowed)
	m.ObserveDecision("ratelimit", "auth", OutcomeDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("ratelimit", "auth", OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("ratelimit", "auth", OutcomeDenied)))
}

func TestAuditCollectors(t *testing.T) {
	m := New()

	m.ObserveAuditEvent("login_succeeded", OutcomeAllowed)
	m.ObserveAuditFallback("queue_full")
	m.ObserveAuditFallback("queue_full")
	m.SetAuditQueueDepth(7)
	m.ObserveReload(true)
	m.ObserveReload(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditEvents.WithLabelValues("login_succeeded", OutcomeAllowed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.auditFallback.WithLabelValues("queue_full")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.auditQueue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("rejected")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveDecision("quota", "consume", OutcomeDenied)
		m.ObserveAuditEvent("quota_exceeded", OutcomeDenied)
		m.ObserveAuditFallback("sink_error")
		m.SetAuditQueueDepth(1)
		m.ObserveReload(true)
	})
	assert.Nil(t, m.Registry())
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveDecision("quota", "consume", OutcomeAllowed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "gate_decisions_total"), "exposition should include decision counter")
}
