package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTurn("gemma", "ok", 2*time.Second)
	m.ObserveTurn("gemma", "ok", 0)
	m.ObserveError("budget_exceeded")
	m.ObserveSnippet(true)
	m.ObserveSnippet(false)
	m.ObserveSnippet(false)
	m.SetActiveSessions(3)
	m.ObserveRequest("POST", "/api/chat", 503)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Turns.WithLabelValues("gemma", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("budget_exceeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Snippets.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCount.WithLabelValues("POST", "/api/chat", "5xx")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("x", "ok", time.Second)
		m.ObserveError("x")
		m.ObserveTransition("idle")
		m.ObserveSnippet(true)
		m.ObserveBuffer(10)
		m.SetActiveSessions(1)
		m.ObserveRequest("GET", "/", 200)
	})
}
