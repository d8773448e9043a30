// Package metrics exposes Prometheus instruments for chat turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the instruments. A nil *Metrics records nothing.
type Metrics struct {
	Turns          *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	BackendLatency *prometheus.HistogramVec
	Snippets       *prometheus.CounterVec
	BufferTokens   prometheus.Histogram
	ActiveSessions prometheus.Gauge
	RequestCount   *prometheus.CounterVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalqa_turns_total",
				Help: "Chat turns by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalqa_turn_errors_total",
				Help: "Failed chat turns by error kind",
			},
			[]string{"kind"},
		),
		Transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalqa_pipeline_transitions_total",
				Help: "Generation pipeline state entries",
			},
			[]string{"state"},
		),
		BackendLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "legalqa_backend_latency_seconds",
				Help:    "Backend invocation latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
			},
			[]string{"backend"},
		),
		Snippets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalqa_search_snippets_total",
				Help: "Search result pages by extraction outcome",
			},
			[]string{"outcome"},
		),
		BufferTokens: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "legalqa_buffer_tokens",
				Help:    "Buffer token count after a completed turn",
				Buckets: prometheus.ExponentialBuckets(256, 2, 10),
			},
		),
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "legalqa_active_sessions",
				Help: "Number of live user sessions",
			},
		),
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "legalqa_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (m *Metrics) ObserveTurn(backend, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(backend, outcome).Inc()
	if latency > 0 {
		m.BackendLatency.WithLabelValues(backend).Observe(latency.Seconds())
	}
}

func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

// ObserveSnippet implements retrieval.Recorder.
func (m *Metrics) ObserveSnippet(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.Snippets.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBuffer(tokens int) {
	if m == nil {
		return
	}
	m.BufferTokens.Observe(float64(tokens))
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, route, statusClass(status)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
