package ci

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's Prometheus collectors.
type Metrics struct {
	outcomes      *prometheus.CounterVec
	awaitDuration *prometheus.HistogramVec
	events        *prometheus.CounterVec
	polls         *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses a private
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fuzagent_ci_outcomes_total",
			Help: "CI outcomes delivered, by source and status.",
		}, []string{"source", "status"}),
		awaitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fuzagent_ci_await_duration_seconds",
			Help:    "Time spent waiting for a CI outcome.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"source"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fuzagent_ci_webhook_events_total",
			Help: "Webhook deliveries, by event type and result.",
		}, []string{"event", "result"}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fuzagent_ci_polls_total",
			Help: "Check run polls, by result.",
		}, []string{"result"}),
	}
}
