package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: every governed operation, by outcome.
	Decisions *prometheus.CounterVec

	// Latency of execute calls (includes the pilot executor).
	ExecuteDuration *prometheus.HistogramVec

	// Denials broken down by reason code.
	Denials *prometheus.CounterVec

	// Current policy aggregate version (kill-switch/exemption churn).
	PolicyVersion prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// A nil registerer gets a private registry nobody scrapes.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgov_decisions_total",
			Help: "Governed operations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		ExecuteDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capgov_execute_duration_seconds",
			Help:    "Histogram of proposal execution latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"capability_id", "outcome"}),

		Denials: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "capgov_denials_total",
			Help: "Denials by reason code.",
		}, []string{"reason_code"}),

		PolicyVersion: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "capgov_policy_version",
			Help: "Current version of the policy aggregate.",
		}),
	}
}
