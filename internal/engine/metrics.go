package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testrig_invocations_total",
			Help: "Total number of finished test invocations.",
		},
		[]string{"executor", "outcome"},
	)

	invocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "testrig_invocation_duration_seconds",
			Help:    "Wall-clock duration of test invocations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"executor"},
	)

	activeInvocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "testrig_active_invocations",
			Help: "Number of invocations currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal)
	prometheus.MustRegister(invocationDuration)
	prometheus.MustRegister(activeInvocations)
}
