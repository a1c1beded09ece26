package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// issuanceTotal counts issuance and lookup calls by operation and outcome.
	issuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessbot_issuance_total",
			Help: "Issuance engine calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// issuanceDuration records time spent inside the store gate.
	issuanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessbot_issuance_duration_seconds",
			Help:    "Duration of the read-modify-write sequence in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// gateWait records how long callers queued for the store gate.
	gateWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "accessbot_gate_wait_seconds",
			Help:    "Time spent waiting for the store gate in seconds.",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// credentialsGenerated counts newly generated (not reused) credentials.
	credentialsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accessbot_credentials_generated_total",
			Help: "Credentials generated and persisted.",
		},
	)

	// notifications counts operator notifications by result (sent|failed|dropped).
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessbot_operator_notifications_total",
			Help: "Operator notifications by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(issuanceTotal, issuanceDuration, gateWait, credentialsGenerated, notifications)
}
