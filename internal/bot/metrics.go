package bot

import "github.com/prometheus/client_golang/prometheus"

var (
	// eventsTotal counts handled inbound events by kind and result.
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessbot_events_total",
			Help: "Inbound chat events by kind and result (ok|throttled|panic).",
		},
		[]string{"kind", "result"},
	)

	// eventDuration records end-to-end handling time per event kind.
	eventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accessbot_event_duration_seconds",
			Help:    "Inbound event handling duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// updatesSkipped counts raw updates that never became events.
	updatesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessbot_updates_skipped_total",
			Help: "Transport updates skipped by reason (duplicate|unsupported).",
		},
		[]string{"reason"},
	)

	// tracked reports the size of the in-memory per-subscriber maps.
	tracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accessbot_tracked_entries",
			Help: "Entries held in memory by table (sessions|rate_buckets|update_ids).",
		},
		[]string{"table"},
	)

	// sendFailures counts outbound chat messages that could not be delivered.
	sendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accessbot_send_failures_total",
			Help: "Outbound chat messages that failed to send.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, eventDuration, updatesSkipped, tracked, sendFailures)
}
