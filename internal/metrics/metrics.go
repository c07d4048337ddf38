package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_events_ingested_total",
			Help: "Total number of hub events ingested by event type",
		},
		[]string{"type"},
	)

	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_decode_errors_total",
			Help: "Total number of hub events skipped because they did not decode",
		},
	)

	PersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_persist_errors_total",
			Help: "Total number of events whose durable append failed",
		},
	)

	LastSequenceID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_last_sequence_id",
			Help: "Sequence id of the most recently ingested hub event",
		},
	)

	// Fan-out metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_sessions_active",
			Help: "Number of subscription sessions registered with the router",
		},
	)

	SessionsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_sessions_dropped_total",
			Help: "Total number of sessions dropped because their queue overflowed",
		},
	)

	Deliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_deliveries_total",
			Help: "Total number of events enqueued to sessions",
		},
	)

	// Relay metrics
	RelayErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_relay_errors_total",
			Help: "Total number of events that failed to relay to the message bus",
		},
	)
)

func init() {
	prometheus.MustRegister(EventsIngested)
	prometheus.MustRegister(DecodeErrors)
	prometheus.MustRegister(PersistErrors)
	prometheus.MustRegister(LastSequenceID)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsDropped)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(RelayErrors)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
