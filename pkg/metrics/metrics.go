package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accord_sessions_active",
			Help: "Number of sessions with a live in-memory actor",
		},
	)

	SessionsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accord_sessions_stored",
			Help: "Number of sessions with an event log in the store",
		},
	)

	SessionsHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accord_sessions_halted",
			Help: "Number of sessions halted on a corrupt event log",
		},
	)

	ParticipantsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accord_participants_connected",
			Help: "Number of participants with an open connection",
		},
	)

	// Command/event metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accord_commands_total",
			Help: "Total commands processed by type and outcome",
		},
		[]string{"type", "status"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "accord_command_duration_seconds",
			Help:    "Time from command dequeue to durable event append in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accord_events_total",
			Help: "Total events appended by type",
		},
		[]string{"type"},
	)

	// Connection metrics
	ConnectionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "accord_connections_total",
			Help: "Connections by state machine state",
		},
		[]string{"state"},
	)

	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accord_reconnect_attempts_total",
			Help: "Total reconnection attempts across all connections",
		},
	)

	ResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accord_resyncs_total",
			Help: "Total full-state snapshots served after reconnection",
		},
	)

	// Broadcast metrics
	BroadcastsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accord_broadcasts_pending",
			Help: "Broadcasts with at least one unacknowledged recipient",
		},
	)

	BroadcastRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accord_broadcast_retries_total",
			Help: "Total per-recipient broadcast redeliveries",
		},
	)

	BroadcastAcksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accord_broadcast_acks_total",
			Help: "Total broadcast acknowledgements received",
		},
	)

	DeliveryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accord_delivery_failures_total",
			Help: "Total recipients given up on after exhausting redelivery",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsStored)
	prometheus.MustRegister(SessionsHalted)
	prometheus.MustRegister(ParticipantsConnected)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ReconnectAttemptsTotal)
	prometheus.MustRegister(ResyncsTotal)
	prometheus.MustRegister(BroadcastsPending)
	prometheus.MustRegister(BroadcastRetriesTotal)
	prometheus.MustRegister(BroadcastAcksTotal)
	prometheus.MustRegister(DeliveryFailuresTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
