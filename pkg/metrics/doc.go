/*
Package metrics provides Prometheus metrics collection and exposition for Accord.

All metrics are registered against the default Prometheus registry at package
init and exposed through Handler(), which the server mounts at /metrics. The
package also hosts the component health checker behind the /health, /ready and
/live endpoints.

# Metric categories

Sessions: accord_sessions_active tracks live session actors, while
accord_sessions_stored counts persisted event logs and is sampled by the
Collector rather than maintained incrementally.

Commands and events: accord_commands_total is labeled by command type and
outcome (applied, rejected, storage_error); accord_events_total by event type.
accord_command_duration_seconds measures the dequeue-to-append latency of
accepted commands.

Connections: accord_connections_total is a gauge vector over connection state
machine states. accord_reconnect_attempts_total and accord_resyncs_total count
recovery activity.

Broadcast delivery: accord_broadcasts_pending, accord_broadcast_retries_total,
accord_broadcast_acks_total and accord_delivery_failures_total describe the
acknowledgement-tracked fan-out pipeline.

# Usage

Incrementally maintained metrics are updated at the point of occurrence:

	metrics.CommandsTotal.WithLabelValues("submit_vote", "applied").Inc()

Latency measurement uses the Timer helper:

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDurationVec(metrics.CommandDuration, "submit_vote")

Sampled gauges come from a Collector wired to the event store and the session
registry:

	collector := metrics.NewCollector(store, registry, 15*time.Second)
	collector.Start()
	defer collector.Stop()

Component health is registered by whoever owns the component and read by the
HTTP handlers:

	metrics.RegisterComponent("store", true, "")
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
*/
package metrics
