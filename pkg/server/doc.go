/*
Package server exposes Accord's session engine over WebSocket and wires
the engine, broadcaster, and metrics endpoints into one HTTP surface.

# Architecture

	┌────────────────────── SERVER ────────────────────────┐
	│                                                       │
	│  /ws        WebSocket upgrade, one connection per     │
	│             participant (read pump + write pump)      │
	│  /metrics   Prometheus registry                       │
	│  /health    component health report                   │
	│  /ready     readiness (critical components)           │
	│  /live      liveness                                  │
	│                                                       │
	│  frame in ──► envelope.Decode                         │
	│     ack            ──► broadcaster.Acknowledge        │
	│     resync_request ──► snapshot reply, Forget          │
	│     command        ──► registry.Dispatch              │
	│                          │ sink                       │
	│                          ▼                            │
	│                   publishEvent ──► broadcaster ──►    │
	│                   every bound participant's socket    │
	└───────────────────────────────────────────────────────┘

A connection binds to a participant on its first command. A second
connection for the same participant replaces the first. Commands are
answered only through the event broadcast or a rejection frame;
malformed frames get a rejection and the connection stays up.

The server is the broadcaster's Directory: deliverability means the
participant currently has a bound connection whose manager reports a
connected state.
*/
package server
