/*
Package engine implements Accord's session engine: the pure command
validator, the per-session actor that serializes command application,
and the registry that routes commands to actors.

# Architecture

Every session is an event-sourced fold. Commands never mutate state
directly; they are validated against the current state, turned into
exactly one event, appended to the log, and only then folded in:

	┌───────────────────── SESSION ENGINE ─────────────────────┐
	│                                                           │
	│  ┌─────────────────────────────────────────┐             │
	│  │              Registry                    │             │
	│  │  - One actor per live session            │             │
	│  │  - Creates actors on demand               │            │
	│  │  - Evicts idle actors (log survives)      │            │
	│  └──────────────────┬──────────────────────┘             │
	│                     │ Dispatch(cmd)                       │
	│  ┌──────────────────▼──────────────────────┐             │
	│  │              Actor                       │             │
	│  │  - Single goroutine, mailbox channel     │             │
	│  │  - Replays log on start                   │            │
	│  │  - Dedup index keyed by correlation id    │            │
	│  │                                           │            │
	│  │  validate → event → append → fold         │            │
	│  └──────────────────┬──────────────────────┘             │
	│                     │                                     │
	│  ┌──────────────────▼──────────────────────┐             │
	│  │              Engine                      │             │
	│  │  - Pure functions, no I/O                │             │
	│  │  - Phase machine: waiting/voting/revealed│             │
	│  │  - Vote statistics on reveal             │             │
	│  └─────────────────────────────────────────┘             │
	└───────────────────────────────────────────────────────────┘

# Ordering and Exactly-Once

The actor goroutine is the only writer for its session, so commands
against one session apply in a total order without locks. Commands
against different sessions share nothing and run concurrently.

Each command carries a correlation id. The actor keeps an index of
already-applied ids and answers a retry with the original event instead
of applying twice. The index is rebuilt from the log on actor start, so
deduplication survives eviction and restarts.

# Failure Containment

Append happens before fold. If the store rejects the append, the
in-memory state is untouched and the command can be retried under the
same correlation id.

On replay the actor verifies that stored sequence numbers are gapless
and match the folded version. A mismatch halts that one session with
ErrSessionHalted; every other session keeps running.

# Usage

	store := eventstore.NewMemoryStore()
	eng := engine.New(engine.Config{OutlierThreshold: 8}, presence)
	reg := engine.NewRegistry(eng, store, scale, sink)
	defer reg.Stop()

	ev, session, err := reg.Dispatch(&types.Command{
		Type:          types.CommandAddParticipant,
		SessionID:     "sprint-12",
		ParticipantID: "alice",
		CorrelationID: uuid.NewString(),
		Name:          "Alice",
	})

The sink runs on the actor goroutine after each fold and receives the
event together with a snapshot of the resulting state; the server wires
it to the broadcaster.
*/
package engine
