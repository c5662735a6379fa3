/*
Package eventstore provides the append-only per-session event log and
replay.

Two backends implement Store: MemoryStore for tests, simulation, and
ephemeral deployments, and BoltStore for durable single-binary
deployments. Both assign gapless per-session sequence numbers starting
at 1 and guarantee atomic appends.

Replay reconstructs a Session as a pure fold over its log and verifies
integrity as it goes; a sequence/version mismatch is reported as
ErrCorruptLog and halts only the affected session.
*/
package eventstore
