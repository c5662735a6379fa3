/*
Package types defines the shared domain model for Accord sessions.

A Session is a pure fold over its event log: state changes only by
applying Events (produced by the engine from validated Commands), and
replaying the full log from the empty state deterministically reproduces
the current Session value. Version increases by exactly one per applied
event.

The package holds no behavior beyond the fold and small read helpers so
that every other component (engine, event store, broadcaster, simulator)
can share it without import cycles.
*/
package types
