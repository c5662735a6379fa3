/*
Package sim is a deterministic simulation harness for whole-system
testing under injected network faults.

# Architecture

The harness runs the real engine, event store, broadcaster, and
connection managers against an in-memory transport, with every timer on
a virtual clock and every random draw from one seeded source:

	┌──────────────────── SIMULATION ──────────────────────┐
	│                                                       │
	│  Scenario script                                      │
	│    Join / Vote / Reveal / Disconnect / Advance        │
	│       │                                               │
	│       ▼                                               │
	│  Harness (single-threaded pump)                       │
	│    registry.Dispatch ──► broadcaster ──► transport    │
	│                               │                       │
	│         fault roll: drop / duplicate / delay          │
	│                               │                       │
	│    simulated participants fold events, ack,           │
	│    dedup by sequence, resync on gaps                  │
	│                                                       │
	│  virtual clock: Advance(d) fires due timers in        │
	│  (due, seq) order; Settle drains the quiet state      │
	└───────────────────────────────────────────────────────┘

# Invariant Checks

After each scenario the harness verifies:

  - per-session logs are gapless and replay to the authoritative state
  - every connected participant's local state converges to it
  - no participant folded a reveal twice
  - every deliverable recipient of a reveal saw it exactly once,
    unless a resync or disconnect legitimately superseded delivery

Violations carry the scenario name and seed. The trace excludes
timestamps, so two runs with the same seed produce identical traces.

# Usage

	report := sim.Run(sim.PlayerChurn(1234))
	fmt.Println(report.Summary())

The accord binary exposes this as `accord sim [scenario] --seed N`.
*/
package sim
