/*
Package broadcast implements at-least-once event fan-out with per
recipient acknowledgment tracking and bounded retry.

# Architecture

A broadcast delivers one encoded envelope to a set of recipients and
tracks which of them have acknowledged it:

	┌──────────────────── BROADCASTER ─────────────────────┐
	│                                                       │
	│  Broadcast(env, recipients)                           │
	│       │                                               │
	│       ▼                                               │
	│  ┌─────────────────────────────────────┐             │
	│  │  pending[broadcast id]               │             │
	│  │    unacked: {alice, bob, carol}      │             │
	│  │    retryCount, next backoff          │             │
	│  └──────────┬──────────────────────────┘             │
	│             │ deliver via Directory.Send               │
	│             ▼                                          │
	│  ack window elapses → retry unacked                   │
	│  backoff doubles up to the cap                        │
	│  budget exhausted → FailureFunc per straggler         │
	└───────────────────────────────────────────────────────┘

The broadcast id is the envelope's correlation id, so a recipient
acknowledges exactly the frame it received and duplicate deliveries
collapse onto one pending entry.

# Retry Semantics

The first redelivery fires after the ack window. Subsequent delays
start at the initial backoff and double up to the maximum. Recipients
that are currently undeliverable are skipped on each attempt and picked
up again once they reconnect, as long as the retry budget lasts.

Exhausting the budget settles the broadcast and reports each remaining
straggler through the FailureFunc. Delivery failure is terminal for
that recipient and broadcast only; it never affects the session log.

Forget(participant) drops a participant from every pending broadcast.
The server calls it when a resync supersedes queued redeliveries, since
the snapshot already carries everything the retries would.

# Usage

	b := broadcast.New(cfg, directory,
		broadcast.WithFailure(func(id, participant string) {
			log.Warn().Str("participant", participant).Msg("gave up")
		}))

	b.Broadcast(env, recipients)
	// on TypeAck from a client:
	b.Acknowledge(env.CorrelationID, participantID)

Timers go through a ScheduleFunc so tests and the simulation harness
can drive retries on a virtual clock.
*/
package broadcast
