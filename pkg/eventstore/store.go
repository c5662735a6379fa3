package eventstore

import (
	"fmt"

	"github.com/accordhq/accord/pkg/types"
)

// Store is the append-only per-session event log. Appends are strictly
// ordered per session and atomic: an event is either fully appended and
// visible to replay, or not at all.
type Store interface {
	// Append persists the event and returns its assigned sequence
	// number. Sequence numbers per session start at 1 and are gapless.
	Append(sessionID string, ev *types.Event) (uint64, error)

	// Load returns all events for the session in append order.
	Load(sessionID string) ([]*types.Event, error)

	// Sessions lists ids of sessions with at least one event.
	Sessions() ([]string, error)

	Close() error
}

// Replay folds the session's full event log, in append order, into a
// freshly constructed Session. It is idempotent and side-effect-free:
// no validation, no broadcast, only state reconstruction. Used for crash
// recovery and for resynchronizing reconnecting participants.
//
// Replay verifies the log's integrity while folding: sequence numbers
// must be gapless from 1 and each applied event must leave the session
// version equal to its sequence number. Any mismatch returns
// ErrCorruptLog and the caller must halt the session.
func Replay(store Store, sessionID string, scale []string) (*types.Session, error) {
	events, err := store.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for %s: %w", sessionID, err)
	}

	session := types.NewSession(sessionID, scale)
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			return nil, fmt.Errorf("%w: session %s expected seq %d, got %d",
				types.ErrCorruptLog, sessionID, i+1, ev.Seq)
		}
		session.Apply(ev)
		if session.Version != ev.Seq {
			return nil, fmt.Errorf("%w: session %s version %d diverged from seq %d",
				types.ErrCorruptLog, sessionID, session.Version, ev.Seq)
		}
	}
	return session, nil
}
