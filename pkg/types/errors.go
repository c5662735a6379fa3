package types

import (
	"errors"
)

// Validation and storage errors surfaced to the originating participant.
// They are recovered at the engine boundary and never abort the session.
var (
	ErrWrongPhase         = errors.New("operation not allowed in current phase")
	ErrUnknownParticipant = errors.New("participant not in session")
	ErrUnknownSession     = errors.New("session not found")
	ErrIncompleteVoting   = errors.New("not all eligible participants have voted")
	ErrNotFacilitator     = errors.New("facilitator authority required")
	ErrInvalidVote        = errors.New("vote value not on the session scale")
	ErrObserverVote       = errors.New("observers cannot vote")
	ErrVersionConflict    = errors.New("session version conflict")
	ErrDuplicateCommand   = errors.New("command already applied")

	// ErrStorageUnavailable aborts command application without partial
	// state change; retryable by the caller.
	ErrStorageUnavailable = errors.New("event storage unavailable")

	// ErrCorruptLog means replay produced an inconsistent sequence. The
	// affected session is halted and requires manual intervention.
	ErrCorruptLog = errors.New("event log corrupt")

	// ErrSessionHalted is returned for commands against a session that was
	// halted after corruption was detected.
	ErrSessionHalted = errors.New("session halted")
)

// ErrorCode maps a known error to the wire-level code carried in a
// rejection envelope. Unknown errors map to "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	case errors.Is(err, ErrIncompleteVoting):
		return "incomplete_voting"
	case errors.Is(err, ErrNotFacilitator):
		return "not_facilitator"
	case errors.Is(err, ErrInvalidVote):
		return "invalid_vote"
	case errors.Is(err, ErrObserverVote):
		return "observer_vote"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrSessionHalted):
		return "session_halted"
	default:
		return "internal"
	}
}

// Retryable reports whether the originating client may safely resubmit
// the same command (same correlation id) after this error.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
