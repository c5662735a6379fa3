package types

import (
	"time"
)

// EventType identifies a recorded fact in a session's log
type EventType string

const (
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventVotingStarted      EventType = "voting_started"
	EventVoteSubmitted      EventType = "vote_submitted"
	EventVotesRevealed      EventType = "votes_revealed"
	EventVotingReset        EventType = "voting_reset"
)

// Event is an immutable fact appended to a session's log. Events are the
// only way session state changes and are totally ordered per session by
// the store-assigned sequence number.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID ties the event back to the command that produced it,
	// used for exactly-once application across retries.
	CorrelationID string `json:"correlation_id"`

	// ParticipantAdded
	Participant *Participant `json:"participant,omitempty"`

	// ParticipantRemoved / VoteSubmitted
	ParticipantID string `json:"participant_id,omitempty"`

	// VotingStarted
	Subject string `json:"subject,omitempty"`

	// VoteSubmitted
	Value string `json:"value,omitempty"`

	// VotesRevealed
	Votes    []*Vote    `json:"votes,omitempty"`
	Stats    *VoteStats `json:"stats,omitempty"`
	Override bool       `json:"override,omitempty"`
}
