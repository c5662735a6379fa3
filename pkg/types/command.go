package types

// CommandType identifies a state-changing request
type CommandType string

const (
	CommandAddParticipant    CommandType = "add_participant"
	CommandRemoveParticipant CommandType = "remove_participant"
	CommandStartVoting       CommandType = "start_voting"
	CommandSubmitVote        CommandType = "submit_vote"
	CommandRevealVotes       CommandType = "reveal_votes"
	CommandResetVoting       CommandType = "reset_voting"
)

// Command is a validated input to the session engine. It carries no
// mutation power itself; only the events it produces change state.
//
// CorrelationID is the idempotence key: resubmitting a command with the
// same correlation id after a transient failure must not produce a second
// event or version increment.
type Command struct {
	Type          CommandType `json:"type"`
	SessionID     string      `json:"session_id"`
	ParticipantID string      `json:"participant_id"`
	CorrelationID string      `json:"correlation_id"`

	// ExpectedVersion, when non-zero, is an optimistic concurrency check:
	// the command is rejected with ErrVersionConflict if the session has
	// moved past it.
	ExpectedVersion uint64 `json:"expected_version,omitempty"`

	// AddParticipant
	Name        string `json:"name,omitempty"`
	Observer    bool   `json:"observer,omitempty"`
	Facilitator bool   `json:"facilitator,omitempty"`

	// RemoveParticipant
	TargetID string `json:"target_id,omitempty"`

	// StartVoting
	Subject string `json:"subject,omitempty"`

	// SubmitVote
	Value string `json:"value,omitempty"`

	// RevealVotes: facilitator override for incomplete voting
	Override bool `json:"override,omitempty"`
}
