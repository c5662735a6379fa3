package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the envelope schema produced by this codec. Decoding
// accepts anything up to and including this version.
const SchemaVersion = 1

// Protocol errors, rejected at the codec boundary. The connection is not
// torn down for either.
var (
	ErrMalformedPayload   = errors.New("malformed envelope payload")
	ErrUnsupportedVersion = errors.New("unsupported envelope schema version")
)

// Message types carried on the wire. They map 1:1 to the command and
// event variants plus the protocol-level ack and resync messages.
const (
	// Commands (client -> server)
	TypeAddParticipant    = "add_participant"
	TypeRemoveParticipant = "remove_participant"
	TypeStartVoting       = "start_voting"
	TypeSubmitVote        = "submit_vote"
	TypeRevealVotes       = "reveal_votes"
	TypeResetVoting       = "reset_voting"

	// Events (server -> clients)
	TypeParticipantAdded   = "participant_added"
	TypeParticipantRemoved = "participant_removed"
	TypeVotingStarted      = "voting_started"
	TypeVoteSubmitted      = "vote_submitted"
	TypeVotesRevealed      = "votes_revealed"
	TypeVotingReset        = "voting_reset"

	// Protocol
	TypeAck            = "ack"
	TypeResyncRequest  = "resync_request"
	TypeResyncSnapshot = "resync_snapshot"
	TypeRejected       = "rejected"
)

// Envelope is the uniform wrapper around every message. It is immutable
// once constructed; the correlation id is the deduplication key across
// retries and must be unique per logical operation.
type Envelope struct {
	MessageType   string          `json:"message_type"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     int64           `json:"timestamp"` // ms since epoch
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Ack acknowledges receipt of the envelope carrying CorrelationID.
type Ack struct {
	CorrelationID string `json:"correlation_id"`
}

// ResyncRequest asks for a full session snapshot after a reconnect. The
// participant id rebinds the fresh connection so live events resume
// without waiting for the next command.
type ResyncRequest struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// Rejection is the payload of a "rejected" envelope sent back to the
// originator of a failed command.
type Rejection struct {
	CorrelationID string `json:"correlation_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
}

// Encode wraps a payload in a fresh envelope: new correlation id,
// current timestamp, current schema version. No side effects beyond
// construction.
func Encode(messageType string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &Envelope{
		MessageType:   messageType,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UnixMilli(),
		SchemaVersion: SchemaVersion,
		Payload:       raw,
	}, nil
}

// EncodeWith is Encode with a caller-supplied correlation id, used when
// the envelope must correlate with an existing logical operation
// (retries, acks of a specific broadcast).
func EncodeWith(messageType, correlationID string, payload interface{}) (*Envelope, error) {
	env, err := Encode(messageType, payload)
	if err != nil {
		return nil, err
	}
	env.CorrelationID = correlationID
	return env, nil
}

// Decode parses envelope bytes. Returns ErrMalformedPayload on schema
// mismatch and ErrUnsupportedVersion when the envelope was produced by a
// newer codec.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.MessageType == "" || env.CorrelationID == "" {
		return nil, fmt.Errorf("%w: missing message_type or correlation_id", ErrMalformedPayload)
	}
	if env.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d > %d", ErrUnsupportedVersion, env.SchemaVersion, SchemaVersion)
	}
	return &env, nil
}

// ProtocolErrorCode maps a decode error to its wire rejection code.
func ProtocolErrorCode(err error) string {
	if errors.Is(err, ErrUnsupportedVersion) {
		return "unsupported_version"
	}
	return "malformed_payload"
}

// Marshal serializes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
