package types

import (
	"time"
)

// Phase represents the lifecycle phase of an estimation session
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseVoting   Phase = "voting"
	PhaseRevealed Phase = "revealed"
)

// Participant is a connected identity in a session
type Participant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Observer    bool      `json:"observer"`
	Facilitator bool      `json:"facilitator"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Vote is a single participant's submitted estimate. Values are opaque
// strings validated against the session's scale; hidden until reveal.
type Vote struct {
	ParticipantID string    `json:"participant_id"`
	Value         string    `json:"value"`
	CastAt        time.Time `json:"cast_at"`
}

// VoteStats holds the aggregate statistics computed at reveal time.
// Non-numeric votes (abstain cards like "?") are excluded from the
// numeric aggregates but counted in Abstained.
type VoteStats struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	Mode        string  `json:"mode"`
	NoConsensus bool    `json:"no_consensus"`
	Counted     int     `json:"counted"`
	Abstained   int     `json:"abstained"`
}

// Session is the authoritative state of one estimation round. It is only
// ever mutated by applying events; see Apply.
type Session struct {
	ID           string                  `json:"id"`
	Version      uint64                  `json:"version"`
	Phase        Phase                   `json:"phase"`
	Subject      string                  `json:"subject,omitempty"`
	Scale        []string                `json:"scale"`
	Participants map[string]*Participant `json:"participants"`
	Votes        map[string]*Vote        `json:"votes"`
	Stats        *VoteStats              `json:"stats,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// NewSession returns the empty/default state a session's event log folds
// over.
func NewSession(id string, scale []string) *Session {
	return &Session{
		ID:           id,
		Version:      0,
		Phase:        PhaseWaiting,
		Scale:        scale,
		Participants: make(map[string]*Participant),
		Votes:        make(map[string]*Vote),
	}
}

// Clone returns a deep copy of the session. Snapshots handed to other
// goroutines (resync, broadcast payloads) must not alias the owner's maps.
func (s *Session) Clone() *Session {
	c := *s
	c.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		cp := *p
		c.Participants[id] = &cp
	}
	c.Votes = make(map[string]*Vote, len(s.Votes))
	for id, v := range s.Votes {
		cv := *v
		c.Votes[id] = &cv
	}
	if s.Stats != nil {
		st := *s.Stats
		c.Stats = &st
	}
	return &c
}

// HasVoted reports whether the participant has a recorded vote.
func (s *Session) HasVoted(participantID string) bool {
	_, ok := s.Votes[participantID]
	return ok
}

// ValidValue reports whether v is a card on the session's scale.
func (s *Session) ValidValue(v string) bool {
	for _, card := range s.Scale {
		if card == v {
			return true
		}
	}
	return false
}

// Apply folds a single event into the session. It is pure state
// reconstruction: no validation, no side effects, so replaying a full log
// is idempotent and deterministic. Every event increments Version by
// exactly one.
func (s *Session) Apply(ev *Event) {
	switch ev.Type {
	case EventParticipantAdded:
		p := ev.Participant
		joined := ev.Timestamp
		if prev, ok := s.Participants[p.ID]; ok {
			// Rejoin: the original join time stands.
			joined = prev.JoinedAt
		}
		s.Participants[p.ID] = &Participant{
			ID:          p.ID,
			Name:        p.Name,
			Observer:    p.Observer,
			Facilitator: p.Facilitator,
			JoinedAt:    joined,
		}
	case EventParticipantRemoved:
		delete(s.Participants, ev.ParticipantID)
		delete(s.Votes, ev.ParticipantID)
	case EventVotingStarted:
		s.Phase = PhaseVoting
		s.Subject = ev.Subject
		s.Votes = make(map[string]*Vote)
		s.Stats = nil
	case EventVoteSubmitted:
		s.Votes[ev.ParticipantID] = &Vote{
			ParticipantID: ev.ParticipantID,
			Value:         ev.Value,
			CastAt:        ev.Timestamp,
		}
	case EventVotesRevealed:
		s.Phase = PhaseRevealed
		if ev.Stats != nil {
			st := *ev.Stats
			s.Stats = &st
		}
	case EventVotingReset:
		s.Phase = PhaseVoting
		s.Subject = ""
		s.Votes = make(map[string]*Vote)
		s.Stats = nil
	}
	s.Version++
	s.UpdatedAt = ev.Timestamp
}
