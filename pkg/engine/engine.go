package engine

import (
	"time"

	"github.com/accordhq/accord/pkg/types"
)

// PresenceFunc reports whether a participant currently has a live
// connection to the session. Used only for the reveal precondition:
// disconnected participants do not block a reveal. A nil PresenceFunc
// treats everyone as connected.
type PresenceFunc func(sessionID, participantID string) bool

// Config holds engine behavior settings
type Config struct {
	// AllowRevealOverride enables the facilitator override that permits
	// revealing before every eligible participant has voted.
	AllowRevealOverride bool

	// OutlierThreshold is the numeric vote spread (max - min) above
	// which the reveal statistics carry the no-consensus flag.
	OutlierThreshold float64
}

// Engine validates commands against session state and produces the
// events that change it. Validation always precedes mutation: a failed
// command leaves the session untouched, and the returned event is the
// only output. The engine itself is stateless; serialization of commands
// for one session is the actor's job.
type Engine struct {
	cfg      Config
	presence PresenceFunc
	now      func() time.Time
}

// New creates an Engine.
func New(cfg Config, presence PresenceFunc) *Engine {
	return &Engine{
		cfg:      cfg,
		presence: presence,
		now:      time.Now,
	}
}

// ApplyCommand validates cmd against the session and returns the single
// event it produces. The session is not mutated; the caller folds the
// event in after it is durably appended.
func (e *Engine) ApplyCommand(session *types.Session, cmd *types.Command) (*types.Event, error) {
	if cmd.ExpectedVersion != 0 && cmd.ExpectedVersion != session.Version {
		return nil, types.ErrVersionConflict
	}

	switch cmd.Type {
	case types.CommandAddParticipant:
		return e.addParticipant(session, cmd)
	case types.CommandRemoveParticipant:
		return e.removeParticipant(session, cmd)
	case types.CommandStartVoting:
		return e.startVoting(session, cmd)
	case types.CommandSubmitVote:
		return e.submitVote(session, cmd)
	case types.CommandRevealVotes:
		return e.revealVotes(session, cmd)
	case types.CommandResetVoting:
		return e.resetVoting(session, cmd)
	default:
		return nil, types.ErrWrongPhase
	}
}

func (e *Engine) event(session *types.Session, cmd *types.Command, t types.EventType) *types.Event {
	return &types.Event{
		Type:          t,
		SessionID:     session.ID,
		Timestamp:     e.now(),
		CorrelationID: cmd.CorrelationID,
	}
}

func (e *Engine) addParticipant(session *types.Session, cmd *types.Command) (*types.Event, error) {
	facilitator := cmd.Facilitator
	observer := cmd.Observer
	if len(session.Participants) == 0 {
		// The first participant of a new session runs it.
		facilitator = true
	}
	if prev, ok := session.Participants[cmd.ParticipantID]; ok {
		// A rejoin after a client restart carries no role flags; it must
		// not demote the facilitator or flip observer status.
		facilitator = prev.Facilitator
		observer = prev.Observer
	}

	ev := e.event(session, cmd, types.EventParticipantAdded)
	ev.Participant = &types.Participant{
		ID:          cmd.ParticipantID,
		Name:        cmd.Name,
		Observer:    observer,
		Facilitator: facilitator,
	}
	return ev, nil
}

func (e *Engine) removeParticipant(session *types.Session, cmd *types.Command) (*types.Event, error) {
	target := cmd.TargetID
	if target == "" {
		target = cmd.ParticipantID
	}
	if _, ok := session.Participants[target]; !ok {
		return nil, types.ErrUnknownParticipant
	}
	// Removing a participant can leave the session mid-vote with no
	// outstanding voters; that never auto-reveals.
	ev := e.event(session, cmd, types.EventParticipantRemoved)
	ev.ParticipantID = target
	return ev, nil
}

func (e *Engine) startVoting(session *types.Session, cmd *types.Command) (*types.Event, error) {
	if err := e.requireFacilitator(session, cmd.ParticipantID); err != nil {
		return nil, err
	}
	if session.Phase == types.PhaseVoting {
		return nil, types.ErrWrongPhase
	}
	ev := e.event(session, cmd, types.EventVotingStarted)
	ev.Subject = cmd.Subject
	return ev, nil
}

func (e *Engine) submitVote(session *types.Session, cmd *types.Command) (*types.Event, error) {
	if session.Phase != types.PhaseVoting {
		return nil, types.ErrWrongPhase
	}
	p, ok := session.Participants[cmd.ParticipantID]
	if !ok {
		return nil, types.ErrUnknownParticipant
	}
	if p.Observer {
		return nil, types.ErrObserverVote
	}
	if !session.ValidValue(cmd.Value) {
		return nil, types.ErrInvalidVote
	}
	// Resubmission overwrites the prior vote in the fold.
	ev := e.event(session, cmd, types.EventVoteSubmitted)
	ev.ParticipantID = cmd.ParticipantID
	ev.Value = cmd.Value
	return ev, nil
}

func (e *Engine) revealVotes(session *types.Session, cmd *types.Command) (*types.Event, error) {
	if session.Phase != types.PhaseVoting {
		return nil, types.ErrWrongPhase
	}
	if err := e.requireFacilitator(session, cmd.ParticipantID); err != nil {
		return nil, err
	}

	override := cmd.Override && e.cfg.AllowRevealOverride
	if !override && !e.allEligibleVoted(session) {
		return nil, types.ErrIncompleteVoting
	}

	votes := make([]*types.Vote, 0, len(session.Votes))
	for _, v := range session.Votes {
		copied := *v
		votes = append(votes, &copied)
	}

	ev := e.event(session, cmd, types.EventVotesRevealed)
	ev.Votes = votes
	ev.Stats = computeStats(votes, e.cfg.OutlierThreshold)
	ev.Override = override
	return ev, nil
}

func (e *Engine) resetVoting(session *types.Session, cmd *types.Command) (*types.Event, error) {
	if err := e.requireFacilitator(session, cmd.ParticipantID); err != nil {
		return nil, err
	}
	// Allowed from any phase.
	return e.event(session, cmd, types.EventVotingReset), nil
}

func (e *Engine) requireFacilitator(session *types.Session, participantID string) error {
	p, ok := session.Participants[participantID]
	if !ok {
		return types.ErrUnknownParticipant
	}
	if !p.Facilitator {
		return types.ErrNotFacilitator
	}
	return nil
}

// allEligibleVoted reports whether every currently-connected non-observer
// participant has a recorded vote.
func (e *Engine) allEligibleVoted(session *types.Session) bool {
	for id, p := range session.Participants {
		if p.Observer {
			continue
		}
		if e.presence != nil && !e.presence(session.ID, id) {
			continue
		}
		if !session.HasVoted(id) {
			return false
		}
	}
	return true
}
