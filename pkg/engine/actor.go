package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/metrics"
	"github.com/accordhq/accord/pkg/types"
)

// EventSink receives every accepted event together with a snapshot of
// the session state after the event was folded in. Called from the
// actor's goroutine after the event is durably appended; implementations
// must not block (broadcast fan-out is asynchronous internally).
type EventSink func(ev *types.Event, snapshot *types.Session)

const mailboxSize = 64

type request struct {
	cmd      *types.Command
	snapshot bool
	reply    chan result
}

type result struct {
	ev      *types.Event
	session *types.Session
	err     error
}

// Actor is the single serializing owner of one session. All command
// processing for the session happens on the actor's goroutine, one
// command at a time, in arrival order; independent sessions run their
// own actors in parallel. Nothing else mutates the session.
type Actor struct {
	id      string
	engine  *Engine
	store   eventstore.Store
	session *types.Session

	// applied maps correlation id to the event it produced, giving
	// exactly-once application across client retries: a duplicate
	// command returns the original event without a second append or
	// version increment.
	applied map[string]*types.Event

	mailbox    chan request
	quit       chan struct{}
	done       chan struct{}
	haltErr    error
	lastActive atomic.Int64

	sink   EventSink
	logger zerolog.Logger
}

// newActor restores the session from its event log (crash recovery) and
// starts the serializing goroutine. A corrupt log yields a halted actor
// that rejects every command with ErrSessionHalted.
func newActor(id string, scale []string, eng *Engine, store eventstore.Store, sink EventSink) *Actor {
	a := &Actor{
		id:      id,
		engine:  eng,
		store:   store,
		applied: make(map[string]*types.Event),
		mailbox: make(chan request, mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		sink:    sink,
		logger:  log.WithSessionID(id),
	}
	a.lastActive.Store(time.Now().UnixNano())

	session, err := eventstore.Replay(store, id, scale)
	if err != nil {
		a.haltErr = err
		a.session = types.NewSession(id, scale)
		metrics.ReportSessionHalted(id)
		a.logger.Error().Err(err).Msg("session halted: replay failed")
	} else {
		a.session = session
		if session.Version > 0 {
			a.logger.Info().Uint64("version", session.Version).Msg("session restored from event log")
		}
		a.rebuildApplied()
	}

	go a.run()
	return a
}

// rebuildApplied reloads the dedup index from the event log so retries
// spanning a restart are still deduplicated.
func (a *Actor) rebuildApplied() {
	events, err := a.store.Load(a.id)
	if err != nil {
		return
	}
	for _, ev := range events {
		if ev.CorrelationID != "" {
			a.applied[ev.CorrelationID] = ev
		}
	}
}

// Do submits a command and waits for the outcome. Returns the produced
// event and the post-application session snapshot.
func (a *Actor) Do(cmd *types.Command) (*types.Event, *types.Session, error) {
	reply := make(chan result, 1)
	select {
	case a.mailbox <- request{cmd: cmd, reply: reply}:
	case <-a.quit:
		return nil, nil, types.ErrSessionHalted
	}
	select {
	case res := <-reply:
		return res.ev, res.session, res.err
	case <-a.done:
		return nil, nil, types.ErrSessionHalted
	}
}

// Snapshot returns a deep copy of the current session state, consistent
// with command ordering (it goes through the mailbox).
func (a *Actor) Snapshot() (*types.Session, error) {
	reply := make(chan result, 1)
	select {
	case a.mailbox <- request{snapshot: true, reply: reply}:
	case <-a.quit:
		return nil, types.ErrSessionHalted
	}
	select {
	case res := <-reply:
		return res.session, res.err
	case <-a.done:
		return nil, types.ErrSessionHalted
	}
}

// LastActive returns the time of the last processed request.
func (a *Actor) LastActive() time.Time {
	return time.Unix(0, a.lastActive.Load())
}

// Halted reports whether the session was halted by a fatal condition.
func (a *Actor) Halted() bool {
	select {
	case <-a.done:
		return true
	default:
		return a.haltErr != nil
	}
}

func (a *Actor) stop() {
	close(a.quit)
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case req := <-a.mailbox:
			a.lastActive.Store(time.Now().UnixNano())
			if req.snapshot {
				req.reply <- result{session: a.session.Clone()}
				continue
			}
			req.reply <- a.handle(req.cmd)
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) handle(cmd *types.Command) result {
	if a.haltErr != nil {
		return result{err: fmt.Errorf("%w: %v", types.ErrSessionHalted, a.haltErr)}
	}

	// Exactly-once: a retried command returns its original outcome.
	if cmd.CorrelationID != "" {
		if prior, ok := a.applied[cmd.CorrelationID]; ok {
			a.logger.Debug().Str("correlation_id", cmd.CorrelationID).Msg("duplicate command, returning prior event")
			return result{ev: prior, session: a.session.Clone()}
		}
	}

	timer := metrics.NewTimer()
	ev, err := a.engine.ApplyCommand(a.session, cmd)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "rejected").Inc()
		return result{err: err}
	}

	// Durably append before mutating; a storage failure leaves the
	// session exactly as it was.
	seq, err := a.store.Append(a.id, ev)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "storage_error").Inc()
		a.logger.Error().Err(err).Msg("event append failed, command aborted")
		return result{err: err}
	}
	ev.Seq = seq

	a.session.Apply(ev)
	if a.session.Version != seq {
		// The fold and the log disagree. Halt this session; never
		// continue with mutated assumptions.
		a.haltErr = fmt.Errorf("%w: version %d != seq %d", types.ErrCorruptLog, a.session.Version, seq)
		metrics.ReportSessionHalted(a.id)
		a.logger.Error().Err(a.haltErr).Msg("session halted")
		return result{err: fmt.Errorf("%w: %v", types.ErrSessionHalted, a.haltErr)}
	}

	if cmd.CorrelationID != "" {
		a.applied[cmd.CorrelationID] = ev
	}

	metrics.CommandsTotal.WithLabelValues(string(cmd.Type), "applied").Inc()
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	timer.ObserveDurationVec(metrics.CommandDuration, string(cmd.Type))

	snapshot := a.session.Clone()
	if a.sink != nil {
		a.sink(ev, snapshot)
	}
	return result{ev: ev, session: snapshot}
}
