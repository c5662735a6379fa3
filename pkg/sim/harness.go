package sim

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/broadcast"
	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/connection"
	"github.com/accordhq/accord/pkg/engine"
	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/transport"
	"github.com/accordhq/accord/pkg/types"
)

// Faults configures randomized fault injection applied to outbound
// event delivery. Probabilities are evaluated per frame with the
// scenario's seeded source, so runs are reproducible.
type Faults struct {
	DropRate      float64
	DuplicateRate float64
	DelayRate     float64
	MaxDelay      time.Duration // virtual time
}

// Report summarizes a scenario run. Violations holds every invariant
// breach the final check found; an empty slice means the run passed.
type Report struct {
	Scenario   string
	Seed       int64
	Commands   int
	Rejections int
	Events     int
	Resyncs    int
	Violations []string

	// Trace lists appended events as "session/seq type participant",
	// timestamp-free so identical seeds produce identical traces.
	Trace []string
}

// Summary renders the report for operators.
func (r *Report) Summary() string {
	status := "PASS"
	if len(r.Violations) > 0 {
		status = "FAIL"
	}
	return fmt.Sprintf("%s seed=%d commands=%d rejections=%d events=%d resyncs=%d violations=%d [%s]",
		r.Scenario, r.Seed, r.Commands, r.Rejections, r.Events, r.Resyncs, len(r.Violations), status)
}

// timer is one scheduled callback on the virtual clock. seq breaks ties
// so equal due times fire in schedule order.
type timer struct {
	due time.Duration
	seq int
	fn  func()
}

// participant is one virtual client: a connection, a locally folded
// session copy, and bookkeeping for the exactly-once reveal check.
type participant struct {
	id        string
	sessionID string
	observer  bool
	connected bool

	rx      <-chan []byte
	manager *connection.Manager
	local   *types.Session

	// revealSeen counts how many times each reveal (session/seq) was
	// folded into local state. Anything above one is a violation.
	revealSeen map[string]int
	resynced   bool

	// dialSuccessRate drives the reconnect dial outcome.
	dialSuccessRate float64
}

// Harness runs virtual participants against the real session core: the
// engine registry, the event store, the reliable broadcaster, the
// connection managers and the in-memory transport. Everything time-based
// runs on a virtual clock, and all randomness comes from the scenario
// seed, so a run is a pure function of its script and seed.
type Harness struct {
	seed   int64
	rng    *rand.Rand
	faults Faults
	scale  []string

	store    *eventstore.MemoryStore
	registry *engine.Registry
	bcaster  *broadcast.Broadcaster
	net      *transport.Memory

	clock    time.Duration
	timers   []*timer
	timerSeq int

	participants map[string]*participant
	order        []string
	sessions     map[string]bool

	// expectReveal maps reveal key -> participant ids that were
	// deliverable when it was published and have not since resynced or
	// dropped; those must observe it exactly once.
	expectReveal map[string]map[string]bool

	report Report
	logger zerolog.Logger
}

func newHarness(name string, seed int64, faults Faults) *Harness {
	scale, _ := config.Default().ScaleCards()

	h := &Harness{
		seed:         seed,
		rng:          rand.New(rand.NewSource(seed)),
		faults:       faults,
		scale:        scale,
		store:        eventstore.NewMemoryStore(),
		net:          transport.NewMemory(),
		participants: make(map[string]*participant),
		sessions:     make(map[string]bool),
		expectReveal: make(map[string]map[string]bool),
		report:       Report{Scenario: name, Seed: seed},
		logger:       log.WithComponent("sim"),
	}

	eng := engine.New(engine.Config{
		AllowRevealOverride: true,
		OutlierThreshold:    config.Default().Session.OutlierThreshold,
	}, h.presence)
	h.registry = engine.NewRegistry(eng, h.store, scale, h.publishEvent)
	h.bcaster = broadcast.New(broadcast.DefaultConfig(), h, broadcast.WithSchedule(h.schedule))
	return h
}

// schedule parks a callback on the virtual clock.
func (h *Harness) schedule(d time.Duration, fn func()) {
	h.timerSeq++
	h.timers = append(h.timers, &timer{due: h.clock + d, seq: h.timerSeq, fn: fn})
}

// Advance moves the virtual clock forward, firing due timers in order
// and pumping deliveries after each.
func (h *Harness) Advance(d time.Duration) {
	target := h.clock + d
	for {
		next := h.nextTimer(target)
		if next == nil {
			break
		}
		h.clock = next.due
		next.fn()
		h.pump()
	}
	h.clock = target
}

// Settle fires every outstanding timer. Broadcast retries and reconnect
// attempts are budget-bounded, so this terminates.
func (h *Harness) Settle() {
	for {
		next := h.nextTimer(1<<62 - 1)
		if next == nil {
			return
		}
		h.clock = next.due
		next.fn()
		h.pump()
	}
}

func (h *Harness) nextTimer(upTo time.Duration) *timer {
	best := -1
	for i, t := range h.timers {
		if t.due > upTo {
			continue
		}
		if best == -1 || t.due < h.timers[best].due ||
			(t.due == h.timers[best].due && t.seq < h.timers[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := h.timers[best]
	h.timers = append(h.timers[:best], h.timers[best+1:]...)
	return t
}

// Deliverable implements broadcast.Directory.
func (h *Harness) Deliverable(participantID string) bool {
	p, ok := h.participants[participantID]
	return ok && p.connected && p.manager.IsDeliverable()
}

// Send implements broadcast.Directory, applying the scenario's fault
// plan to each frame.
func (h *Harness) Send(participantID string, data []byte) error {
	if h.faults.DropRate > 0 && h.rng.Float64() < h.faults.DropRate {
		return nil // silently lost
	}
	copies := 1
	if h.faults.DuplicateRate > 0 && h.rng.Float64() < h.faults.DuplicateRate {
		copies = 2
	}
	if h.faults.DelayRate > 0 && h.rng.Float64() < h.faults.DelayRate && h.faults.MaxDelay > 0 {
		delay := time.Duration(h.rng.Int63n(int64(h.faults.MaxDelay)))
		frame := append([]byte(nil), data...)
		n := copies
		h.schedule(delay, func() {
			for i := 0; i < n; i++ {
				_ = h.net.Send(participantID, frame)
			}
		})
		return nil
	}
	var err error
	for i := 0; i < copies; i++ {
		if e := h.net.Send(participantID, data); e != nil {
			err = e
		}
	}
	return err
}

// presence is the engine's reveal-eligibility check.
func (h *Harness) presence(sessionID, participantID string) bool {
	p, ok := h.participants[participantID]
	return ok && p.sessionID == sessionID && p.connected
}

// publishEvent mirrors the server's sink: fan each appended event out to
// every participant of its session.
func (h *Harness) publishEvent(ev *types.Event, snapshot *types.Session) {
	h.report.Events++
	h.report.Trace = append(h.report.Trace, traceLine(ev))
	h.sessions[ev.SessionID] = true

	if ev.Type == types.EventVotesRevealed {
		key := revealKey(ev.SessionID, ev.Seq)
		expected := make(map[string]bool)
		for id := range snapshot.Participants {
			if h.Deliverable(id) {
				expected[id] = true
			}
		}
		h.expectReveal[key] = expected
	}

	recipients := make([]string, 0, len(snapshot.Participants))
	for id := range snapshot.Participants {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)

	env, err := envelope.Encode(string(ev.Type), ev)
	if err != nil {
		h.fail("event envelope encode failed: %v", err)
		return
	}
	if _, err := h.bcaster.Broadcast(env, recipients); err != nil {
		h.fail("broadcast failed: %v", err)
	}
}

func traceLine(ev *types.Event) string {
	who := ev.ParticipantID
	if ev.Participant != nil {
		who = ev.Participant.ID
	}
	return fmt.Sprintf("%s/%d %s %s", ev.SessionID, ev.Seq, ev.Type, who)
}

func revealKey(sessionID string, seq uint64) string {
	return fmt.Sprintf("%s/%d", sessionID, seq)
}

// pump drains every participant's receive channel until quiescent.
func (h *Harness) pump() {
	for {
		delivered := false
		for _, id := range h.order {
			p := h.participants[id]
			drained := false
			for !drained && p.rx != nil {
				select {
				case frame, ok := <-p.rx:
					if !ok {
						p.rx = nil
					} else {
						delivered = true
						h.receive(p, frame)
					}
				default:
					drained = true
				}
			}
		}
		if !delivered {
			return
		}
	}
}

// receive processes one frame on a virtual client: fold the event into
// local state, acknowledge it, resync on a sequence gap.
func (h *Harness) receive(p *participant, frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		h.fail("participant %s received undecodable frame: %v", p.id, err)
		return
	}

	var ev types.Event
	if err := env.DecodePayload(&ev); err != nil {
		h.fail("participant %s received non-event payload: %v", p.id, err)
		return
	}

	// Acknowledge regardless of novelty; redelivered duplicates must
	// still settle the broadcast.
	defer h.bcaster.Acknowledge(env.CorrelationID, p.id)

	if p.local == nil {
		p.local = types.NewSession(ev.SessionID, h.scale)
	}

	switch {
	case ev.Seq <= p.local.Version:
		// Duplicate delivery; the local fold already has it.
		return
	case ev.Seq == p.local.Version+1:
		p.local.Apply(&ev)
		if ev.Type == types.EventVotesRevealed {
			p.revealSeen[revealKey(ev.SessionID, ev.Seq)]++
		}
	default:
		// Gap: events were lost beyond redelivery. Self-heal with a
		// full snapshot, never partial replay.
		h.resync(p)
	}
}

// resync replaces a participant's local state with the authoritative
// snapshot and supersedes any still-queued envelopes.
func (h *Harness) resync(p *participant) {
	snapshot, err := h.registry.Snapshot(p.sessionID)
	if err != nil {
		h.fail("resync for %s failed: %v", p.id, err)
		return
	}
	p.local = snapshot
	p.resynced = true
	h.report.Resyncs++
	h.bcaster.Forget(p.id)
	h.dropRevealExpectations(p.id)
}

func (h *Harness) dropRevealExpectations(participantID string) {
	for _, expected := range h.expectReveal {
		delete(expected, participantID)
	}
}

func (h *Harness) fail(format string, args ...interface{}) {
	h.report.Violations = append(h.report.Violations, fmt.Sprintf(format, args...))
}

// Connect registers a virtual participant and opens its transport
// endpoint. It does not join a session; Join does.
func (h *Harness) Connect(participantID string) {
	p := &participant{
		id:              participantID,
		connected:       true,
		revealSeen:      make(map[string]int),
		dialSuccessRate: 1.0,
	}
	p.rx = h.net.Open(participantID)
	p.manager = connection.NewManager(participantID, connection.DefaultConfig(),
		connection.WithSchedule(h.schedule),
		connection.WithRand(rand.New(rand.NewSource(h.rng.Int63()))),
		connection.WithDial(func() error {
			if h.rng.Float64() < p.dialSuccessRate {
				return nil
			}
			return errors.New("unreachable")
		}),
		connection.WithResync(func() { h.reconnected(p) }),
	)
	p.manager.HandshakeComplete()

	h.participants[participantID] = p
	h.order = append(h.order, participantID)
}

// Disconnect drops a participant's connection. The connection manager
// starts its backoff schedule; delivery to the participant stops.
func (h *Harness) Disconnect(participantID string) {
	p := h.participants[participantID]
	p.connected = false
	h.net.CloseConn(participantID)
	h.dropRevealExpectations(participantID)
	p.manager.MarkDisconnected()
}

// SetDialSuccessRate tunes how reliably a participant's reconnect dials
// succeed, to exercise multi-attempt backoff.
func (h *Harness) SetDialSuccessRate(participantID string, rate float64) {
	h.participants[participantID].dialSuccessRate = rate
}

// reconnected is the connection manager's resync hook: reopen the
// endpoint and pull the authoritative snapshot.
func (h *Harness) reconnected(p *participant) {
	p.rx = h.net.Open(p.id)
	p.connected = true
	if p.sessionID != "" {
		h.resync(p)
	}
}

// inSession reports whether the participant is currently in the
// session's authoritative participant set.
func (h *Harness) inSession(participantID, sessionID string) bool {
	p, ok := h.participants[participantID]
	if !ok || p.sessionID != sessionID {
		return false
	}
	snapshot, err := h.registry.Snapshot(sessionID)
	if err != nil {
		return false
	}
	_, ok = snapshot.Participants[participantID]
	return ok
}

func (h *Harness) dispatch(cmd *types.Command) error {
	h.report.Commands++
	_, _, err := h.registry.Dispatch(cmd)
	if err != nil {
		h.report.Rejections++
	}
	h.pump()
	return err
}

// Redispatch sends the exact same command again, modeling a client
// retry after a lost response.
func (h *Harness) Redispatch(cmd *types.Command) error {
	return h.dispatch(cmd)
}

// Join adds a participant to a session.
func (h *Harness) Join(sessionID, participantID string, observer bool) error {
	p := h.participants[participantID]
	p.sessionID = sessionID
	return h.dispatch(&types.Command{
		Type:          types.CommandAddParticipant,
		SessionID:     sessionID,
		ParticipantID: participantID,
		CorrelationID: uuid.NewString(),
		Name:          participantID,
		Observer:      observer,
	})
}

// Leave removes a participant from its session.
func (h *Harness) Leave(participantID string) error {
	p := h.participants[participantID]
	return h.dispatch(&types.Command{
		Type:          types.CommandRemoveParticipant,
		SessionID:     p.sessionID,
		ParticipantID: participantID,
		CorrelationID: uuid.NewString(),
	})
}

// StartVoting begins a round.
func (h *Harness) StartVoting(participantID, subject string) error {
	p := h.participants[participantID]
	return h.dispatch(&types.Command{
		Type:          types.CommandStartVoting,
		SessionID:     p.sessionID,
		ParticipantID: participantID,
		CorrelationID: uuid.NewString(),
		Subject:       subject,
	})
}

// Vote submits an estimate. The returned command lets scripts model a
// retry with Redispatch.
func (h *Harness) Vote(participantID, value string) (*types.Command, error) {
	p := h.participants[participantID]
	cmd := &types.Command{
		Type:          types.CommandSubmitVote,
		SessionID:     p.sessionID,
		ParticipantID: participantID,
		CorrelationID: uuid.NewString(),
		Value:         value,
	}
	return cmd, h.dispatch(cmd)
}

// Reveal exposes the votes.
func (h *Harness) Reveal(participantID string, override bool) error {
	p := h.participants[participantID]
	return h.dispatch(&types.Command{
		Type:          types.CommandRevealVotes,
		SessionID:     p.sessionID,
		ParticipantID: participantID,
		CorrelationID: uuid.NewString(),
		Override:      override,
	})
}

// Reset starts the next round.
func (h *Harness) Reset(participantID string) error {
	p := h.participants[participantID]
	return h.dispatch(&types.Command{
		Type:          types.CommandResetVoting,
		SessionID:     p.sessionID,
		ParticipantID: participantID,
		CorrelationID: uuid.NewString(),
	})
}

// sameState compares two sessions over their canonical JSON form. The
// local copy folded decoded events while the authoritative one folded
// in-memory events, so raw struct comparison would trip over timestamp
// internals (monotonic readings, location pointers) that the wire never
// carries.
func sameState(a, b *types.Session) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(aj, bj)
}

// check runs the end-of-scenario invariant assertions.
func (h *Harness) check() {
	authoritative := make(map[string]*types.Session)

	for sessionID := range h.sessions {
		// Gapless, strictly increasing sequence numbers
		events, err := h.store.Load(sessionID)
		if err != nil {
			h.fail("load %s: %v", sessionID, err)
			continue
		}
		for i, ev := range events {
			if ev.Seq != uint64(i+1) {
				h.fail("session %s: event %d has seq %d", sessionID, i+1, ev.Seq)
			}
		}

		// Replay must reconstruct without corruption
		session, err := eventstore.Replay(h.store, sessionID, h.scale)
		if err != nil {
			h.fail("replay %s: %v", sessionID, err)
			continue
		}
		authoritative[sessionID] = session
	}

	// Convergence: every connected participant's local fold matches the
	// authoritative replay.
	for _, id := range h.order {
		p := h.participants[id]
		if !p.connected || p.local == nil {
			continue
		}
		want := authoritative[p.sessionID]
		if want == nil {
			continue
		}
		if _, member := want.Participants[id]; !member {
			// Removed participants stop receiving events; their stale
			// local copy is expected.
			continue
		}
		if !sameState(p.local, want) {
			h.fail("participant %s diverged from authoritative state of %s (local v%d, authoritative v%d)",
				id, p.sessionID, p.local.Version, want.Version)
		}
	}

	// Exactly-once reveal observation
	for _, id := range h.order {
		p := h.participants[id]
		for key, count := range p.revealSeen {
			if count > 1 {
				h.fail("participant %s observed reveal %s %d times", id, key, count)
			}
		}
	}
	for key, expected := range h.expectReveal {
		for id := range expected {
			p := h.participants[id]
			if !p.connected || p.resynced {
				continue
			}
			if p.revealSeen[key] != 1 {
				h.fail("participant %s observed reveal %s %d times, want exactly 1", id, key, p.revealSeen[key])
			}
		}
	}
}

// Run executes a scenario and checks the invariants.
func Run(sc Scenario) *Report {
	h := newHarness(sc.Name, sc.Seed, sc.Faults)
	defer h.registry.Stop()
	defer h.net.Close()
	defer h.store.Close()

	if err := sc.Script(h); err != nil {
		h.fail("script aborted: %v", err)
	}
	h.Settle()
	h.check()

	h.logger.Info().
		Str("scenario", sc.Name).
		Int64("seed", sc.Seed).
		Int("violations", len(h.report.Violations)).
		Msg("scenario finished")
	return &h.report
}
