package broadcast

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/metrics"
)

// Directory resolves participants to their current connection. The
// broadcaster consults Deliverable before every attempt; participants
// whose connection is mid-reconnect simply wait for the next retry or
// for a resync after they come back.
type Directory interface {
	Deliverable(participantID string) bool
	Send(participantID string, data []byte) error
}

// FailureFunc is called once per recipient whose retry budget is
// exhausted. Terminal but non-fatal: the recipient self-heals through
// reconnection resync.
type FailureFunc func(broadcastID, participantID string)

// ScheduleFunc runs f after d without blocking the caller. The default
// uses time.AfterFunc; tests and the simulator inject their own.
type ScheduleFunc func(d time.Duration, f func())

// Config holds acknowledgment and retry settings
type Config struct {
	// AckWindow is how long recipients have to acknowledge before the
	// first redelivery.
	AckWindow time.Duration

	// InitialBackoff is the delay before the second redelivery; later
	// redeliveries double it up to MaxBackoff.
	InitialBackoff time.Duration

	MaxBackoff  time.Duration
	MaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		AckWindow:      2 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     15 * time.Second,
		MaxAttempts:    6,
	}
}

// pending tracks one in-flight broadcast until every recipient has
// acknowledged or the retry budget runs out.
type pending struct {
	id         string
	data       []byte
	recipients map[string]struct{}
	unacked    map[string]struct{}
	createdAt  time.Time
	retryCount int
	backoff    time.Duration
}

// Broadcaster fans envelopes out to recipient sets and tracks
// per-recipient acknowledgment. Delivery to distinct recipients is
// independent; a slow or disconnected recipient never delays the
// others, and never blocks session command processing.
type Broadcaster struct {
	cfg Config
	dir Directory

	mu      sync.Mutex
	pending map[string]*pending

	schedule  ScheduleFunc
	onFailure FailureFunc

	logger zerolog.Logger
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithSchedule replaces the timer used to schedule redeliveries.
func WithSchedule(schedule ScheduleFunc) Option {
	return func(b *Broadcaster) { b.schedule = schedule }
}

// WithFailure sets the terminal delivery failure callback.
func WithFailure(fn FailureFunc) Option {
	return func(b *Broadcaster) { b.onFailure = fn }
}

// New creates a Broadcaster delivering through dir.
func New(cfg Config, dir Directory, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		cfg:      cfg,
		dir:      dir,
		pending:  make(map[string]*pending),
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		logger:   log.WithComponent("broadcast"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast marshals env once, attempts immediate delivery to every
// deliverable recipient, and tracks the rest for redelivery. The
// broadcast id is the envelope's correlation id, which is what
// recipients echo back in their Ack. An empty recipient set is a no-op.
func (b *Broadcaster) Broadcast(env *envelope.Envelope, recipients []string) (string, error) {
	data, err := env.Marshal()
	if err != nil {
		return "", err
	}

	if len(recipients) == 0 {
		return env.CorrelationID, nil
	}

	p := &pending{
		id:         env.CorrelationID,
		data:       data,
		recipients: make(map[string]struct{}, len(recipients)),
		unacked:    make(map[string]struct{}, len(recipients)),
		createdAt:  time.Now(),
		backoff:    b.cfg.InitialBackoff,
	}
	for _, r := range recipients {
		p.recipients[r] = struct{}{}
		p.unacked[r] = struct{}{}
	}

	b.mu.Lock()
	b.pending[p.id] = p
	metrics.BroadcastsPending.Set(float64(len(b.pending)))
	b.attemptLocked(p)
	b.mu.Unlock()

	b.schedule(b.cfg.AckWindow, func() { b.retry(p.id) })
	return p.id, nil
}

// Acknowledge records that a participant received the broadcast. When
// the last recipient acknowledges, the broadcast is discarded.
func (b *Broadcaster) Acknowledge(broadcastID, participantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[broadcastID]
	if !ok {
		// Late or duplicate ack for an already-settled broadcast.
		return
	}
	if _, ok := p.unacked[participantID]; !ok {
		return
	}
	delete(p.unacked, participantID)
	metrics.BroadcastAcksTotal.Inc()

	if len(p.unacked) == 0 {
		delete(b.pending, broadcastID)
		metrics.BroadcastsPending.Set(float64(len(b.pending)))
	}
}

// Forget drops every pending delivery to a participant, across all
// broadcasts. Used when a connection is replaced by a resync: the
// snapshot supersedes any queued event envelopes.
func (b *Broadcaster) Forget(participantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, p := range b.pending {
		if _, ok := p.unacked[participantID]; !ok {
			continue
		}
		delete(p.unacked, participantID)
		if len(p.unacked) == 0 {
			delete(b.pending, id)
		}
	}
	metrics.BroadcastsPending.Set(float64(len(b.pending)))
}

// PendingCount returns the number of unsettled broadcasts.
func (b *Broadcaster) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// attemptLocked sends to every unacknowledged recipient whose
// connection is currently deliverable, in stable order. Send errors are
// treated the same as a missing ack: the next retry covers them.
func (b *Broadcaster) attemptLocked(p *pending) {
	for _, participantID := range sortedKeys(p.unacked) {
		if !b.dir.Deliverable(participantID) {
			continue
		}
		if err := b.dir.Send(participantID, p.data); err != nil {
			b.logger.Debug().
				Str("broadcast_id", p.id).
				Str("participant_id", participantID).
				Err(err).
				Msg("delivery attempt failed, will retry")
		}
	}
}

func (b *Broadcaster) retry(broadcastID string) {
	b.mu.Lock()

	p, ok := b.pending[broadcastID]
	if !ok {
		b.mu.Unlock()
		return
	}

	if p.retryCount >= b.cfg.MaxAttempts {
		// Retry budget exhausted; report each straggler and discard.
		failed := sortedKeys(p.unacked)
		delete(b.pending, broadcastID)
		metrics.BroadcastsPending.Set(float64(len(b.pending)))
		b.mu.Unlock()

		for _, participantID := range failed {
			metrics.DeliveryFailuresTotal.Inc()
			b.logger.Warn().
				Str("broadcast_id", broadcastID).
				Str("participant_id", participantID).
				Int("attempts", p.retryCount).
				Msg("delivery failed, recipient must resync")
			if b.onFailure != nil {
				b.onFailure(broadcastID, participantID)
			}
		}
		return
	}

	p.retryCount++
	metrics.BroadcastRetriesTotal.Inc()
	b.attemptLocked(p)

	delay := p.backoff
	p.backoff *= 2
	if p.backoff > b.cfg.MaxBackoff {
		p.backoff = b.cfg.MaxBackoff
	}
	b.mu.Unlock()

	b.schedule(delay, func() { b.retry(broadcastID) })
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
