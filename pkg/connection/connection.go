package connection

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/metrics"
)

// State represents the lifecycle state of one physical connection
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// Config holds reconnection backoff settings
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxAttempts:    10,
	}
}

// DialFunc attempts to (re)establish the underlying connection.
type DialFunc func() error

// ScheduleFunc runs f after d without blocking the caller. The default
// uses time.AfterFunc; tests and the simulator inject their own.
type ScheduleFunc func(d time.Duration, f func())

// Manager owns the state of exactly one physical connection. Transitions
// are the only legal mutation path; no other component writes its state.
// Failed and Disconnected are terminal: a later connection attempt must
// create a new Manager.
type Manager struct {
	id  string
	cfg Config

	mu      sync.Mutex
	state   State
	attempt int
	backoff time.Duration

	dial     DialFunc
	schedule ScheduleFunc
	rng      *rand.Rand

	// onResync fires after a successful reconnect. Missed events may be
	// unbounded, so recovery is a full snapshot resync, never event
	// replay from the client's last position.
	onResync func()

	logger zerolog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithDial sets the reconnect dial function.
func WithDial(dial DialFunc) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithSchedule replaces the timer used to schedule reconnect attempts.
func WithSchedule(schedule ScheduleFunc) Option {
	return func(m *Manager) { m.schedule = schedule }
}

// WithResync sets the callback fired after a successful reconnect.
func WithResync(fn func()) Option {
	return func(m *Manager) { m.onResync = fn }
}

// WithRand sets the jitter source, for deterministic tests and
// simulation runs.
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// NewManager creates a Manager in the Connecting state.
func NewManager(id string, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		id:       id,
		cfg:      cfg,
		state:    StateConnecting,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   log.WithConnectionID(id),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the connection id.
func (m *Manager) ID() string { return m.id }

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt number (0 outside
// Reconnecting).
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Backoff returns the delay scheduled before the next reconnect attempt.
func (m *Manager) Backoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff
}

// IsDeliverable reports whether the broadcaster may attempt delivery on
// this connection. True only in Connected.
func (m *Manager) IsDeliverable() bool {
	return m.State() == StateConnected
}

// HandshakeComplete transitions Connecting -> Connected.
func (m *Manager) HandshakeComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return
	}
	m.state = StateConnected
	m.logger.Debug().Msg("handshake complete")
}

// MarkDisconnected reacts to a detected (unexpected) disconnect:
// Connected -> Reconnecting(1, initial_backoff), scheduling the first
// reconnect attempt. Terminal states are unaffected.
func (m *Manager) MarkDisconnected() {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateReconnecting
	m.attempt = 1
	m.backoff = m.nextBackoff(1)
	delay := m.backoff
	m.mu.Unlock()

	m.logger.Info().Dur("backoff", delay).Msg("connection lost, reconnecting")
	m.schedule(delay, m.tryReconnect)
}

// Close transitions any state to Disconnected (explicit close, terminal).
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateFailed {
		return
	}
	m.state = StateDisconnected
	m.logger.Debug().Msg("connection closed")
}

func (m *Manager) tryReconnect() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	dial := m.dial
	m.mu.Unlock()

	metrics.ReconnectAttemptsTotal.Inc()

	var err error
	if dial != nil {
		err = dial()
	}

	m.mu.Lock()
	if m.state != StateReconnecting {
		// Closed while the attempt was in flight.
		m.mu.Unlock()
		return
	}

	if err == nil {
		m.state = StateConnected
		attempts := m.attempt
		m.attempt = 0
		m.backoff = 0
		resync := m.onResync
		m.mu.Unlock()

		m.logger.Info().Int("attempts", attempts).Msg("reconnected")
		if resync != nil {
			resync()
		}
		return
	}

	if m.attempt >= m.cfg.MaxAttempts {
		m.state = StateFailed
		m.mu.Unlock()
		m.logger.Error().Err(err).Int("attempts", m.cfg.MaxAttempts).Msg("reconnect budget exhausted")
		return
	}

	m.attempt++
	m.backoff = m.nextBackoff(m.attempt)
	delay := m.backoff
	attempt := m.attempt
	m.mu.Unlock()

	m.logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("reconnect failed, retrying")
	m.schedule(delay, m.tryReconnect)
}

// nextBackoff computes the delay before attempt n: exponential doubling
// from InitialBackoff with up to 50% additive jitter, capped at
// MaxBackoff. Doubling with <=50% jitter keeps successive delays
// non-decreasing until the cap. Callers hold m.mu.
func (m *Manager) nextBackoff(n int) time.Duration {
	d := m.cfg.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= m.cfg.MaxBackoff {
			d = m.cfg.MaxBackoff
			break
		}
	}
	jitter := time.Duration(m.rng.Int63n(int64(d)/2 + 1))
	d += jitter
	if d > m.cfg.MaxBackoff {
		d = m.cfg.MaxBackoff
	}
	return d
}
