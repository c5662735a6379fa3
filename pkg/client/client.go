package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/connection"
	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/types"
)

// EventFunc receives every session event after it is folded into the
// client's local state.
type EventFunc func(ev *types.Event, session *types.Session)

// RejectFunc receives command rejections.
type RejectFunc func(rej *envelope.Rejection)

// Config holds client identity and reconnection settings
type Config struct {
	URL           string
	SessionID     string
	ParticipantID string
	Name          string
	Observer      bool

	Connection connection.Config
}

// Client maintains one participant's connection to a session: it sends
// commands, acknowledges and folds incoming events into a local session
// copy, and transparently reconnects with a full-state resync. The
// local copy trails the authoritative state only by in-flight events.
type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	session *types.Session
	manager *connection.Manager

	// writeMu serializes frame writes; commands and the read loop's
	// acks share one socket.
	writeMu sync.Mutex

	onEvent  EventFunc
	onReject RejectFunc

	done   chan struct{}
	logger zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithEventFunc sets the event callback.
func WithEventFunc(fn EventFunc) Option {
	return func(c *Client) { c.onEvent = fn }
}

// WithRejectFunc sets the rejection callback.
func WithRejectFunc(fn RejectFunc) Option {
	return func(c *Client) { c.onReject = fn }
}

// Dial connects, starts the read loop and joins the configured session.
func Dial(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: log.WithParticipantID(cfg.ParticipantID),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	c.conn = conn

	c.manager = connection.NewManager(uuid.NewString(), cfg.Connection,
		connection.WithDial(c.redial),
		connection.WithResync(c.requestResync),
	)
	c.manager.HandshakeComplete()

	go c.readLoop(conn)

	if err := c.Join(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Session returns a copy of the locally folded session state.
func (c *Client) Session() *types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.Clone()
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Close disconnects for good; no reconnect follows.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	c.manager.Close()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Join adds this participant to the session.
func (c *Client) Join() error {
	return c.send(envelope.TypeAddParticipant, &types.Command{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
		Name:          c.cfg.Name,
		Observer:      c.cfg.Observer,
	})
}

// Leave removes this participant from the session.
func (c *Client) Leave() error {
	return c.send(envelope.TypeRemoveParticipant, &types.Command{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
	})
}

// StartVoting begins a round on the given subject.
func (c *Client) StartVoting(subject string) error {
	return c.send(envelope.TypeStartVoting, &types.Command{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
		Subject:       subject,
	})
}

// Vote submits an estimate.
func (c *Client) Vote(value string) error {
	return c.send(envelope.TypeSubmitVote, &types.Command{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
		Value:         value,
	})
}

// Reveal exposes the votes. With override, incomplete voting does not
// block the reveal (subject to server configuration).
func (c *Client) Reveal(override bool) error {
	return c.send(envelope.TypeRevealVotes, &types.Command{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
		Override:      override,
	})
}

// Reset starts the next round.
func (c *Client) Reset() error {
	return c.send(envelope.TypeResetVoting, &types.Command{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
	})
}

func (c *Client) send(messageType string, cmd *types.Command) error {
	env, err := envelope.Encode(messageType, cmd)
	if err != nil {
		return err
	}
	return c.write(env)
}

func (c *Client) write(env *envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes one connection until it dies, then hands control to
// the connection manager's reconnect schedule.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Debug().Err(err).Msg("connection lost, reconnecting")
			c.manager.MarkDisconnected()
			return
		}
		c.handle(data)
	}
}

// redial is the connection manager's dial hook: a fresh socket replaces
// the dead one and a new read loop takes over.
func (c *Client) redial() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// requestResync fires after every successful reconnect. Missed events
// may be unbounded, so recovery is always a full snapshot.
func (c *Client) requestResync() {
	env, err := envelope.Encode(envelope.TypeResyncRequest, envelope.ResyncRequest{
		SessionID:     c.cfg.SessionID,
		ParticipantID: c.cfg.ParticipantID,
	})
	if err != nil {
		return
	}
	if err := c.write(env); err != nil {
		c.logger.Warn().Err(err).Msg("resync request failed")
	}
}

func (c *Client) handle(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed frame")
		return
	}

	switch env.MessageType {
	case envelope.TypeRejected:
		var rej envelope.Rejection
		if err := env.DecodePayload(&rej); err != nil {
			return
		}
		if c.onReject != nil {
			c.onReject(&rej)
		}

	case envelope.TypeResyncSnapshot:
		var session types.Session
		if err := env.DecodePayload(&session); err != nil {
			return
		}
		c.mu.Lock()
		c.session = &session
		snapshot := session.Clone()
		c.mu.Unlock()
		c.logger.Info().Uint64("version", snapshot.Version).Msg("resynced")

	default:
		c.handleEvent(env)
	}
}

// handleEvent acknowledges and folds one event. Duplicates are dropped
// by sequence number; a gap triggers a full resync instead of waiting
// for redelivery order.
func (c *Client) handleEvent(env *envelope.Envelope) {
	var ev types.Event
	if err := env.DecodePayload(&ev); err != nil {
		return
	}

	c.ack(env.CorrelationID)

	c.mu.Lock()
	if c.session == nil {
		c.session = types.NewSession(ev.SessionID, nil)
	}
	switch {
	case ev.Seq <= c.session.Version:
		c.mu.Unlock()
		return
	case ev.Seq == c.session.Version+1:
		c.session.Apply(&ev)
		snapshot := c.session.Clone()
		c.mu.Unlock()
		if c.onEvent != nil {
			c.onEvent(&ev, snapshot)
		}
	default:
		c.mu.Unlock()
		c.requestResync()
	}
}

func (c *Client) ack(correlationID string) {
	env, err := envelope.Encode(envelope.TypeAck, envelope.Ack{CorrelationID: correlationID})
	if err != nil {
		return
	}
	_ = c.write(env)
}
