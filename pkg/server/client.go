package server

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/connection"
	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/metrics"
	"github.com/accordhq/accord/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 64
)

// client is one WebSocket connection. A connection binds itself to a
// participant with its first command and stays bound for its lifetime;
// reconnects arrive as fresh connections that take over the binding.
type client struct {
	id            string
	sessionID     string
	participantID string

	srv     *Server
	conn    *websocket.Conn
	send    chan []byte
	closing chan struct{}
	manager *connection.Manager

	logger zerolog.Logger
}

func newClient(s *Server, conn *websocket.Conn) *client {
	id := uuid.NewString()
	c := &client{
		id:      id,
		srv:     s,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		closing: make(chan struct{}),
		manager: connection.NewManager(id, connection.Config{
			InitialBackoff: s.cfg.Connection.InitialBackoff.Std(),
			MaxBackoff:     s.cfg.Connection.MaxBackoff.Std(),
			MaxAttempts:    s.cfg.Connection.MaxAttempts,
		}),
		logger: log.WithConnectionID(id),
	}
	// Server side the handshake is the completed upgrade.
	c.manager.HandshakeComplete()
	return c
}

// enqueue hands a frame to the write pump without blocking. A full
// buffer is reported to the caller; the broadcaster's retry covers it.
func (c *client) enqueue(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.closing:
		return errors.New("connection closing")
	default:
		return errors.New("send buffer full")
	}
}

func (c *client) close() {
	select {
	case <-c.closing:
	default:
		close(c.closing)
	}
}

// readPump consumes inbound frames until the connection dies, then
// tears the binding down.
func (c *client) readPump() {
	defer func() {
		c.manager.Close()
		c.srv.unbind(c)
		c.close()
		_ = c.conn.Close()
		metrics.ConnectionsTotal.WithLabelValues("connected").Dec()
		c.logger.Debug().Msg("connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame decodes one envelope and routes it. Protocol errors are
// answered with a rejection envelope; the connection stays up.
func (c *client) handleFrame(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("rejecting malformed frame")
		c.reject("", envelope.ProtocolErrorCode(err), err.Error(), false)
		return
	}

	switch env.MessageType {
	case envelope.TypeAck:
		var ack envelope.Ack
		if err := env.DecodePayload(&ack); err != nil {
			c.reject(env.CorrelationID, "malformed_payload", "bad ack payload", false)
			return
		}
		c.srv.bcaster.Acknowledge(ack.CorrelationID, c.participantID)

	case envelope.TypeResyncRequest:
		c.handleResync(env)

	default:
		c.handleCommand(env)
	}
}

func (c *client) handleCommand(env *envelope.Envelope) {
	var cmd types.Command
	if err := env.DecodePayload(&cmd); err != nil {
		c.reject(env.CorrelationID, "malformed_payload", "bad command payload", false)
		return
	}
	cmd.Type = types.CommandType(env.MessageType)
	cmd.CorrelationID = env.CorrelationID

	if cmd.SessionID == "" || cmd.ParticipantID == "" {
		c.reject(env.CorrelationID, "malformed_payload", "command requires session_id and participant_id", false)
		return
	}

	// First command binds the connection to its participant.
	if c.participantID == "" {
		c.srv.bind(c, cmd.SessionID, cmd.ParticipantID)
	} else if cmd.ParticipantID != c.participantID {
		c.reject(env.CorrelationID, "malformed_payload", "participant_id does not match this connection", false)
		return
	}

	if _, _, err := c.srv.registry.Dispatch(&cmd); err != nil {
		c.reject(env.CorrelationID, types.ErrorCode(err), err.Error(), types.Retryable(err))
	}
	// Success needs no direct reply: the resulting event reaches this
	// participant through the broadcast fan-out.
}

// handleResync serves the full-session snapshot a reconnecting client
// requests instead of replaying missed events.
func (c *client) handleResync(env *envelope.Envelope) {
	var req envelope.ResyncRequest
	if err := env.DecodePayload(&req); err != nil {
		c.reject(env.CorrelationID, "malformed_payload", "bad resync payload", false)
		return
	}

	snapshot, err := c.srv.registry.Snapshot(req.SessionID)
	if err != nil {
		c.reject(env.CorrelationID, types.ErrorCode(err), err.Error(), types.Retryable(err))
		return
	}

	// A reconnecting participant arrives on a fresh connection; rebind
	// so live events resume immediately after the snapshot.
	if c.participantID == "" && req.ParticipantID != "" {
		c.srv.bind(c, req.SessionID, req.ParticipantID)
	}

	// The snapshot supersedes any event envelopes still queued for
	// this participant.
	if c.participantID != "" {
		c.srv.bcaster.Forget(c.participantID)
	}

	reply, err := envelope.EncodeWith(envelope.TypeResyncSnapshot, env.CorrelationID, snapshot)
	if err != nil {
		c.logger.Error().Err(err).Msg("resync snapshot encode failed")
		return
	}
	c.sendEnvelope(reply)
	metrics.ResyncsTotal.Inc()
}

func (c *client) reject(correlationID, code, message string, retryable bool) {
	payload := envelope.Rejection{
		CorrelationID: correlationID,
		Code:          code,
		Message:       message,
		Retryable:     retryable,
	}
	env, err := envelope.Encode(envelope.TypeRejected, payload)
	if err != nil {
		return
	}
	c.sendEnvelope(env)
}

func (c *client) sendEnvelope(env *envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		return
	}
	if err := c.enqueue(data); err != nil {
		c.logger.Debug().Err(err).Msg("dropping outbound envelope")
	}
}

// writePump drains the send queue and keeps the connection alive with
// pings. Exactly one writer per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
