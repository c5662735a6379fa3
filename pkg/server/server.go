package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/accordhq/accord/pkg/broadcast"
	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/engine"
	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/log"
	"github.com/accordhq/accord/pkg/metrics"
	"github.com/accordhq/accord/pkg/types"
)

// Server is the WebSocket front end. It owns the participant directory
// (who is connected, on which connection), feeds inbound envelopes to
// the session registry, and fans accepted events back out through the
// reliable broadcaster. It implements broadcast.Directory and the
// engine's presence check.
type Server struct {
	cfg *config.Config

	registry *engine.Registry
	bcaster  *broadcast.Broadcaster
	store    eventstore.Store

	mu      sync.RWMutex
	clients map[string]*client // participant id -> active connection

	upgrader websocket.Upgrader
	http     *http.Server
	logger   zerolog.Logger
}

// NewServer wires the engine, store and broadcaster together behind a
// WebSocket listener. The store is owned by the caller.
func NewServer(cfg *config.Config, store eventstore.Store) (*Server, error) {
	scale, err := cfg.ScaleCards()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is the deployment's concern; estimation
			// sessions carry no credentials.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("server"),
	}

	eng := engine.New(engine.Config{
		AllowRevealOverride: cfg.Session.AllowRevealOverride,
		OutlierThreshold:    cfg.Session.OutlierThreshold,
	}, s.presence)

	s.registry = engine.NewRegistry(eng, store, scale, s.publishEvent)
	s.bcaster = broadcast.New(broadcast.Config{
		AckWindow:      cfg.Broadcast.AckWindow.Std(),
		InitialBackoff: cfg.Broadcast.InitialBackoff.Std(),
		MaxBackoff:     cfg.Broadcast.MaxBackoff.Std(),
		MaxAttempts:    cfg.Broadcast.MaxAttempts,
	}, s, broadcast.WithFailure(s.deliveryFailed))

	return s, nil
}

// Registry exposes the session registry, for the eviction loop and the
// metrics collector.
func (s *Server) Registry() *engine.Registry {
	return s.registry
}

// Broadcaster exposes the reliable broadcaster.
func (s *Server) Broadcaster() *broadcast.Broadcaster {
	return s.bcaster
}

// Handler returns the full HTTP mux: the WebSocket endpoint plus the
// observability surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return mux
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metrics.RegisterComponent("server", true, "")
	s.logger.Info().Str("addr", addr).Msg("listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		metrics.UpdateComponent("server", false, err.Error())
		return err
	}
	return nil
}

// Shutdown closes the listener, all client connections and the session
// actors.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	s.registry.Stop()
	return err
}

// handleWS upgrades the connection and runs its pumps. The connection
// is bound to a participant by the first command it sends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(s, conn)
	metrics.ConnectionsTotal.WithLabelValues("connected").Inc()

	go c.writePump()
	c.readPump()
}

// bind associates a connection with a participant, replacing any prior
// connection for the same participant. The replaced connection's queued
// deliveries are dropped; the fresh connection resyncs instead.
func (s *Server) bind(c *client, sessionID, participantID string) {
	// The binding fields must be set before the connection is published
	// in the directory: presence checks from session actors read them
	// through lookup.
	c.sessionID = sessionID
	c.participantID = participantID

	s.mu.Lock()
	prior, had := s.clients[participantID]
	s.clients[participantID] = c
	s.mu.Unlock()

	if had && prior != c {
		s.bcaster.Forget(participantID)
		prior.close()
	}
	metrics.ParticipantsConnected.Set(float64(s.clientCount()))
}

// unbind forgets a connection if it is still the participant's current
// one. A participant who already reconnected keeps the new binding.
func (s *Server) unbind(c *client) {
	if c.participantID == "" {
		return
	}
	s.mu.Lock()
	if s.clients[c.participantID] == c {
		delete(s.clients, c.participantID)
	}
	s.mu.Unlock()
	metrics.ParticipantsConnected.Set(float64(s.clientCount()))
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) lookup(participantID string) (*client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[participantID]
	return c, ok
}

// Deliverable implements broadcast.Directory.
func (s *Server) Deliverable(participantID string) bool {
	c, ok := s.lookup(participantID)
	return ok && c.manager.IsDeliverable()
}

// Send implements broadcast.Directory.
func (s *Server) Send(participantID string, data []byte) error {
	c, ok := s.lookup(participantID)
	if !ok {
		return fmt.Errorf("participant %s not connected", participantID)
	}
	return c.enqueue(data)
}

// presence is the engine's reveal-eligibility check: only participants
// with a live connection to this session can hold up a reveal.
func (s *Server) presence(sessionID, participantID string) bool {
	c, ok := s.lookup(participantID)
	return ok && c.sessionID == sessionID && c.manager.IsDeliverable()
}

// publishEvent is the registry's sink: every durably appended event is
// fanned out to all participants of its session, connected or not. The
// broadcaster skips the disconnected; they catch up by resync.
func (s *Server) publishEvent(ev *types.Event, snapshot *types.Session) {
	recipients := make([]string, 0, len(snapshot.Participants))
	for id := range snapshot.Participants {
		recipients = append(recipients, id)
	}

	env, err := envelope.Encode(string(ev.Type), ev)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(ev.Type)).Msg("event envelope encode failed")
		return
	}
	if _, err := s.bcaster.Broadcast(env, recipients); err != nil {
		s.logger.Error().Err(err).Msg("event broadcast failed")
	}
}

func (s *Server) deliveryFailed(broadcastID, participantID string) {
	s.logger.Warn().
		Str("broadcast_id", broadcastID).
		Str("participant_id", participantID).
		Msg("giving up on delivery, participant must resync")
}
