package server

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Session.AllowRevealOverride = true
	store := eventstore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	s, err := NewServer(cfg, store)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.registry.Stop()
	})
	return s, ts
}

// wsClient drives one participant's WebSocket connection in tests.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) sendCommand(msgType string, cmd types.Command) string {
	c.t.Helper()
	env, err := envelope.Encode(msgType, cmd)
	require.NoError(c.t, err)
	data, err := env.Marshal()
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
	return env.CorrelationID
}

func (c *wsClient) ack(correlationID string) {
	c.t.Helper()
	env, err := envelope.Encode(envelope.TypeAck, envelope.Ack{CorrelationID: correlationID})
	require.NoError(c.t, err)
	data, err := env.Marshal()
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// await reads until an envelope of the wanted type arrives, acking
// every event envelope along the way. Redelivered duplicates are
// skipped.
func (c *wsClient) await(msgType string) *envelope.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", msgType)

		env, err := envelope.Decode(data)
		require.NoError(c.t, err)

		if isEventType(env.MessageType) {
			c.ack(env.CorrelationID)
		}
		if env.MessageType == msgType {
			return env
		}
	}
}

func isEventType(msgType string) bool {
	switch msgType {
	case envelope.TypeParticipantAdded, envelope.TypeParticipantRemoved,
		envelope.TypeVotingStarted, envelope.TypeVoteSubmitted,
		envelope.TypeVotesRevealed, envelope.TypeVotingReset:
		return true
	}
	return false
}

func TestJoinBroadcastsParticipantAdded(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialWS(t, ts)

	alice.sendCommand(envelope.TypeAddParticipant, types.Command{
		SessionID:     "s1",
		ParticipantID: "alice",
		Name:          "Alice",
	})

	env := alice.await(envelope.TypeParticipantAdded)
	var ev types.Event
	require.NoError(t, env.DecodePayload(&ev))
	assert.Equal(t, "s1", ev.SessionID)
	require.NotNil(t, ev.Participant)
	assert.Equal(t, "alice", ev.Participant.ID)
	assert.True(t, ev.Participant.Facilitator, "first participant runs the session")
}

func TestFullRound(t *testing.T) {
	_, ts := newTestServer(t)

	alice := dialWS(t, ts)
	alice.sendCommand(envelope.TypeAddParticipant, types.Command{
		SessionID: "s1", ParticipantID: "alice", Name: "Alice",
	})
	alice.await(envelope.TypeParticipantAdded)

	bob := dialWS(t, ts)
	bob.sendCommand(envelope.TypeAddParticipant, types.Command{
		SessionID: "s1", ParticipantID: "bob", Name: "Bob",
	})
	bob.await(envelope.TypeParticipantAdded)
	alice.await(envelope.TypeParticipantAdded)

	alice.sendCommand(envelope.TypeStartVoting, types.Command{
		SessionID: "s1", ParticipantID: "alice", Subject: "API pagination",
	})
	alice.await(envelope.TypeVotingStarted)
	bob.await(envelope.TypeVotingStarted)

	alice.sendCommand(envelope.TypeSubmitVote, types.Command{
		SessionID: "s1", ParticipantID: "alice", Value: "5",
	})
	bob.sendCommand(envelope.TypeSubmitVote, types.Command{
		SessionID: "s1", ParticipantID: "bob", Value: "8",
	})
	alice.await(envelope.TypeVoteSubmitted)
	alice.await(envelope.TypeVoteSubmitted)

	alice.sendCommand(envelope.TypeRevealVotes, types.Command{
		SessionID: "s1", ParticipantID: "alice",
	})

	env := alice.await(envelope.TypeVotesRevealed)
	var ev types.Event
	require.NoError(t, env.DecodePayload(&ev))
	require.NotNil(t, ev.Stats)
	assert.InDelta(t, 6.5, ev.Stats.Mean, 0.001)
	assert.Len(t, ev.Votes, 2)

	// Bob sees the same reveal
	bob.await(envelope.TypeVotesRevealed)
}

func TestRejectionForInvalidCommand(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialWS(t, ts)

	alice.sendCommand(envelope.TypeAddParticipant, types.Command{
		SessionID: "s1", ParticipantID: "alice", Name: "Alice",
	})
	alice.await(envelope.TypeParticipantAdded)

	// Voting has not started
	corr := alice.sendCommand(envelope.TypeSubmitVote, types.Command{
		SessionID: "s1", ParticipantID: "alice", Value: "5",
	})

	env := alice.await(envelope.TypeRejected)
	var rej envelope.Rejection
	require.NoError(t, env.DecodePayload(&rej))
	assert.Equal(t, corr, rej.CorrelationID)
	assert.Equal(t, "wrong_phase", rej.Code)
	assert.False(t, rej.Retryable)
}

func TestRejectionForUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialWS(t, ts)

	alice.sendCommand(envelope.TypeSubmitVote, types.Command{
		SessionID: "ghost", ParticipantID: "alice", Value: "5",
	})

	env := alice.await(envelope.TypeRejected)
	var rej envelope.Rejection
	require.NoError(t, env.DecodePayload(&rej))
	assert.Equal(t, "unknown_session", rej.Code)
}

func TestMalformedFrameRejectedWithoutDisconnect(t *testing.T) {
	_, ts := newTestServer(t)
	alice := dialWS(t, ts)

	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	env := alice.await(envelope.TypeRejected)
	var rej envelope.Rejection
	require.NoError(t, env.DecodePayload(&rej))
	assert.Equal(t, "malformed_payload", rej.Code)

	// Connection survives: a valid command still works
	alice.sendCommand(envelope.TypeAddParticipant, types.Command{
		SessionID: "s1", ParticipantID: "alice", Name: "Alice",
	})
	alice.await(envelope.TypeParticipantAdded)
}

func TestResyncAfterReconnect(t *testing.T) {
	_, ts := newTestServer(t)

	alice := dialWS(t, ts)
	alice.sendCommand(envelope.TypeAddParticipant, types.Command{
		SessionID: "s1", ParticipantID: "alice", Name: "Alice",
	})
	alice.await(envelope.TypeParticipantAdded)
	alice.sendCommand(envelope.TypeStartVoting, types.Command{
		SessionID: "s1", ParticipantID: "alice", Subject: "Login flow",
	})
	alice.await(envelope.TypeVotingStarted)

	// Drop the connection and come back on a fresh one
	alice.conn.Close()
	again := dialWS(t, ts)

	env, err := envelope.Encode(envelope.TypeResyncRequest, envelope.ResyncRequest{SessionID: "s1"})
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, again.conn.WriteMessage(websocket.TextMessage, data))

	reply := again.await(envelope.TypeResyncSnapshot)
	assert.Equal(t, env.CorrelationID, reply.CorrelationID)

	var session types.Session
	require.NoError(t, reply.DecodePayload(&session))
	assert.Equal(t, types.PhaseVoting, session.Phase)
	assert.Equal(t, "Login flow", session.Subject)
	assert.Equal(t, uint64(2), session.Version)
	assert.Contains(t, session.Participants, "alice")
}

// Presence checks run on session actor goroutines while connections
// bind on their read pumps. A freshly bound participant must be visible
// under its session id, with no torn reads of the binding fields.
func TestBindVisibleToConcurrentPresence(t *testing.T) {
	s, _ := newTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("p%d", i)
		c := newClient(s, nil)
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.bind(c, "s1", id)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.presence("s1", id)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("p%d", i)
		assert.True(t, s.presence("s1", id), "participant %s must be present after bind", id)
	}
}

func TestDuplicateCommandProducesOneEvent(t *testing.T) {
	s, ts := newTestServer(t)
	alice := dialWS(t, ts)

	env, err := envelope.Encode(envelope.TypeAddParticipant, types.Command{
		SessionID: "s1", ParticipantID: "alice", Name: "Alice",
	})
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)

	// Same envelope twice, as a client retry would send it
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, data))
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, data))
	alice.await(envelope.TypeParticipantAdded)

	snapshot, err := s.registry.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Version, "retry must not append a second event")
}
