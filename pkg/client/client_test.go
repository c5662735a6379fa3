package client

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/connection"
	"github.com/accordhq/accord/pkg/envelope"
	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/server"
	"github.com/accordhq/accord/pkg/types"
)

func startServer(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	store := eventstore.NewMemoryStore()
	srv, err := server.NewServer(cfg, store)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Registry().Stop()
		store.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func testClientConfig(url, id string) Config {
	return Config{
		URL:           url,
		SessionID:     "s1",
		ParticipantID: id,
		Name:          id,
		Connection: connection.Config{
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			MaxAttempts:    10,
		},
	}
}

// awaitEvent drains the channel until the wanted event type arrives.
func awaitEvent(t *testing.T, ch <-chan *types.Event, want types.EventType) *types.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestClientRound(t *testing.T) {
	url := startServer(t)

	aliceEvents := make(chan *types.Event, 32)
	alice, err := Dial(testClientConfig(url, "alice"),
		WithEventFunc(func(ev *types.Event, _ *types.Session) { aliceEvents <- ev }))
	require.NoError(t, err)
	defer alice.Close()
	awaitEvent(t, aliceEvents, types.EventParticipantAdded)

	bobEvents := make(chan *types.Event, 32)
	bob, err := Dial(testClientConfig(url, "bob"),
		WithEventFunc(func(ev *types.Event, _ *types.Session) { bobEvents <- ev }))
	require.NoError(t, err)
	defer bob.Close()
	awaitEvent(t, bobEvents, types.EventParticipantAdded)

	require.NoError(t, alice.StartVoting("retry budget"))
	awaitEvent(t, aliceEvents, types.EventVotingStarted)
	awaitEvent(t, bobEvents, types.EventVotingStarted)

	require.NoError(t, alice.Vote("5"))
	require.NoError(t, bob.Vote("8"))
	awaitEvent(t, bobEvents, types.EventVoteSubmitted)
	awaitEvent(t, bobEvents, types.EventVoteSubmitted)

	require.NoError(t, alice.Reveal(false))
	ev := awaitEvent(t, aliceEvents, types.EventVotesRevealed)
	require.NotNil(t, ev.Stats)
	assert.InDelta(t, 6.5, ev.Stats.Mean, 0.001)
	awaitEvent(t, bobEvents, types.EventVotesRevealed)

	session := alice.Session()
	require.NotNil(t, session)
	assert.Equal(t, types.PhaseRevealed, session.Phase)
	assert.Len(t, session.Participants, 2)
}

func TestClientRejectionCallback(t *testing.T) {
	url := startServer(t)

	rejections := make(chan *envelope.Rejection, 8)
	alice, err := Dial(testClientConfig(url, "alice"),
		WithRejectFunc(func(rej *envelope.Rejection) { rejections <- rej }))
	require.NoError(t, err)
	defer alice.Close()

	// Voting has not started
	require.NoError(t, alice.Vote("5"))

	select {
	case rej := <-rejections:
		assert.Equal(t, "wrong_phase", rej.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("no rejection received")
	}
}

func TestClientReconnectAndResync(t *testing.T) {
	url := startServer(t)

	events := make(chan *types.Event, 32)
	alice, err := Dial(testClientConfig(url, "alice"),
		WithEventFunc(func(ev *types.Event, _ *types.Session) { events <- ev }))
	require.NoError(t, err)
	defer alice.Close()
	awaitEvent(t, events, types.EventParticipantAdded)

	require.NoError(t, alice.StartVoting("caching layer"))
	awaitEvent(t, events, types.EventVotingStarted)

	// Sever the socket out from under the client
	alice.mu.Lock()
	alice.conn.Close()
	alice.mu.Unlock()

	require.Eventually(t, func() bool {
		return alice.State() == connection.StateConnected
	}, 5*time.Second, 10*time.Millisecond, "client must reconnect")

	require.Eventually(t, func() bool {
		session := alice.Session()
		return session != nil && session.Version == 2 && session.Phase == types.PhaseVoting
	}, 5*time.Second, 10*time.Millisecond, "resync must restore the authoritative state")
}

func TestClientCloseIsTerminal(t *testing.T) {
	url := startServer(t)

	alice, err := Dial(testClientConfig(url, "alice"))
	require.NoError(t, err)
	require.NoError(t, alice.Close())

	assert.Equal(t, connection.StateDisconnected, alice.State())
	// Closing twice is fine
	assert.NoError(t, alice.Close())
}
