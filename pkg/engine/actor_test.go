package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/types"
)

// flakyStore wraps a Store and fails appends on demand.
type flakyStore struct {
	eventstore.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *flakyStore) Append(sessionID string, ev *types.Event) (uint64, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return 0, types.ErrStorageUnavailable
	}
	return s.Store.Append(sessionID, ev)
}

func newTestRegistry(t *testing.T, store eventstore.Store) *Registry {
	t.Helper()
	r := NewRegistry(testEngine(nil), store, testScale, nil)
	t.Cleanup(r.Stop)
	return r
}

func joinCmd(session, id, corr string) *types.Command {
	return &types.Command{
		Type:          types.CommandAddParticipant,
		SessionID:     session,
		ParticipantID: id,
		CorrelationID: corr,
		Name:          id,
	}
}

func TestDispatchCreatesSessionOnJoin(t *testing.T) {
	r := newTestRegistry(t, eventstore.NewMemoryStore())

	ev, session, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, uint64(1), session.Version)
	assert.Contains(t, session.Participants, "alice")
}

func TestDispatchUnknownSession(t *testing.T) {
	r := newTestRegistry(t, eventstore.NewMemoryStore())

	_, _, err := r.Dispatch(&types.Command{
		Type: types.CommandSubmitVote, SessionID: "ghost",
		ParticipantID: "alice", Value: "5",
	})
	assert.ErrorIs(t, err, types.ErrUnknownSession)
}

func TestDuplicateCorrelationIDReturnsPriorEvent(t *testing.T) {
	r := newTestRegistry(t, eventstore.NewMemoryStore())

	first, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)

	second, session, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)

	assert.Equal(t, first.Seq, second.Seq, "retry returns the original event")
	assert.Equal(t, uint64(1), session.Version, "no second version increment")
}

func TestDedupSurvivesActorRestart(t *testing.T) {
	store := eventstore.NewMemoryStore()
	r := newTestRegistry(t, store)

	_, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)

	// Simulate eviction and revival
	r.Destroy("s1")
	ev, session, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq, "dedup index is rebuilt from the log")
	assert.Equal(t, uint64(1), session.Version)
}

func TestStorageFailureLeavesStateUnchanged(t *testing.T) {
	store := &flakyStore{Store: eventstore.NewMemoryStore()}
	r := newTestRegistry(t, store)

	_, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)

	store.setFail(true)
	_, _, err = r.Dispatch(joinCmd("s1", "bob", "c2"))
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)

	store.setFail(false)
	snapshot, err := r.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Version, "aborted command left no partial state")
	assert.NotContains(t, snapshot.Participants, "bob")

	// The same correlation id succeeds once storage recovers
	_, session, err := r.Dispatch(joinCmd("s1", "bob", "c2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), session.Version)
}

// corruptingStore punches a sequence hole into one session's log reads.
type corruptingStore struct {
	eventstore.Store
	mu      sync.Mutex
	corrupt string
}

func (s *corruptingStore) corruptSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = sessionID
}

func (s *corruptingStore) Load(sessionID string) ([]*types.Event, error) {
	events, err := s.Store.Load(sessionID)
	s.mu.Lock()
	corrupt := s.corrupt
	s.mu.Unlock()
	if err == nil && sessionID == corrupt && len(events) > 0 {
		events[0].Seq = 9
	}
	return events, err
}

func TestCorruptLogHaltsOnlyThatSession(t *testing.T) {
	store := &corruptingStore{Store: eventstore.NewMemoryStore()}
	r := newTestRegistry(t, store)

	_, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)
	_, _, err = r.Dispatch(joinCmd("s2", "bob", "c2"))
	require.NoError(t, err)

	// Corrupt s1's log, then force a replay by reviving the actor
	store.corruptSession("s1")
	r.Destroy("s1")

	_, _, err = r.Dispatch(joinCmd("s1", "carol", "c3"))
	assert.ErrorIs(t, err, types.ErrSessionHalted)

	// s2 is unaffected
	_, session, err := r.Dispatch(&types.Command{
		Type: types.CommandStartVoting, SessionID: "s2",
		ParticipantID: "bob", CorrelationID: "c4", Subject: "story",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), session.Version)
}

func TestSnapshotWithoutLiveActor(t *testing.T) {
	store := eventstore.NewMemoryStore()
	r := newTestRegistry(t, store)

	_, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)
	r.Destroy("s1")

	snapshot, err := r.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Version, "snapshot served by pure replay")

	_, err = r.Snapshot("never-existed")
	assert.ErrorIs(t, err, types.ErrUnknownSession)
}

func TestEvictIdle(t *testing.T) {
	r := newTestRegistry(t, eventstore.NewMemoryStore())

	_, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)

	assert.Equal(t, 0, r.EvictIdle(time.Minute), "fresh actor is not idle")
	assert.Equal(t, 1, r.EvictIdle(0))
	assert.Equal(t, 0, r.ActiveCount())

	// The log survives eviction
	snapshot, err := r.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Version)
}

func TestSinkReceivesEventAndSnapshot(t *testing.T) {
	var mu sync.Mutex
	var got []*types.Event

	r := NewRegistry(testEngine(nil), eventstore.NewMemoryStore(), testScale,
		func(ev *types.Event, snapshot *types.Session) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev)
			if snapshot.Version != ev.Seq {
				t.Errorf("snapshot version %d does not match event seq %d", snapshot.Version, ev.Seq)
			}
		})
	t.Cleanup(r.Stop)

	_, _, err := r.Dispatch(joinCmd("s1", "alice", "c1"))
	require.NoError(t, err)
	_, _, err = r.Dispatch(joinCmd("s1", "bob", "c2"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, types.EventParticipantAdded, got[0].Type)
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	r := newTestRegistry(t, eventstore.NewMemoryStore())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := string(rune('a' + i))
			_, _, err := r.Dispatch(joinCmd(session, "p", "c-"+session))
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "session %d", i)
	}
	assert.Equal(t, 8, r.ActiveCount())
}
