package engine

import (
	"sync"
	"time"

	"github.com/accordhq/accord/pkg/eventstore"
	"github.com/accordhq/accord/pkg/metrics"
	"github.com/accordhq/accord/pkg/types"
)

// Registry owns the set of live session actors. Sessions are created on
// the first AddParticipant for an unknown session id and destroyed by
// explicit removal or idle eviction. Cross-session access goes only
// through each actor's mailbox; there is no cross-session lock beyond
// the registry map itself.
type Registry struct {
	mu     sync.Mutex
	actors map[string]*Actor

	engine *Engine
	store  eventstore.Store
	scale  []string
	sink   EventSink
}

// NewRegistry creates a Registry.
func NewRegistry(eng *Engine, store eventstore.Store, scale []string, sink EventSink) *Registry {
	return &Registry{
		actors: make(map[string]*Actor),
		engine: eng,
		store:  store,
		scale:  scale,
		sink:   sink,
	}
}

// Dispatch routes a command to its session's actor. AddParticipant
// creates the session if it does not exist; every other command against
// an unknown session fails with ErrUnknownSession.
func (r *Registry) Dispatch(cmd *types.Command) (*types.Event, *types.Session, error) {
	var actor *Actor
	if cmd.Type == types.CommandAddParticipant {
		actor = r.getOrCreate(cmd.SessionID)
	} else {
		var ok bool
		actor, ok = r.Get(cmd.SessionID)
		if !ok {
			return nil, nil, types.ErrUnknownSession
		}
	}
	return actor.Do(cmd)
}

// ActiveCount returns the number of live actors, for gauge sampling.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Get returns the actor for a live session.
func (r *Registry) Get(sessionID string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[sessionID]
	return a, ok
}

// Snapshot returns the current state of a session, for resync.
func (r *Registry) Snapshot(sessionID string) (*types.Session, error) {
	actor, ok := r.Get(sessionID)
	if !ok {
		// The session may exist only in the store (e.g. after eviction);
		// a pure replay serves the snapshot without reviving the actor.
		session, err := eventstore.Replay(r.store, sessionID, r.scale)
		if err != nil {
			return nil, err
		}
		if session.Version == 0 {
			return nil, types.ErrUnknownSession
		}
		return session, nil
	}
	return actor.Snapshot()
}

func (r *Registry) getOrCreate(sessionID string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[sessionID]; ok {
		return a
	}
	a := newActor(sessionID, r.scale, r.engine, r.store, r.sink)
	r.actors[sessionID] = a
	metrics.SessionsActive.Set(float64(len(r.actors)))
	return a
}

// Destroy stops a session's actor and forgets it. The event log remains
// in the store.
func (r *Registry) Destroy(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[sessionID]; ok {
		a.stop()
		delete(r.actors, sessionID)
		metrics.SessionsActive.Set(float64(len(r.actors)))
	}
}

// EvictIdle stops actors idle for longer than maxIdle and returns how
// many were evicted. The eviction policy (when to call this) belongs to
// the caller.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-maxIdle)
	for id, a := range r.actors {
		if a.LastActive().Before(cutoff) {
			a.stop()
			delete(r.actors, id)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.SessionsActive.Set(float64(len(r.actors)))
	}
	return evicted
}

// Stop stops all actors.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.actors {
		a.stop()
		delete(r.actors, id)
	}
	metrics.SessionsActive.Set(0)
}
