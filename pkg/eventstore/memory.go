package eventstore

import (
	"sync"

	"github.com/accordhq/accord/pkg/types"
)

// MemoryStore keeps event logs in process memory. Used by tests, the
// simulator, and in_memory deployments where durability across restarts
// is not required.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]*types.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs: make(map[string][]*types.Event),
	}
}

// Append implements Store
func (s *MemoryStore) Append(sessionID string, ev *types.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := uint64(len(s.logs[sessionID]) + 1)
	stored := *ev
	stored.Seq = seq
	s.logs[sessionID] = append(s.logs[sessionID], &stored)
	return seq, nil
}

// Load implements Store
func (s *MemoryStore) Load(sessionID string) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[sessionID]
	out := make([]*types.Event, len(log))
	for i, ev := range log {
		copied := *ev
		out[i] = &copied
	}
	return out, nil
}

// Sessions implements Store
func (s *MemoryStore) Sessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }
