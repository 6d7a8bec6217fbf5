package stage

import (
	"context"
	"sync"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	stages map[id.StageID]domain.Stage
}

// NewMemoryStore creates an empty in-memory stage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stages: make(map[id.StageID]domain.Stage)}
}

// Save inserts or replaces a stage.
func (s *MemoryStore) Save(_ context.Context, st domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[st.ID] = st
	return nil
}

// FindByID returns a stage or sentinel.ErrNotFound.
func (s *MemoryStore) FindByID(_ context.Context, stageID id.StageID) (domain.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[stageID]
	if !ok {
		return domain.Stage{}, sentinel.ErrNotFound
	}
	return st, nil
}

// UpdatePhase applies a compare-and-swap phase transition under the store
// lock, so two concurrent "start" calls cannot both win.
func (s *MemoryStore) UpdatePhase(_ context.Context, stageID id.StageID, expected id.RacePhase, st domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.stages[stageID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cur.Phase != expected {
		return sentinel.ErrInvalidState
	}
	s.stages[stageID] = st
	return nil
}
