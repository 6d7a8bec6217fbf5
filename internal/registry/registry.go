// Package registry exposes the bike-number to rider/category mapping the
// registration collaborator maintains. The engine only reads it: an
// unregistered bike never blocks ingestion, it is just reported as such
// downstream.
package registry

import (
	"context"
	"strconv"
	"sync"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
)

// Store resolves registrations for a stage.
type Store interface {
	FindByBike(ctx context.Context, stageID id.StageID, bike int) (domain.Registration, error)
	ListByStage(ctx context.Context, stageID id.StageID) ([]domain.Registration, error)
}

// MemoryStore is a snapshot of the external registration data, loaded at
// stage setup and refreshed by the collaborator.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[string]domain.Registration
	stages map[id.StageID][]domain.Registration
}

// NewMemoryStore creates an empty registration snapshot.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:  make(map[string]domain.Registration),
		stages: make(map[id.StageID][]domain.Registration),
	}
}

func key(stageID id.StageID, bike int) string {
	return stageID.String() + "#" + strconv.Itoa(bike)
}

// Seed replaces the registrations of one stage. Order is assigned by slice
// position, which is the registration sequence used for tie-breaks.
func (s *MemoryStore) Seed(stageID id.StageID, regs []domain.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[stageID] = nil
	for i, r := range regs {
		r.StageID = stageID
		r.Order = i + 1
		s.stages[stageID] = append(s.stages[stageID], r)
		s.byKey[key(stageID, r.Bike)] = r
	}
}

// FindByBike returns the registration for a bike or sentinel.ErrNotFound.
func (s *MemoryStore) FindByBike(_ context.Context, stageID id.StageID, bike int) (domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byKey[key(stageID, bike)]
	if !ok {
		return domain.Registration{}, sentinel.ErrNotFound
	}
	return r, nil
}

// ListByStage returns the stage's registrations in registration order.
func (s *MemoryStore) ListByStage(_ context.Context, stageID id.StageID) ([]domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Registration{}, s.stages[stageID]...), nil
}
