package reading

import (
	"context"
	"sort"
	"sync"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[id.ReadingID]domain.Reading
	// hashes indexes stage+hash so duplicate inserts fail atomically under
	// the store lock, mirroring the postgres unique constraint.
	hashes map[string]id.ReadingID
	seq    int64
	seqs   map[id.ReadingID]int64
}

// NewMemoryStore creates an empty in-memory reading store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings: make(map[id.ReadingID]domain.Reading),
		hashes:   make(map[string]id.ReadingID),
		seqs:     make(map[id.ReadingID]int64),
	}
}

func hashKey(stageID id.StageID, hash string) string {
	return stageID.String() + "#" + hash
}

// Insert adds a reading, failing on duplicate stage+hash.
func (s *MemoryStore) Insert(_ context.Context, r domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hk := hashKey(r.StageID, r.Hash)
	if _, exists := s.hashes[hk]; exists {
		return sentinel.ErrConflict
	}
	s.hashes[hk] = r.ID
	s.seq++
	s.seqs[r.ID] = s.seq
	s.readings[r.ID] = r
	return nil
}

// Update replaces an existing reading, reindexing its hash if the correction
// changed identifying fields.
func (s *MemoryStore) Update(_ context.Context, r domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.readings[r.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if prev.Hash != r.Hash {
		delete(s.hashes, hashKey(prev.StageID, prev.Hash))
		s.hashes[hashKey(r.StageID, r.Hash)] = r.ID
	}
	s.readings[r.ID] = r
	return nil
}

// FindByID returns a reading or sentinel.ErrNotFound.
func (s *MemoryStore) FindByID(_ context.Context, readingID id.ReadingID) (domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[readingID]
	if !ok {
		return domain.Reading{}, sentinel.ErrNotFound
	}
	return r, nil
}

// ListByStage returns all readings of a stage, discarded included.
func (s *MemoryStore) ListByStage(_ context.Context, stageID id.StageID) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(func(r domain.Reading) bool {
		return r.StageID == stageID
	}), nil
}

// ListAccepted returns the non-discarded readings of a stage.
func (s *MemoryStore) ListAccepted(_ context.Context, stageID id.StageID) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(func(r domain.Reading) bool {
		return r.StageID == stageID && !r.Discarded
	}), nil
}

// ListByBikeType returns accepted readings of one bike and type.
func (s *MemoryStore) ListByBikeType(_ context.Context, stageID id.StageID, bike int, typ id.ReadingType) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(func(r domain.Reading) bool {
		return r.StageID == stageID && r.Bike == bike && r.Type == typ && !r.Discarded
	}), nil
}

// list filters and orders by timestamp, then insertion sequence so readings
// with identical timestamps keep a stable order.
func (s *MemoryStore) list(keep func(domain.Reading) bool) []domain.Reading {
	var out []domain.Reading
	for _, r := range s.readings {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return s.seqs[out[i].ID] < s.seqs[out[j].ID]
	})
	return out
}
