package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	id "crono/pkg/domain"
)

const janitorInterval = time.Minute

// Memory is the default single-process cache tier.
type Memory struct {
	store *gocache.Cache

	mu   sync.RWMutex
	gens map[id.StageID]uint64
}

// NewMemory builds an in-process cache. defaultTTL bounds entries stored
// with a zero ttl.
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		store: gocache.New(defaultTTL, janitorInterval),
		gens:  make(map[id.StageID]uint64),
	}
}

func (m *Memory) generation(stageID id.StageID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[stageID]
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, bool) {
	v, ok := m.store.Get(key.encode(m.generation(key.StageID)))
	if !ok {
		return nil, false
	}
	payload, ok := v.([]byte)
	return payload, ok
}

func (m *Memory) Set(_ context.Context, key Key, payload []byte, ttl time.Duration) {
	m.store.Set(key.encode(m.generation(key.StageID)), payload, ttl)
}

func (m *Memory) Invalidate(_ context.Context, stageID id.StageID) {
	m.mu.Lock()
	m.gens[stageID]++
	m.mu.Unlock()
}
