// Package device manages collector checkpoint devices: provisioning,
// authentication and per-stage authorization. The reading gate consults this
// package before accepting anything from the wire.
package device

import (
	"context"
	"sync"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
)

// Store persists collector devices.
type Store interface {
	Save(ctx context.Context, d domain.Device) error
	FindByID(ctx context.Context, deviceID id.DeviceID) (domain.Device, error)
	IncrementReadings(ctx context.Context, deviceID id.DeviceID) error
}

// MemoryStore is the in-memory Store used in tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[id.DeviceID]domain.Device
}

// NewMemoryStore creates an empty in-memory device store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[id.DeviceID]domain.Device)}
}

// Save inserts or replaces a device.
func (s *MemoryStore) Save(_ context.Context, d domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
	return nil
}

// FindByID returns a device or sentinel.ErrNotFound.
func (s *MemoryStore) FindByID(_ context.Context, deviceID id.DeviceID) (domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return domain.Device{}, sentinel.ErrNotFound
	}
	return d, nil
}

// IncrementReadings bumps the device's accepted-readings counter.
func (s *MemoryStore) IncrementReadings(_ context.Context, deviceID id.DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.Readings++
	s.devices[deviceID] = d
	return nil
}
