package device

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"crono/internal/domain"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/platform/sentinel"
)

// Service provisions and authenticates collector devices.
type Service struct {
	store Store
}

// NewService creates a device service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Provision registers a new collector for the given stages and returns the
// device plus its plaintext key. The key is not recoverable afterwards.
func (s *Service) Provision(ctx context.Context, name string, stageIDs []id.StageID) (domain.Device, string, error) {
	if name == "" {
		return domain.Device{}, "", dErrors.New(dErrors.CodeInvalidInput, "device name is required")
	}

	key, err := GenerateKey()
	if err != nil {
		return domain.Device{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate device key")
	}
	hash, err := HashKey(key)
	if err != nil {
		return domain.Device{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash device key")
	}

	d := domain.Device{
		ID:       id.DeviceID(uuid.New()),
		Name:     name,
		KeyHash:  hash,
		Active:   true,
		StageIDs: stageIDs,
	}
	if err := s.store.Save(ctx, d); err != nil {
		return domain.Device{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save device")
	}
	return d, key, nil
}

// Authenticate verifies a device key. Satisfies middleware.DeviceAuthenticator.
func (s *Service) Authenticate(ctx context.Context, deviceID id.DeviceID, key string) error {
	d, err := s.store.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized, "unknown device")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device")
	}
	if !d.Active {
		return dErrors.New(dErrors.CodeUnauthorized, "device deactivated")
	}
	return VerifyKey(key, d.KeyHash)
}

// Lookup returns a device for gate-side authorization checks.
func (s *Service) Lookup(ctx context.Context, deviceID id.DeviceID) (domain.Device, error) {
	d, err := s.store.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Device{}, dErrors.New(dErrors.CodeNotFound, "device not found")
		}
		return domain.Device{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device")
	}
	return d, nil
}

// CountReading bumps the accepted-readings counter, best-effort.
func (s *Service) CountReading(ctx context.Context, deviceID id.DeviceID) error {
	return s.store.IncrementReadings(ctx, deviceID)
}

// Deactivate disables a device without deleting its history.
func (s *Service) Deactivate(ctx context.Context, deviceID id.DeviceID) error {
	d, err := s.store.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "device not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device")
	}
	d.Active = false
	if err := s.store.Save(ctx, d); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save device")
	}
	return nil
}
