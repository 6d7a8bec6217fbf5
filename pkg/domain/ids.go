// Package domain holds the typed identifiers and closed enums shared across
// the timing engine. IDs are distinct UUID types so a stage ID can never be
// passed where a device ID is expected; construct them via the ParseXxxID
// functions at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "crono/pkg/domain-errors"
)

// Typed identifiers. Direct casting bypasses validation; parse at boundaries.
type (
	StageID    uuid.UUID
	DeviceID   uuid.UUID
	ReadingID  uuid.UUID
	CategoryID uuid.UUID
	RiderID    uuid.UUID
)

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", what)
	}
	return u, nil
}

// ParseStageID constructs a StageID from external input.
func ParseStageID(s string) (StageID, error) {
	u, err := parseUUID(s, "stage id")
	return StageID(u), err
}

// ParseDeviceID constructs a DeviceID from external input.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := parseUUID(s, "device id")
	return DeviceID(u), err
}

// ParseReadingID constructs a ReadingID from external input.
func ParseReadingID(s string) (ReadingID, error) {
	u, err := parseUUID(s, "reading id")
	return ReadingID(u), err
}

// ParseCategoryID constructs a CategoryID from external input.
func ParseCategoryID(s string) (CategoryID, error) {
	u, err := parseUUID(s, "category id")
	return CategoryID(u), err
}

func (id StageID) String() string    { return uuid.UUID(id).String() }
func (id DeviceID) String() string   { return uuid.UUID(id).String() }
func (id ReadingID) String() string  { return uuid.UUID(id).String() }
func (id CategoryID) String() string { return uuid.UUID(id).String() }
func (id RiderID) String() string    { return uuid.UUID(id).String() }

func (id StageID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DeviceID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ReadingID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CategoryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RiderID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
