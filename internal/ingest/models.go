// Package ingest is the reading gate: validation, deduplication, elapsed
// annotation and the correction/discard lifecycle of timing readings.
package ingest

import (
	"time"

	id "crono/pkg/domain"
)

// Submission is one reading as reported by a collector.
type Submission struct {
	StageID    id.StageID
	Bike       int
	Timestamp  time.Time
	Type       id.ReadingType
	Special    int
	Lap        int // defaults to 1 when the collector omits it
	DeviceID   id.DeviceID
	LocalID    string
	RawPayload string
}

// Status is the per-reading outcome class.
type Status string

const (
	StatusOK        Status = "OK"
	StatusDuplicate Status = "DUPLICATE"
	StatusError     Status = "ERROR"
	StatusCorrected Status = "CORRECTED"
	StatusDiscarded Status = "DISCARDED"
)

// DuplicateKind distinguishes the two dedup mechanisms in diagnostics.
type DuplicateKind string

const (
	DuplicateExact     DuplicateKind = "exact"
	DuplicateProximity DuplicateKind = "proximity"
)

// Rejection reasons, in gate check order.
const (
	ReasonDeviceNotRegistered = "DeviceNotRegistered"
	ReasonStageClosed         = "StageClosed"
	ReasonInvalidReadingType  = "InvalidReadingType"
)

// Outcome is the gate's verdict on one submission.
type Outcome struct {
	Status    Status        `json:"status"`
	ReadingID id.ReadingID  `json:"readingId,omitempty"`
	Duplicate DuplicateKind `json:"duplicate,omitempty"`
	Reason    string        `json:"reason,omitempty"`

	Elapsed          *time.Duration `json:"-"`
	FormattedElapsed string         `json:"formattedElapsed,omitempty"`
	Lap              int            `json:"lap,omitempty"`
	BestLap          bool           `json:"bestLap,omitempty"`

	// Registered is false when the bike has no registration; the reading is
	// still accepted and reported as unregistered downstream.
	Registered bool   `json:"registered"`
	Rider      string `json:"rider,omitempty"`

	Message string `json:"message,omitempty"`
}

// Batch is one collector upload. Item order carries no meaning; the gate
// sorts by embedded timestamp before processing.
type Batch struct {
	DeviceID id.DeviceID
	StageID  id.StageID
	Readings []Submission
}

// BatchResult reports per-item outcomes; a failing item never aborts its
// siblings.
type BatchResult struct {
	TotalReceived  int       `json:"totalReceived"`
	TotalProcessed int       `json:"totalProcessed"`
	TotalDuplicate int       `json:"totalDuplicate"`
	TotalErrors    int       `json:"totalErrors"`
	Items          []Outcome `json:"perItem"`
	Errors         []string  `json:"errors,omitempty"`
}

// Correction mutates an existing reading. Nil fields keep their stored
// value. Force acknowledges a post-hoc correction on a finished stage.
type Correction struct {
	ReadingID id.ReadingID
	Bike      *int
	Timestamp *time.Time
	Type      *id.ReadingType
	Special   *int
	Lap       *int
	Force     bool
}
