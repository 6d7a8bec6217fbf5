package handler

import (
	"time"

	"crono/internal/ingest"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
)

// readingRequest is the wire shape of one submitted reading.
type readingRequest struct {
	StageID    string `json:"stageId"`
	Bike       int    `json:"bikeNumber"`
	Timestamp  string `json:"timestamp"` // RFC 3339, millisecond precision
	Type       string `json:"type"`
	Special    int    `json:"specialId,omitempty"`
	Lap        int    `json:"lap,omitempty"`
	LocalID    string `json:"localId,omitempty"`
	RawPayload string `json:"rawPayload,omitempty"`
}

func (r readingRequest) toSubmission(deviceID id.DeviceID) (ingest.Submission, error) {
	stageID, err := id.ParseStageID(r.StageID)
	if err != nil {
		return ingest.Submission{}, err
	}
	typ, err := id.ParseReadingType(r.Type)
	if err != nil {
		return ingest.Submission{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return ingest.Submission{}, dErrors.New(dErrors.CodeInvalidInput, "timestamp must be RFC 3339")
	}
	return ingest.Submission{
		StageID:    stageID,
		Bike:       r.Bike,
		Timestamp:  ts,
		Type:       typ,
		Special:    r.Special,
		Lap:        r.Lap,
		DeviceID:   deviceID,
		LocalID:    r.LocalID,
		RawPayload: r.RawPayload,
	}, nil
}

// batchRequest is one collector upload.
type batchRequest struct {
	StageID  string           `json:"stageId"`
	Readings []readingRequest `json:"readings"`
}

// correctionRequest mutates an existing reading. Absent fields keep their
// stored value.
type correctionRequest struct {
	Bike      *int    `json:"bikeNumber,omitempty"`
	Timestamp *string `json:"timestamp,omitempty"`
	Type      *string `json:"type,omitempty"`
	Special   *int    `json:"specialId,omitempty"`
	Lap       *int    `json:"lap,omitempty"`
	Force     bool    `json:"force,omitempty"`
}

func (r correctionRequest) toCorrection(readingID id.ReadingID) (ingest.Correction, error) {
	c := ingest.Correction{
		ReadingID: readingID,
		Bike:      r.Bike,
		Special:   r.Special,
		Lap:       r.Lap,
		Force:     r.Force,
	}
	if r.Timestamp != nil {
		ts, err := time.Parse(time.RFC3339Nano, *r.Timestamp)
		if err != nil {
			return ingest.Correction{}, dErrors.New(dErrors.CodeInvalidInput, "timestamp must be RFC 3339")
		}
		c.Timestamp = &ts
	}
	if r.Type != nil {
		typ, err := id.ParseReadingType(*r.Type)
		if err != nil {
			return ingest.Correction{}, err
		}
		c.Type = &typ
	}
	return c, nil
}

// discardRequest carries the free-text discard reason.
type discardRequest struct {
	Reason string `json:"reason"`
}
