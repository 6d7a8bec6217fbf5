package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"crono/internal/domain"
)

// contentHash fingerprints a reading's identifying fields. Two submissions
// with the same hash are the same physical event; the reading store enforces
// uniqueness on (stage, hash). Timestamps are truncated to milliseconds,
// matching the collector wire precision.
func contentHash(r domain.Reading) string {
	payload := fmt.Sprintf("%s|%d|%d|%s|%d|%d|%s|%s",
		r.StageID,
		r.Bike,
		r.Timestamp.UnixMilli(),
		r.Type,
		r.Special,
		r.Lap,
		r.DeviceID,
		r.LocalID,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
