// Package domain holds the entities shared by the ingestion gate, the time
// calculator and the classification engines. Keep these transport-agnostic;
// request/response shapes live next to the handlers.
package domain

import (
	"time"

	id "crono/pkg/domain"
)

// ProximityWindow is the dedup tolerance: two accepted readings for the same
// stage+bike+type may never lie within this window of each other. It absorbs
// collector clock jitter and client resubmits that changed the local id.
const ProximityWindow = 2000 * time.Millisecond

// Reading is one timestamped checkpoint event reported by a collector.
// Immutable once accepted except through explicit correction, discard and
// restore; never physically deleted.
type Reading struct {
	ID         id.ReadingID
	StageID    id.StageID
	Bike       int
	Timestamp  time.Time // UTC, millisecond precision
	Type       id.ReadingType
	Special    int // 1-based special segment, 0 for circuit passes
	Lap        int
	DeviceID   id.DeviceID
	LocalID    string // collector-side identifier for idempotent resubmits
	RawPayload string

	Hash          string
	Discarded     bool
	DiscardReason string
	Corrected     bool

	// Elapsed is derived: lap delta for circuit passes, exit-entry delta for
	// enduro exits. Nil until resolvable (lap 1, entries, unmatched exits).
	Elapsed *time.Duration

	CreatedAt time.Time
}

// InProximity reports whether other lies within the dedup window of r for
// the same stage, bike and type. The window is inclusive: exactly 2000 ms
// apart is still a duplicate, 2001 ms is not.
func (r Reading) InProximity(other Reading) bool {
	if r.StageID != other.StageID || r.Bike != other.Bike || r.Type != other.Type {
		return false
	}
	delta := r.Timestamp.Sub(other.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta <= ProximityWindow
}

// Registration binds a bike number to a rider and category for one stage.
// Supplied by the registration collaborator; read-only to the engine.
type Registration struct {
	StageID    id.StageID
	Bike       int
	RiderID    id.RiderID
	RiderName  string
	CategoryID id.CategoryID
	Category   string
	// Order is the registration sequence inside the stage, the stable
	// tie-break for enduro riders on identical totals.
	Order int
}
