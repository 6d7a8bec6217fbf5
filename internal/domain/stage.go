package domain

import (
	"time"

	id "crono/pkg/domain"
)

// Stage is the engine's view of one timed race stage. Stage management
// creates it; only race-control actions and phase derivation mutate it here.
type Stage struct {
	ID       id.StageID
	Name     string
	Modality id.Modality

	// Laps is the scheduled lap count. Specials is the number of timed
	// special segments per lap (enduro only).
	Laps     int
	Specials int

	// Penalty is the full-stage penalty charged for every special a rider
	// misses (no-show or half-missing pair).
	Penalty time.Duration

	// FirstLapCounts is false when lap 1 is a reconnaissance lap: its
	// specials are shown but excluded from totals and penalty counts.
	FirstLapCounts bool

	Phase      id.RacePhase
	StartedAt  *time.Time
	FlagAt     *time.Time
	FinishedAt *time.Time
}

// Closed reports whether the stage no longer accepts readings.
func (s Stage) Closed() bool { return s.Phase.Closed() }

// ValidSpecial reports whether n names one of the stage's special segments.
func (s Stage) ValidSpecial(n int) bool { return n >= 1 && n <= s.Specials }

// Device is a registered collector checkpoint. The key hash, not the key,
// is stored; provisioning hands the plaintext key to the collector once.
type Device struct {
	ID       id.DeviceID
	Name     string
	KeyHash  string
	Active   bool
	StageIDs []id.StageID // stages this collector is authorized for

	// Readings counts accepted submissions, for ops visibility only.
	Readings int
}

// AuthorizedFor reports whether the device may submit readings for a stage.
func (d Device) AuthorizedFor(stageID id.StageID) bool {
	if !d.Active {
		return false
	}
	for _, sid := range d.StageIDs {
		if sid == stageID {
			return true
		}
	}
	return false
}
