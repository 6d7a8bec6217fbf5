package domain

import dErrors "crono/pkg/domain-errors"

// RacePhase is the stage lifecycle, advanced only by explicit race-control
// actions: NotStarted -> Running -> FlagShown -> Finished. Cancelled is a
// terminal side exit set by stage management.
type RacePhase string

const (
	PhaseNotStarted RacePhase = "not_started"
	PhaseRunning    RacePhase = "running"
	PhaseFlagShown  RacePhase = "flag_shown"
	PhaseFinished   RacePhase = "finished"
	PhaseCancelled  RacePhase = "cancelled"
)

// CanTransitionTo reports whether an explicit race-control action may move
// the phase from its current value to next. Repeating a transition is a
// conflict, not a no-op: a duplicate "start" must be rejected loudly.
func (p RacePhase) CanTransitionTo(next RacePhase) bool {
	switch next {
	case PhaseRunning:
		return p == PhaseNotStarted
	case PhaseFlagShown:
		return p == PhaseRunning
	case PhaseFinished:
		return p == PhaseRunning || p == PhaseFlagShown
	}
	return false
}

// Closed reports whether the stage no longer accepts readings.
func (p RacePhase) Closed() bool {
	return p == PhaseFinished || p == PhaseCancelled
}

func (p RacePhase) String() string { return string(p) }

// RiderStatus is the per-rider circuit state, derived from the stage phase
// and the rider's readings; it is never stored.
type RiderStatus string

const (
	RiderNotStarted RiderStatus = "not_started"
	RiderAwaiting   RiderStatus = "awaiting"
	RiderRunning    RiderStatus = "running"
	RiderFinished   RiderStatus = "finished"
)

// EnduroStatus is the final classification bucket of an enduro rider. The
// values keep the rulebook's Portuguese terms, which is what timing crews
// and exported results use.
type EnduroStatus string

const (
	EnduroClassified   EnduroStatus = "CLASSIFICADO"
	EnduroDisqualified EnduroStatus = "DESCLASSIFICADO"
	EnduroRetired      EnduroStatus = "ABANDONO"
	EnduroDidNotStart  EnduroStatus = "NAO_LARGOU"
)

// ParseRacePhase constructs a RacePhase from external input.
func ParseRacePhase(s string) (RacePhase, error) {
	switch p := RacePhase(s); p {
	case PhaseNotStarted, PhaseRunning, PhaseFlagShown, PhaseFinished, PhaseCancelled:
		return p, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid race phase %q", s)
}
