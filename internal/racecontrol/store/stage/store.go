// Package stage persists stage configuration and race phase. Stage rows are
// created by stage management; the engine mutates only the phase columns and
// timestamps through race-control actions.
package stage

import (
	"context"

	"crono/internal/domain"
	id "crono/pkg/domain"
)

// Store persists stages.
type Store interface {
	Save(ctx context.Context, st domain.Stage) error
	FindByID(ctx context.Context, stageID id.StageID) (domain.Stage, error)
	// UpdatePhase persists a phase transition atomically: the write applies
	// only when the stored phase still equals expected, otherwise
	// sentinel.ErrInvalidState. This is the phase guard under concurrency.
	UpdatePhase(ctx context.Context, stageID id.StageID, expected id.RacePhase, st domain.Stage) error
}
