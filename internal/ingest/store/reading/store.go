// Package reading persists timing readings. Two implementations: an
// in-memory store for tests and single-node events, and a pgx-backed
// postgres store for the hot ingest path. Both expose the same invariant to
// the gate: inserting a second reading with an identical content hash fails
// with sentinel.ErrConflict.
package reading

import (
	"context"

	"crono/internal/domain"
	id "crono/pkg/domain"
)

// Store persists readings for the gate and the classification engines.
type Store interface {
	// Insert adds an accepted reading. Returns sentinel.ErrConflict when a
	// reading with the same stage+hash already exists; this is the atomic
	// check-and-insert the dedup design relies on.
	Insert(ctx context.Context, r domain.Reading) error

	// Update replaces a reading row (correction, discard/restore, elapsed
	// annotation). Returns sentinel.ErrNotFound for unknown IDs.
	Update(ctx context.Context, r domain.Reading) error

	FindByID(ctx context.Context, readingID id.ReadingID) (domain.Reading, error)

	// ListByStage returns every reading of the stage, discarded included,
	// ordered by timestamp then creation.
	ListByStage(ctx context.Context, stageID id.StageID) ([]domain.Reading, error)

	// ListAccepted returns the non-discarded readings of the stage ordered
	// by timestamp then creation. Classification is a pure function of this
	// snapshot.
	ListAccepted(ctx context.Context, stageID id.StageID) ([]domain.Reading, error)

	// ListByBikeType returns the accepted readings of one bike and type,
	// ordered by timestamp. The gate scans these for proximity duplicates.
	ListByBikeType(ctx context.Context, stageID id.StageID, bike int, typ id.ReadingType) ([]domain.Reading, error)
}
