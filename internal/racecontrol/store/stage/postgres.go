package stage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
	txcontext "crono/pkg/platform/tx"
)

// PostgresStore implements Store on database/sql. Stage writes are rare
// (race-control actions), so the plain driver is plenty here.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a postgres-backed stage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// EnsureSchema creates the stages table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stages (
			id               UUID PRIMARY KEY,
			name             TEXT NOT NULL,
			modality         TEXT NOT NULL,
			laps             INT NOT NULL DEFAULT 0,
			specials         INT NOT NULL DEFAULT 0,
			penalty_seconds  BIGINT NOT NULL DEFAULT 0,
			first_lap_counts BOOLEAN NOT NULL DEFAULT TRUE,
			phase            TEXT NOT NULL,
			started_at       TIMESTAMPTZ,
			flag_at          TIMESTAMPTZ,
			finished_at      TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure stages schema: %w", err)
	}
	return nil
}

// Save inserts or replaces a stage row.
func (s *PostgresStore) Save(ctx context.Context, st domain.Stage) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO stages (id, name, modality, laps, specials, penalty_seconds,
			first_lap_counts, phase, started_at, flag_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, modality = EXCLUDED.modality,
			laps = EXCLUDED.laps, specials = EXCLUDED.specials,
			penalty_seconds = EXCLUDED.penalty_seconds,
			first_lap_counts = EXCLUDED.first_lap_counts,
			phase = EXCLUDED.phase, started_at = EXCLUDED.started_at,
			flag_at = EXCLUDED.flag_at, finished_at = EXCLUDED.finished_at
	`,
		uuid.UUID(st.ID), st.Name, string(st.Modality), st.Laps, st.Specials,
		int64(st.Penalty/time.Second), st.FirstLapCounts, string(st.Phase),
		st.StartedAt, st.FlagAt, st.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save stage: %w", err)
	}
	return nil
}

// FindByID returns a stage by ID.
func (s *PostgresStore) FindByID(ctx context.Context, stageID id.StageID) (domain.Stage, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, name, modality, laps, specials, penalty_seconds,
			first_lap_counts, phase, started_at, flag_at, finished_at
		FROM stages WHERE id = $1
	`, uuid.UUID(stageID))

	var (
		st             domain.Stage
		sid            uuid.UUID
		modality       string
		phase          string
		penaltySeconds int64
	)
	err := row.Scan(&sid, &st.Name, &modality, &st.Laps, &st.Specials,
		&penaltySeconds, &st.FirstLapCounts, &phase, &st.StartedAt, &st.FlagAt, &st.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stage{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Stage{}, fmt.Errorf("find stage: %w", err)
	}
	st.ID = id.StageID(sid)
	st.Modality = id.Modality(modality)
	st.Phase = id.RacePhase(phase)
	st.Penalty = time.Duration(penaltySeconds) * time.Second
	return st, nil
}

// UpdatePhase applies a compare-and-swap phase transition; the WHERE clause
// on the previous phase makes concurrent duplicate actions lose cleanly.
func (s *PostgresStore) UpdatePhase(ctx context.Context, stageID id.StageID, expected id.RacePhase, st domain.Stage) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE stages SET phase = $3, started_at = $4, flag_at = $5, finished_at = $6
		WHERE id = $1 AND phase = $2
	`, uuid.UUID(stageID), string(expected), string(st.Phase),
		st.StartedAt, st.FlagAt, st.FinishedAt)
	if err != nil {
		return fmt.Errorf("update stage phase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stage phase: %w", err)
	}
	if n == 0 {
		// Either the stage is unknown or the phase moved underneath us.
		if _, ferr := s.FindByID(ctx, stageID); errors.Is(ferr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}
