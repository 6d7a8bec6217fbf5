package reading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
)

// PostgresStore implements Store on pgx. Ingest is the write-hot path of the
// system, so it runs on a pgxpool instead of database/sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed reading store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// uniqueViolation is the postgres error code for unique constraint hits.
const uniqueViolation = "23505"

// EnsureSchema creates the readings table when missing. Small events run
// without a migration pipeline; this keeps first boot trivial.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS readings (
			id             UUID PRIMARY KEY,
			stage_id       UUID NOT NULL,
			bike           INT NOT NULL,
			ts             TIMESTAMPTZ NOT NULL,
			type           TEXT NOT NULL,
			special        INT NOT NULL DEFAULT 0,
			lap            INT NOT NULL DEFAULT 1,
			device_id      UUID NOT NULL,
			local_id       TEXT NOT NULL DEFAULT '',
			raw_payload    TEXT NOT NULL DEFAULT '',
			hash           TEXT NOT NULL,
			discarded      BOOLEAN NOT NULL DEFAULT FALSE,
			discard_reason TEXT NOT NULL DEFAULT '',
			corrected      BOOLEAN NOT NULL DEFAULT FALSE,
			elapsed_ms     BIGINT,
			created_at     TIMESTAMPTZ NOT NULL,
			CONSTRAINT readings_stage_hash_unique UNIQUE (stage_id, hash)
		);
		CREATE INDEX IF NOT EXISTS readings_stage_ts_idx ON readings (stage_id, ts);
		CREATE INDEX IF NOT EXISTS readings_stage_bike_type_idx ON readings (stage_id, bike, type);
	`)
	if err != nil {
		return fmt.Errorf("ensure readings schema: %w", err)
	}
	return nil
}

const insertReading = `
	INSERT INTO readings (
		id, stage_id, bike, ts, type, special, lap, device_id, local_id,
		raw_payload, hash, discarded, discard_reason, corrected, elapsed_ms, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`

// Insert adds a reading; the stage+hash unique constraint is the atomic
// check-and-insert for exact duplicates.
func (s *PostgresStore) Insert(ctx context.Context, r domain.Reading) error {
	_, err := s.pool.Exec(ctx, insertReading,
		r.ID.String(), r.StageID.String(), r.Bike, r.Timestamp, string(r.Type),
		r.Special, r.Lap, r.DeviceID.String(), r.LocalID, r.RawPayload, r.Hash,
		r.Discarded, r.DiscardReason, r.Corrected, elapsedMs(r.Elapsed), r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

const updateReading = `
	UPDATE readings SET
		stage_id = $2, bike = $3, ts = $4, type = $5, special = $6, lap = $7,
		device_id = $8, local_id = $9, raw_payload = $10, hash = $11,
		discarded = $12, discard_reason = $13, corrected = $14, elapsed_ms = $15
	WHERE id = $1
`

// Update replaces a reading row.
func (s *PostgresStore) Update(ctx context.Context, r domain.Reading) error {
	tag, err := s.pool.Exec(ctx, updateReading,
		r.ID.String(), r.StageID.String(), r.Bike, r.Timestamp, string(r.Type),
		r.Special, r.Lap, r.DeviceID.String(), r.LocalID, r.RawPayload, r.Hash,
		r.Discarded, r.DiscardReason, r.Corrected, elapsedMs(r.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectReading = `
	SELECT id, stage_id, bike, ts, type, special, lap, device_id, local_id,
		raw_payload, hash, discarded, discard_reason, corrected, elapsed_ms, created_at
	FROM readings
`

// FindByID returns a reading by ID.
func (s *PostgresStore) FindByID(ctx context.Context, readingID id.ReadingID) (domain.Reading, error) {
	row := s.pool.QueryRow(ctx, selectReading+` WHERE id = $1`, readingID.String())
	r, err := scanReading(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reading{}, sentinel.ErrNotFound
	}
	return r, err
}

// ListByStage returns every reading of a stage, discarded included.
func (s *PostgresStore) ListByStage(ctx context.Context, stageID id.StageID) ([]domain.Reading, error) {
	return s.listWhere(ctx, ` WHERE stage_id = $1 ORDER BY ts, created_at`, stageID.String())
}

// ListAccepted returns the non-discarded readings of a stage.
func (s *PostgresStore) ListAccepted(ctx context.Context, stageID id.StageID) ([]domain.Reading, error) {
	return s.listWhere(ctx, ` WHERE stage_id = $1 AND NOT discarded ORDER BY ts, created_at`, stageID.String())
}

// ListByBikeType returns accepted readings of one bike and type.
func (s *PostgresStore) ListByBikeType(ctx context.Context, stageID id.StageID, bike int, typ id.ReadingType) ([]domain.Reading, error) {
	return s.listWhere(ctx,
		` WHERE stage_id = $1 AND bike = $2 AND type = $3 AND NOT discarded ORDER BY ts, created_at`,
		stageID.String(), bike, string(typ))
}

func (s *PostgresStore) listWhere(ctx context.Context, clause string, args ...any) ([]domain.Reading, error) {
	rows, err := s.pool.Query(ctx, selectReading+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (domain.Reading, error) {
	var (
		r         domain.Reading
		rid       [16]byte
		sid       [16]byte
		did       [16]byte
		typ       string
		elapsedMs *int64
	)
	err := row.Scan(&rid, &sid, &r.Bike, &r.Timestamp, &typ, &r.Special, &r.Lap,
		&did, &r.LocalID, &r.RawPayload, &r.Hash, &r.Discarded, &r.DiscardReason,
		&r.Corrected, &elapsedMs, &r.CreatedAt)
	if err != nil {
		return domain.Reading{}, err
	}
	r.ID = id.ReadingID(rid)
	r.StageID = id.StageID(sid)
	r.DeviceID = id.DeviceID(did)
	r.Type = id.ReadingType(typ)
	if elapsedMs != nil {
		d := time.Duration(*elapsedMs) * time.Millisecond
		r.Elapsed = &d
	}
	return r, nil
}

func elapsedMs(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}
