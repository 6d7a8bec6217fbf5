package reading

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crono/internal/domain"
	id "crono/pkg/domain"
	"crono/pkg/platform/sentinel"
)

func newReading(stageID id.StageID, bike int, ts time.Time, hash string) domain.Reading {
	return domain.Reading{
		ID:        id.ReadingID(uuid.New()),
		StageID:   stageID,
		Bike:      bike,
		Timestamp: ts,
		Type:      id.ReadingPass,
		Lap:       1,
		DeviceID:  id.DeviceID(uuid.New()),
		Hash:      hash,
		CreatedAt: time.Now(),
	}
}

func TestInsertRejectsDuplicateHash(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stageID := id.StageID(uuid.New())
	ts := time.Now().UTC()

	require.NoError(t, store.Insert(ctx, newReading(stageID, 7, ts, "h1")))

	err := store.Insert(ctx, newReading(stageID, 7, ts, "h1"))
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	// Same hash on another stage is a different reading
	require.NoError(t, store.Insert(ctx, newReading(id.StageID(uuid.New()), 7, ts, "h1")))
}

func TestListOrderingAndFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stageID := id.StageID(uuid.New())
	base := time.Date(2025, 3, 8, 14, 0, 0, 0, time.UTC)

	r3 := newReading(stageID, 7, base.Add(20*time.Second), "h3")
	r1 := newReading(stageID, 7, base, "h1")
	r2 := newReading(stageID, 9, base.Add(10*time.Second), "h2")
	for _, r := range []domain.Reading{r3, r1, r2} {
		require.NoError(t, store.Insert(ctx, r))
	}

	all, err := store.ListByStage(ctx, stageID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"h1", "h2", "h3"}, []string{all[0].Hash, all[1].Hash, all[2].Hash})

	byBike, err := store.ListByBikeType(ctx, stageID, 7, id.ReadingPass)
	require.NoError(t, err)
	require.Len(t, byBike, 2)

	// Discarding removes from accepted lists but not from ListByStage
	r1.Discarded = true
	r1.DiscardReason = "photocell bounce"
	require.NoError(t, store.Update(ctx, r1))

	accepted, err := store.ListAccepted(ctx, stageID)
	require.NoError(t, err)
	assert.Len(t, accepted, 2)

	all, err = store.ListByStage(ctx, stageID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateReindexesHash(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stageID := id.StageID(uuid.New())
	ts := time.Now().UTC()

	r := newReading(stageID, 7, ts, "h1")
	require.NoError(t, store.Insert(ctx, r))

	// Correction changes the hash; the old hash must be freed
	r.Bike = 8
	r.Hash = "h2"
	r.Corrected = true
	require.NoError(t, store.Update(ctx, r))

	require.NoError(t, store.Insert(ctx, newReading(stageID, 7, ts, "h1")))

	err := store.Insert(ctx, newReading(stageID, 8, ts, "h2"))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestUpdateUnknownReading(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), newReading(id.StageID(uuid.New()), 1, time.Now(), "h"))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestStableOrderForEqualTimestamps(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	stageID := id.StageID(uuid.New())
	ts := time.Date(2025, 3, 8, 14, 0, 0, 0, time.UTC)

	first := newReading(stageID, 1, ts, "ha")
	second := newReading(stageID, 2, ts, "hb")
	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, second))

	for range 5 {
		all, err := store.ListByStage(ctx, stageID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, all[0].ID)
		assert.Equal(t, second.ID, all[1].ID)
	}
}
