package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crono/internal/classify/cache"
	classifyservice "crono/internal/classify/service"
	"crono/internal/device"
	"crono/internal/domain"
	"crono/internal/ingest"
	readingstore "crono/internal/ingest/store/reading"
	"crono/internal/publish"
	stagestore "crono/internal/racecontrol/store/stage"
	"crono/internal/registry"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
)

var base = time.Date(2026, 4, 12, 14, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *ingest.Service
	classify  *classifyservice.Service
	readings  *readingstore.MemoryStore
	stages    *stagestore.MemoryStore
	devices   *device.Service
	registry  *registry.MemoryStore
	publisher *publish.MemoryPublisher
	stageID   id.StageID
	deviceID  id.DeviceID
}

func newFixture(t *testing.T, st domain.Stage) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		readings:  readingstore.NewMemoryStore(),
		stages:    stagestore.NewMemoryStore(),
		devices:   device.NewService(device.NewMemoryStore()),
		registry:  registry.NewMemoryStore(),
		publisher: publish.NewMemoryPublisher(),
	}

	if st.ID.IsNil() {
		st.ID = id.StageID(uuid.New())
	}
	f.stageID = st.ID
	require.NoError(t, f.stages.Save(ctx, st))

	d, _, err := f.devices.Provision(ctx, "gate-1", []id.StageID{f.stageID})
	require.NoError(t, err)
	f.deviceID = d.ID

	f.classify = classifyservice.New(f.stages, f.readings, f.registry,
		classifyservice.WithCache(cache.NewMemory(time.Minute)),
	)
	f.svc = ingest.New(f.readings, f.stages, f.devices, f.registry,
		ingest.WithInvalidator(f.classify),
		ingest.WithPublisher(f.publisher),
	)
	return f
}

func circuitStage() domain.Stage {
	return domain.Stage{Modality: id.ModalityCircuit, Laps: 10, Phase: id.PhaseRunning}
}

func enduroStage(specials int) domain.Stage {
	return domain.Stage{
		Modality: id.ModalityEnduro, Laps: 1, Specials: specials,
		Penalty: time.Minute, FirstLapCounts: true, Phase: id.PhaseRunning,
	}
}

func (f *fixture) pass(bike int, at time.Time, localID string) ingest.Submission {
	return ingest.Submission{
		StageID:   f.stageID,
		Bike:      bike,
		Timestamp: at,
		Type:      id.ReadingPass,
		DeviceID:  f.deviceID,
		LocalID:   localID,
	}
}

func TestSubmitAcceptsAndAnnotates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	out, err := f.svc.Submit(ctx, f.pass(7, base, "a"))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusOK, out.Status)
	assert.Equal(t, 1, out.Lap)
	assert.Nil(t, out.Elapsed, "staging lap has no elapsed")

	out, err = f.svc.Submit(ctx, f.pass(7, base.Add(95*time.Second), "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Lap)
	require.NotNil(t, out.Elapsed)
	assert.Equal(t, 95*time.Second, *out.Elapsed)
	assert.Equal(t, "01:35.000", out.FormattedElapsed)
	assert.True(t, out.BestLap, "first completed lap is the stage best")
}

func TestSubmitExactDuplicateIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	sub := f.pass(7, base, "a")
	out, err := f.svc.Submit(ctx, sub)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusOK, out.Status)

	for i := 0; i < 5; i++ {
		out, err = f.svc.Submit(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, ingest.StatusDuplicate, out.Status)
		assert.Equal(t, ingest.DuplicateExact, out.Duplicate)
	}

	stored, err := f.readings.ListAccepted(ctx, f.stageID)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "resubmission must never create a second record")
}

func TestSubmitProximityWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	out, err := f.svc.Submit(ctx, f.pass(7, base, "a"))
	require.NoError(t, err)
	require.Equal(t, ingest.StatusOK, out.Status)

	// Jittered resubmit with a different local id: different hash, same
	// physical event.
	out, err = f.svc.Submit(ctx, f.pass(7, base.Add(1500*time.Millisecond), "b"))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusDuplicate, out.Status)
	assert.Equal(t, ingest.DuplicateProximity, out.Duplicate)

	// Exactly at the window edge: still a duplicate.
	out, err = f.svc.Submit(ctx, f.pass(7, base.Add(2000*time.Millisecond), "c"))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusDuplicate, out.Status)

	// One millisecond past: accepted.
	out, err = f.svc.Submit(ctx, f.pass(7, base.Add(2001*time.Millisecond), "d"))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusOK, out.Status)
}

func TestSubmitGateChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	// Unknown device.
	sub := f.pass(7, base, "a")
	sub.DeviceID = id.DeviceID(uuid.New())
	out, err := f.svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusError, out.Status)
	assert.Equal(t, ingest.ReasonDeviceNotRegistered, out.Reason)

	// Device registered for another stage.
	other, _, err := f.devices.Provision(ctx, "other-gate", []id.StageID{id.StageID(uuid.New())})
	require.NoError(t, err)
	sub = f.pass(7, base, "b")
	sub.DeviceID = other.ID
	out, err = f.svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, ingest.ReasonDeviceNotRegistered, out.Reason)

	// Enduro reading type on a circuit stage.
	sub = f.pass(7, base, "c")
	sub.Type = id.ReadingEntry
	out, err = f.svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, ingest.ReasonInvalidReadingType, out.Reason)

	// Finished stage.
	st, err := f.stages.FindByID(ctx, f.stageID)
	require.NoError(t, err)
	st.Phase = id.PhaseFinished
	require.NoError(t, f.stages.Save(ctx, st))
	out, err = f.svc.Submit(ctx, f.pass(7, base, "d"))
	require.NoError(t, err)
	assert.Equal(t, ingest.ReasonStageClosed, out.Reason)
}

func TestSubmitEnduroSpecialRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enduroStage(2))

	sub := ingest.Submission{
		StageID: f.stageID, Bike: 3, Timestamp: base,
		Type: id.ReadingEntry, Special: 3, DeviceID: f.deviceID,
	}
	out, err := f.svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusError, out.Status)
	assert.Equal(t, ingest.ReasonInvalidReadingType, out.Reason)

	sub.Special = 2
	out, err = f.svc.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusOK, out.Status)
}

func TestSubmitEnduroExitResolvesElapsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, enduroStage(1))

	entry := ingest.Submission{
		StageID: f.stageID, Bike: 3, Timestamp: base,
		Type: id.ReadingEntry, Special: 1, DeviceID: f.deviceID,
	}
	out, err := f.svc.Submit(ctx, entry)
	require.NoError(t, err)
	assert.Nil(t, out.Elapsed, "entries carry no elapsed")

	exit := entry
	exit.Type = id.ReadingExit
	exit.Timestamp = base.Add(3 * time.Minute)
	out, err = f.svc.Submit(ctx, exit)
	require.NoError(t, err)
	require.NotNil(t, out.Elapsed)
	assert.Equal(t, 3*time.Minute, *out.Elapsed)
	assert.Equal(t, "03:00.000", out.FormattedElapsed)
}

func TestSubmitBatchSortsAndReportsPerItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	// Out of order, one exact duplicate, one gate rejection.
	batch := ingest.Batch{
		DeviceID: f.deviceID,
		StageID:  f.stageID,
		Readings: []ingest.Submission{
			{Bike: 7, Timestamp: base.Add(95 * time.Second), Type: id.ReadingPass, LocalID: "b"},
			{Bike: 7, Timestamp: base, Type: id.ReadingPass, LocalID: "a"},
			{Bike: 7, Timestamp: base, Type: id.ReadingPass, LocalID: "a"}, // duplicate
			{Bike: 0, Timestamp: base, Type: id.ReadingPass, LocalID: "c"}, // invalid bike
		},
	}

	result, err := f.svc.SubmitBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 4, result.TotalReceived)
	assert.Equal(t, 2, result.TotalProcessed)
	assert.Equal(t, 1, result.TotalDuplicate)
	assert.Equal(t, 1, result.TotalErrors)
	require.Len(t, result.Items, 4)

	// Sorted by timestamp: the out-of-order 95s pass lands last among the
	// accepted items, so lap numbering is correct.
	stored, err := f.readings.ListByBikeType(ctx, f.stageID, 7, id.ReadingPass)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].Lap)
	assert.Equal(t, 2, stored[1].Lap)
	require.NotNil(t, stored[1].Elapsed)
	assert.Equal(t, 95*time.Second, *stored[1].Elapsed)
}

func TestCorrectionRecomputesStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	_, err := f.svc.Submit(ctx, f.pass(7, base, "a"))
	require.NoError(t, err)
	out2, err := f.svc.Submit(ctx, f.pass(7, base.Add(95*time.Second), "b"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.pass(7, base.Add(190*time.Second), "c"))
	require.NoError(t, err)

	// Shift the middle pass 5 seconds later: lap 2 grows, lap 3 shrinks.
	corrected := base.Add(100 * time.Second)
	out, err := f.svc.Correct(ctx, ingest.Correction{
		ReadingID: out2.ReadingID,
		Timestamp: &corrected,
	})
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusCorrected, out.Status)

	stored, err := f.readings.ListByBikeType(ctx, f.stageID, 7, id.ReadingPass)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 100*time.Second, *stored[1].Elapsed)
	assert.Equal(t, 90*time.Second, *stored[2].Elapsed)

	correctedRow, err := f.readings.FindByID(ctx, out2.ReadingID)
	require.NoError(t, err)
	assert.True(t, correctedRow.Corrected)
}

func TestCorrectionOnFinishedStageNeedsForce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	out, err := f.svc.Submit(ctx, f.pass(7, base, "a"))
	require.NoError(t, err)

	st, err := f.stages.FindByID(ctx, f.stageID)
	require.NoError(t, err)
	st.Phase = id.PhaseFinished
	require.NoError(t, f.stages.Save(ctx, st))

	ts := base.Add(time.Second)
	_, err = f.svc.Correct(ctx, ingest.Correction{ReadingID: out.ReadingID, Timestamp: &ts})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = f.svc.Correct(ctx, ingest.Correction{ReadingID: out.ReadingID, Timestamp: &ts, Force: true})
	require.NoError(t, err)
}

func TestDiscardAndRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	out1, err := f.svc.Submit(ctx, f.pass(7, base, "a"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.pass(7, base.Add(95*time.Second), "b"))
	require.NoError(t, err)

	out, err := f.svc.Discard(ctx, out1.ReadingID, "phantom read at staging")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusDiscarded, out.Status)

	// The survivor became lap 1 after recompute.
	accepted, err := f.readings.ListAccepted(ctx, f.stageID)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, 1, accepted[0].Lap)
	assert.Nil(t, accepted[0].Elapsed)

	// Double discard is a conflict, discarded rows are never deleted.
	_, err = f.svc.Discard(ctx, out1.ReadingID, "again")
	require.Error(t, err)
	all, err := f.readings.ListByStage(ctx, f.stageID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.Restore(ctx, out1.ReadingID)
	require.NoError(t, err)
	accepted, err = f.readings.ListAccepted(ctx, f.stageID)
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.Equal(t, 2, accepted[1].Lap)
	require.NotNil(t, accepted[1].Elapsed)
	assert.Equal(t, 95*time.Second, *accepted[1].Elapsed)
}

func TestSubmitPublishesEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())

	_, err := f.svc.Submit(ctx, f.pass(7, base, "a"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.pass(7, base.Add(95*time.Second), "b"))
	require.NoError(t, err)

	passes := f.publisher.ByKind(publish.KindNewPass)
	require.Len(t, passes, 2)
	assert.Equal(t, 7, passes[0].Bike)

	bests := f.publisher.ByKind(publish.KindBestLap)
	require.Len(t, bests, 1)
}

func TestEndToEndCircuit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, circuitStage())
	f.registry.Seed(f.stageID, []domain.Registration{
		{Bike: 1, RiderName: "Alda"},
		{Bike: 2, RiderName: "Bruno"},
		{Bike: 3, RiderName: "Caio"},
	})

	subs := []ingest.Submission{
		f.pass(1, base, "1a"),
		f.pass(2, base.Add(time.Second), "2a"),
		f.pass(3, base.Add(2*time.Second), "3a"),
		f.pass(1, base.Add(91*time.Second), "1b"), // lap 91s
		f.pass(2, base.Add(94*time.Second), "2b"), // lap 93s
		f.pass(3, base.Add(97*time.Second), "3b"), // lap 95s
		f.pass(1, base.Add(183*time.Second), "1c"), // lap 92s
		f.pass(1, base.Add(183*time.Second), "1c"), // exact duplicate
		f.pass(2, base.Add(94500*time.Millisecond), "2x"), // 500ms proximity duplicate
	}

	var ok, dup int
	for _, sub := range subs {
		out, err := f.svc.Submit(ctx, sub)
		require.NoError(t, err)
		switch out.Status {
		case ingest.StatusOK:
			ok++
		case ingest.StatusDuplicate:
			dup++
		default:
			t.Fatalf("unexpected status %s: %s", out.Status, out.Message)
		}
	}
	assert.Equal(t, 7, ok)
	assert.Equal(t, 2, dup)

	result, err := f.classify.Compute(ctx, classifyservice.Query{StageID: f.stageID})
	require.NoError(t, err)
	require.Len(t, result.Circuit, 3)

	// Bike 1 leads on laps; 2 beats 3 on time among one-lap riders.
	assert.Equal(t, []int{1, 2, 3}, []int{result.Circuit[0].Bike, result.Circuit[1].Bike, result.Circuit[2].Bike})
	assert.Equal(t, "+1 lap", result.Circuit[1].Gap)

	var bestFlags int
	for _, row := range result.Circuit {
		if row.OverallBestLap {
			bestFlags++
			assert.Equal(t, 1, row.Bike, "fastest lap is bike 1's 91s")
			assert.Equal(t, "01:31.000", row.BestLapFormatted)
		}
	}
	assert.Equal(t, 1, bestFlags)
}
