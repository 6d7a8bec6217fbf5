package racecontrol_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crono/internal/domain"
	"crono/internal/publish"
	"crono/internal/racecontrol"
	stagestore "crono/internal/racecontrol/store/stage"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/requestcontext"
)

var base = time.Date(2026, 4, 12, 14, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*racecontrol.Service, *stagestore.MemoryStore, *publish.MemoryPublisher, id.StageID) {
	t.Helper()
	stages := stagestore.NewMemoryStore()
	pub := publish.NewMemoryPublisher()
	svc := racecontrol.New(stages, racecontrol.WithPublisher(pub))

	stageID := id.StageID(uuid.New())
	require.NoError(t, stages.Save(context.Background(), domain.Stage{
		ID:       stageID,
		Modality: id.ModalityCircuit,
		Phase:    id.PhaseNotStarted,
	}))
	return svc, stages, pub, stageID
}

func TestLifecycle(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), base)
	svc, _, pub, stageID := newService(t)

	st, err := svc.Start(ctx, stageID, nil)
	require.NoError(t, err)
	assert.Equal(t, id.PhaseRunning, st.Phase)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, base, *st.StartedAt)

	st, err = svc.ShowFlag(ctx, stageID, nil)
	require.NoError(t, err)
	assert.Equal(t, id.PhaseFlagShown, st.Phase)
	require.NotNil(t, st.FlagAt)

	st, err = svc.Finish(ctx, stageID)
	require.NoError(t, err)
	assert.Equal(t, id.PhaseFinished, st.Phase)
	require.NotNil(t, st.FinishedAt)

	events := pub.ByKind(publish.KindRacePhaseChanged)
	require.Len(t, events, 3)
	assert.Equal(t, "stage:"+stageID.String(), events[0].Audience())
}

func TestDuplicateStartRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _, stageID := newService(t)

	_, err := svc.Start(ctx, stageID, nil)
	require.NoError(t, err)

	_, err = svc.Start(ctx, stageID, nil)
	require.Error(t, err, "duplicate start must fail loudly")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestFlagBeforeStartRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _, stageID := newService(t)

	_, err := svc.ShowFlag(ctx, stageID, nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestFinishFromRunningSkipsFlag(t *testing.T) {
	ctx := context.Background()
	svc, _, _, stageID := newService(t)

	_, err := svc.Start(ctx, stageID, nil)
	require.NoError(t, err)
	st, err := svc.Finish(ctx, stageID)
	require.NoError(t, err)
	assert.Equal(t, id.PhaseFinished, st.Phase)
}

func TestExplicitTimeOverridesClock(t *testing.T) {
	ctx := context.Background()
	svc, _, _, stageID := newService(t)

	official := base.Add(-2 * time.Minute)
	st, err := svc.Start(ctx, stageID, &official)
	require.NoError(t, err)
	assert.Equal(t, official, *st.StartedAt)
}

func TestConcurrentFinishOneShot(t *testing.T) {
	ctx := context.Background()
	svc, _, _, stageID := newService(t)
	_, err := svc.Start(ctx, stageID, nil)
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Finish(ctx, stageID)
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
		}
	}
	assert.Equal(t, 1, wins, "exactly one finalization may win")
}

func TestUnknownStage(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.Start(context.Background(), id.StageID(uuid.New()), nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
