// Package racecontrol advances the stage lifecycle. Every action validates
// the current phase before transitioning; a duplicate "start" is rejected
// with a conflict, never silently absorbed, and finalization is one-shot.
package racecontrol

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crono/internal/domain"
	"crono/internal/publish"
	stagestore "crono/internal/racecontrol/store/stage"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/platform/sentinel"
	"crono/pkg/requestcontext"
)

// Invalidator drops cached classifications for a stage.
type Invalidator interface {
	Invalidate(ctx context.Context, stageID id.StageID)
}

// Service executes race-control actions.
type Service struct {
	stages      stagestore.Store
	publisher   publish.Publisher
	invalidator Invalidator
	logger      *slog.Logger

	// finalizeMu serializes finalization per process; the store's
	// compare-and-swap phase update guards across processes.
	finalizeMu sync.Mutex
}

type serviceConfig struct {
	publisher   publish.Publisher
	invalidator Invalidator
	logger      *slog.Logger
}

// Option customizes the service.
type Option func(*serviceConfig)

func WithPublisher(p publish.Publisher) Option {
	return func(cfg *serviceConfig) { cfg.publisher = p }
}

func WithInvalidator(inv Invalidator) Option {
	return func(cfg *serviceConfig) { cfg.invalidator = inv }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = l }
}

func New(stages stagestore.Store, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Service{
		stages:      stages,
		publisher:   cfg.publisher,
		invalidator: cfg.invalidator,
		logger:      cfg.logger,
	}
}

// Start moves the stage to running. explicitTime overrides the official
// start timestamp, for crews arming the clock after the fact.
func (s *Service) Start(ctx context.Context, stageID id.StageID, explicitTime *time.Time) (domain.Stage, error) {
	return s.transition(ctx, stageID, id.PhaseRunning, func(st *domain.Stage, at time.Time) {
		st.StartedAt = &at
	}, explicitTime)
}

// ShowFlag marks the checkered flag: riders crossing after this timestamp
// count as finished.
func (s *Service) ShowFlag(ctx context.Context, stageID id.StageID, explicitTime *time.Time) (domain.Stage, error) {
	return s.transition(ctx, stageID, id.PhaseFlagShown, func(st *domain.Stage, at time.Time) {
		st.FlagAt = &at
	}, explicitTime)
}

// Finish finalizes the stage. One-shot: once finished, reading mutations
// require an explicit post-hoc correction.
func (s *Service) Finish(ctx context.Context, stageID id.StageID) (domain.Stage, error) {
	s.finalizeMu.Lock()
	defer s.finalizeMu.Unlock()
	return s.transition(ctx, stageID, id.PhaseFinished, func(st *domain.Stage, at time.Time) {
		st.FinishedAt = &at
	}, nil)
}

func (s *Service) transition(ctx context.Context, stageID id.StageID, next id.RacePhase, apply func(*domain.Stage, time.Time), explicitTime *time.Time) (domain.Stage, error) {
	st, err := s.stages.FindByID(ctx, stageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Stage{}, dErrors.New(dErrors.CodeNotFound, "stage not found")
		}
		return domain.Stage{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stage")
	}

	expected := st.Phase
	if !expected.CanTransitionTo(next) {
		return domain.Stage{}, dErrors.Newf(dErrors.CodeConflict,
			"stage is %s; cannot transition to %s", expected, next)
	}

	at := requestcontext.Now(ctx).UTC().Truncate(time.Millisecond)
	if explicitTime != nil {
		at = explicitTime.UTC().Truncate(time.Millisecond)
	}
	st.Phase = next
	apply(&st, at)

	if err := s.stages.UpdatePhase(ctx, stageID, expected, st); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			// Lost the race to a concurrent action.
			return domain.Stage{}, dErrors.Newf(dErrors.CodeConflict,
				"stage phase changed concurrently; re-read and retry")
		case errors.Is(err, sentinel.ErrNotFound):
			return domain.Stage{}, dErrors.New(dErrors.CodeNotFound, "stage not found")
		default:
			return domain.Stage{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist phase")
		}
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, stageID)
	}
	s.publishPhaseChange(ctx, st, at)
	s.logger.InfoContext(ctx, "race phase changed",
		"stage_id", stageID, "phase", next, "at", at)
	return st, nil
}

func (s *Service) publishPhaseChange(ctx context.Context, st domain.Stage, at time.Time) {
	if s.publisher == nil {
		return
	}
	event := publish.Event{
		Kind:    publish.KindRacePhaseChanged,
		StageID: st.ID,
		At:      at,
		Payload: map[string]string{"phase": st.Phase.String()},
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "phase change publish failed",
			"stage_id", st.ID, "phase", st.Phase, "error", err)
	}
}
