package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crono/internal/domain"
	ingestmetrics "crono/internal/ingest/metrics"
	readingstore "crono/internal/ingest/store/reading"
	"crono/internal/publish"
	stagestore "crono/internal/racecontrol/store/stage"
	"crono/internal/registry"
	"crono/internal/timing"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/platform/sentinel"
	"crono/pkg/requestcontext"
	"crono/pkg/timefmt"
)

// DeviceRegistry resolves and maintains collector devices.
type DeviceRegistry interface {
	Lookup(ctx context.Context, deviceID id.DeviceID) (domain.Device, error)
	CountReading(ctx context.Context, deviceID id.DeviceID) error
}

// Invalidator drops cached classifications for a stage.
type Invalidator interface {
	Invalidate(ctx context.Context, stageID id.StageID)
}

// Service is the reading gate.
type Service struct {
	readings readingstore.Store
	stages   stagestore.Store
	devices  DeviceRegistry
	registry registry.Store

	invalidator Invalidator
	publisher   publish.Publisher
	logger      *slog.Logger
	metrics     *ingestmetrics.Metrics

	// locks serializes duplicate detection per (stage, bike, type). The
	// store's unique hash constraint backs this up across processes.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type serviceConfig struct {
	invalidator Invalidator
	publisher   publish.Publisher
	logger      *slog.Logger
	metrics     *ingestmetrics.Metrics
}

// Option customizes the service.
type Option func(*serviceConfig)

func WithInvalidator(inv Invalidator) Option {
	return func(cfg *serviceConfig) { cfg.invalidator = inv }
}

func WithPublisher(p publish.Publisher) Option {
	return func(cfg *serviceConfig) { cfg.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = l }
}

func WithMetrics(m *ingestmetrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
}

func New(readings readingstore.Store, stages stagestore.Store, devices DeviceRegistry, reg registry.Store, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Service{
		readings:    readings,
		stages:      stages,
		devices:     devices,
		registry:    reg,
		invalidator: cfg.invalidator,
		publisher:   cfg.publisher,
		logger:      cfg.logger,
		metrics:     cfg.metrics,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(stageID id.StageID, bike int, typ id.ReadingType) *sync.Mutex {
	key := fmt.Sprintf("%s|%d|%s", stageID, bike, typ)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Submit runs one reading through the gate. Business rejections come back as
// ERROR or DUPLICATE outcomes, not Go errors; the returned error is reserved
// for infrastructure faults.
func (s *Service) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	if sub.Lap <= 0 {
		sub.Lap = 1
	}
	if sub.Bike <= 0 {
		return s.reject("", "bike number is required"), nil
	}
	if sub.Timestamp.IsZero() {
		return s.reject("", "timestamp is required"), nil
	}

	st, err := s.stages.FindByID(ctx, sub.StageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.reject("", "stage not found"), nil
		}
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stage")
	}

	dev, err := s.devices.Lookup(ctx, sub.DeviceID)
	if err != nil || !dev.AuthorizedFor(sub.StageID) {
		if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device")
		}
		return s.reject(ReasonDeviceNotRegistered, "device is not registered for this stage"), nil
	}

	if st.Closed() {
		return s.reject(ReasonStageClosed, fmt.Sprintf("stage is %s", st.Phase)), nil
	}

	if !sub.Type.LegalFor(st.Modality) {
		return s.reject(ReasonInvalidReadingType,
			fmt.Sprintf("reading type %q is not legal for %s stages", sub.Type, st.Modality)), nil
	}
	if st.Modality == id.ModalityEnduro && !st.ValidSpecial(sub.Special) {
		return s.reject(ReasonInvalidReadingType,
			fmt.Sprintf("special %d is outside 1..%d", sub.Special, st.Specials)), nil
	}

	r := domain.Reading{
		ID:         id.ReadingID(uuid.New()),
		StageID:    sub.StageID,
		Bike:       sub.Bike,
		Timestamp:  sub.Timestamp.UTC().Truncate(time.Millisecond),
		Type:       sub.Type,
		Special:    sub.Special,
		Lap:        sub.Lap,
		DeviceID:   sub.DeviceID,
		LocalID:    sub.LocalID,
		RawPayload: sub.RawPayload,
		CreatedAt:  requestcontext.Now(ctx),
	}
	r.Hash = contentHash(r)

	lock := s.lockFor(r.StageID, r.Bike, r.Type)
	lock.Lock()
	defer lock.Unlock()

	prior, err := s.readings.ListByBikeType(ctx, r.StageID, r.Bike, r.Type)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan for duplicates")
	}
	for _, p := range prior {
		if p.Hash == r.Hash {
			return s.duplicate(DuplicateExact), nil
		}
	}
	for _, p := range prior {
		if r.InProximity(p) {
			return s.duplicate(DuplicateProximity), nil
		}
	}

	switch {
	case r.Type == id.ReadingPass:
		r = timing.AnnotatePass(st, prior, r)
	case r.Type == id.ReadingExit:
		entries, err := s.readings.ListByBikeType(ctx, r.StageID, r.Bike, id.ReadingEntry)
		if err != nil {
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entries")
		}
		r = timing.AnnotateExit(entries, r)
	}

	best, err := s.isNewBest(ctx, st, r)
	if err != nil {
		return Outcome{}, err
	}

	if err := s.readings.Insert(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a cross-process race; the constraint caught it.
			return s.duplicate(DuplicateExact), nil
		}
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist reading")
	}

	if err := s.devices.CountReading(ctx, r.DeviceID); err != nil {
		s.logger.WarnContext(ctx, "device reading counter update failed",
			"device_id", r.DeviceID, "error", err)
	}

	out := Outcome{
		Status:    StatusOK,
		ReadingID: r.ID,
		Lap:       r.Lap,
		Elapsed:   r.Elapsed,
		BestLap:   best,
	}
	if r.Elapsed != nil {
		out.FormattedElapsed = timefmt.Elapsed(*r.Elapsed)
	}

	reg, err := s.registry.FindByBike(ctx, r.StageID, r.Bike)
	if err == nil {
		out.Registered = true
		out.Rider = reg.RiderName
	}

	s.afterMutation(ctx, r.StageID)
	s.publishEvent(ctx, publish.Event{
		Kind:    publish.KindNewPass,
		StageID: r.StageID,
		Bike:    r.Bike,
		At:      r.Timestamp,
		Payload: out,
	})
	if best {
		s.publishEvent(ctx, publish.Event{
			Kind:    publish.KindBestLap,
			StageID: r.StageID,
			Bike:    r.Bike,
			At:      r.Timestamp,
			Payload: out,
		})
	}
	s.metrics.ObserveReading(string(StatusOK), "")
	return out, nil
}

// SubmitBatch processes one collector upload. Items are sorted by embedded
// timestamp first; each is validated and deduplicated independently and a
// failing item never aborts its siblings.
func (s *Service) SubmitBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	s.metrics.ObserveBatch(len(batch.Readings))

	items := make([]Submission, len(batch.Readings))
	copy(items, batch.Readings)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	result := BatchResult{TotalReceived: len(items)}
	for _, item := range items {
		item.StageID = batch.StageID
		item.DeviceID = batch.DeviceID

		out, err := s.Submit(ctx, item)
		if err != nil {
			// Infrastructure fault on one item: report it and move on.
			out = Outcome{Status: StatusError, Message: "internal error"}
			s.logger.ErrorContext(ctx, "batch item failed",
				"stage_id", batch.StageID, "bike", item.Bike, "error", err)
			result.Errors = append(result.Errors, err.Error())
		}

		result.Items = append(result.Items, out)
		switch out.Status {
		case StatusOK:
			result.TotalProcessed++
		case StatusDuplicate:
			result.TotalDuplicate++
		default:
			result.TotalErrors++
			if out.Message != "" {
				result.Errors = append(result.Errors, out.Message)
			}
		}
	}
	return result, nil
}

// Correct mutates a reading's identifying fields, marks it manually
// corrected and recomputes the stage. Corrections on a finished stage must
// carry the force flag, acknowledging a post-hoc result change.
func (s *Service) Correct(ctx context.Context, c Correction) (Outcome, error) {
	r, err := s.readings.FindByID(ctx, c.ReadingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Outcome{}, dErrors.New(dErrors.CodeNotFound, "reading not found")
		}
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reading")
	}
	st, err := s.stages.FindByID(ctx, r.StageID)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stage")
	}
	if st.Phase == id.PhaseFinished && !c.Force {
		return Outcome{}, dErrors.New(dErrors.CodeConflict,
			"stage is finished; corrections require the force flag and re-finalization")
	}

	if c.Bike != nil {
		r.Bike = *c.Bike
	}
	if c.Timestamp != nil {
		r.Timestamp = c.Timestamp.UTC().Truncate(time.Millisecond)
	}
	if c.Type != nil {
		r.Type = *c.Type
	}
	if c.Special != nil {
		r.Special = *c.Special
	}
	if c.Lap != nil {
		r.Lap = *c.Lap
	}
	if !r.Type.LegalFor(st.Modality) {
		return Outcome{}, dErrors.Newf(dErrors.CodeInvalidInput,
			"reading type %q is not legal for %s stages", r.Type, st.Modality)
	}
	if st.Modality == id.ModalityEnduro && !st.ValidSpecial(r.Special) {
		return Outcome{}, dErrors.Newf(dErrors.CodeInvalidInput,
			"special %d is outside 1..%d", r.Special, st.Specials)
	}

	r.Corrected = true
	r.Hash = contentHash(r)
	if err := s.readings.Update(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Outcome{}, dErrors.New(dErrors.CodeConflict, "correction collides with an existing reading")
		}
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist correction")
	}

	if err := s.recomputeStage(ctx, st); err != nil {
		return Outcome{}, err
	}
	s.afterMutation(ctx, r.StageID)
	s.publishClassificationUpdated(ctx, r.StageID)
	s.metrics.ObserveMutation("correct")

	out := Outcome{Status: StatusCorrected, ReadingID: r.ID}
	if updated, err := s.readings.FindByID(ctx, r.ID); err == nil {
		out.Lap = updated.Lap
		out.Elapsed = updated.Elapsed
		if updated.Elapsed != nil {
			out.FormattedElapsed = timefmt.Elapsed(*updated.Elapsed)
		}
	}
	return out, nil
}

// Discard soft-deletes a reading with a reason and recomputes the stage.
func (s *Service) Discard(ctx context.Context, readingID id.ReadingID, reason string) (Outcome, error) {
	return s.setDiscarded(ctx, readingID, true, reason, "discard", StatusDiscarded)
}

// Restore clears a reading's discard state and recomputes the stage.
func (s *Service) Restore(ctx context.Context, readingID id.ReadingID) (Outcome, error) {
	return s.setDiscarded(ctx, readingID, false, "", "restore", StatusOK)
}

func (s *Service) setDiscarded(ctx context.Context, readingID id.ReadingID, discarded bool, reason, action string, status Status) (Outcome, error) {
	r, err := s.readings.FindByID(ctx, readingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Outcome{}, dErrors.New(dErrors.CodeNotFound, "reading not found")
		}
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reading")
	}
	if r.Discarded == discarded {
		return Outcome{}, dErrors.Newf(dErrors.CodeConflict, "reading is already in the requested state")
	}

	r.Discarded = discarded
	r.DiscardReason = reason
	if err := s.readings.Update(ctx, r); err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist reading state")
	}

	st, err := s.stages.FindByID(ctx, r.StageID)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stage")
	}
	if err := s.recomputeStage(ctx, st); err != nil {
		return Outcome{}, err
	}
	s.afterMutation(ctx, r.StageID)
	s.publishClassificationUpdated(ctx, r.StageID)
	s.metrics.ObserveMutation(action)

	return Outcome{Status: status, ReadingID: r.ID, Message: reason}, nil
}

// recomputeStage re-derives lap numbers and elapsed for every accepted
// reading from scratch and persists the rows that changed. The full pass
// must agree with what incremental application would have produced.
func (s *Service) recomputeStage(ctx context.Context, st domain.Stage) error {
	accepted, err := s.readings.ListAccepted(ctx, st.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot readings")
	}

	before := make(map[id.ReadingID]domain.Reading, len(accepted))
	for _, r := range accepted {
		before[r.ID] = r
	}

	for _, r := range timing.Recompute(st, accepted) {
		prev := before[r.ID]
		if prev.Lap == r.Lap && equalElapsed(prev.Elapsed, r.Elapsed) {
			continue
		}
		if err := s.readings.Update(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist recomputed reading")
		}
	}
	return nil
}

func equalElapsed(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// isNewBest reports whether r would set the stage's fastest segment: the
// best non-staging lap for circuit, the best time of its (lap, special) for
// enduro.
func (s *Service) isNewBest(ctx context.Context, st domain.Stage, r domain.Reading) (bool, error) {
	if r.Elapsed == nil {
		return false, nil
	}
	if st.Modality == id.ModalityCircuit && r.Lap <= 1 {
		return false, nil
	}

	accepted, err := s.readings.ListAccepted(ctx, r.StageID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load readings")
	}
	for _, p := range accepted {
		if p.Elapsed == nil {
			continue
		}
		switch st.Modality {
		case id.ModalityCircuit:
			if p.Type == id.ReadingPass && p.Lap > 1 && *p.Elapsed <= *r.Elapsed {
				return false, nil
			}
		case id.ModalityEnduro:
			if p.Type == id.ReadingExit && p.Lap == r.Lap && p.Special == r.Special && *p.Elapsed <= *r.Elapsed {
				return false, nil
			}
		}
	}
	return true, nil
}

func (s *Service) afterMutation(ctx context.Context, stageID id.StageID) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, stageID)
	}
}

func (s *Service) publishClassificationUpdated(ctx context.Context, stageID id.StageID) {
	s.publishEvent(ctx, publish.Event{
		Kind:    publish.KindClassificationUpdated,
		StageID: stageID,
		At:      requestcontext.Now(ctx),
	})
}

func (s *Service) publishEvent(ctx context.Context, event publish.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			"kind", event.Kind, "stage_id", event.StageID, "error", err)
	}
}

func (s *Service) reject(reason, message string) Outcome {
	s.metrics.ObserveReading(string(StatusError), "")
	return Outcome{Status: StatusError, Reason: reason, Message: message}
}

func (s *Service) duplicate(kind DuplicateKind) Outcome {
	s.metrics.ObserveReading(string(StatusDuplicate), string(kind))
	return Outcome{Status: StatusDuplicate, Duplicate: kind, Message: fmt.Sprintf("duplicate reading (%s)", kind)}
}
