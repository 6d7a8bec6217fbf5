// Package service orchestrates classification: snapshot the stage's
// readings, run the modality engine, cache the serialized result and serve
// it read-through. Recomputation is idempotent; any trigger over the same
// reading snapshot yields the same payload.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"crono/internal/classify/cache"
	"crono/internal/classify/circuit"
	"crono/internal/classify/enduro"
	classifymetrics "crono/internal/classify/metrics"
	ingeststore "crono/internal/ingest/store/reading"
	stagestore "crono/internal/racecontrol/store/stage"
	"crono/internal/registry"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/platform/sentinel"
	"crono/pkg/requestcontext"
)

const (
	defaultLiveTTL   = 5 * time.Second
	defaultDetailTTL = 30 * time.Second
)

// Query selects one classification variant.
type Query struct {
	StageID              id.StageID
	CategoryID           id.CategoryID // nil UUID means no filter
	IncludeNonClassified bool          // enduro only
	Detail               bool
}

// Result is one computed classification. Exactly one of Circuit and Enduro
// is populated, matching the stage's modality.
type Result struct {
	StageID     id.StageID    `json:"stageId"`
	Modality    id.Modality   `json:"modality"`
	Phase       id.RacePhase  `json:"phase"`
	GeneratedAt time.Time     `json:"generatedAt"`
	Circuit     []circuit.Row `json:"circuit,omitempty"`
	Enduro      []enduro.Row  `json:"enduro,omitempty"`
}

// Service computes and caches classifications.
type Service struct {
	stages   stagestore.Store
	readings ingeststore.Store
	registry registry.Store

	cache   cache.Cache
	logger  *slog.Logger
	metrics *classifymetrics.Metrics
	tracer  trace.Tracer

	liveTTL   time.Duration
	detailTTL time.Duration
}

type serviceConfig struct {
	cache     cache.Cache
	logger    *slog.Logger
	metrics   *classifymetrics.Metrics
	liveTTL   time.Duration
	detailTTL time.Duration
}

// Option customizes the service.
type Option func(*serviceConfig)

// WithCache sets the result cache tier. Without it results are recomputed on
// every read.
func WithCache(c cache.Cache) Option {
	return func(cfg *serviceConfig) { cfg.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = l }
}

func WithMetrics(m *classifymetrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
}

// WithTTLs overrides the live and detail cache lifetimes.
func WithTTLs(live, detail time.Duration) Option {
	return func(cfg *serviceConfig) {
		cfg.liveTTL = live
		cfg.detailTTL = detail
	}
}

func New(stages stagestore.Store, readings ingeststore.Store, reg registry.Store, opts ...Option) *Service {
	cfg := &serviceConfig{
		liveTTL:   defaultLiveTTL,
		detailTTL: defaultDetailTTL,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Service{
		stages:    stages,
		readings:  readings,
		registry:  reg,
		cache:     cfg.cache,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		tracer:    otel.Tracer("crono/classify"),
		liveTTL:   cfg.liveTTL,
		detailTTL: cfg.detailTTL,
	}
}

// Classification serves the query read-through: cached payload when fresh,
// otherwise a recomputation whose result is cached for the next reader. A
// failed recomputation never evicts the previous entry.
func (s *Service) Classification(ctx context.Context, q Query) ([]byte, error) {
	if s.cache != nil {
		if payload, ok := s.cache.Get(ctx, s.cacheKey(q)); ok {
			s.metrics.CacheHit()
			return payload, nil
		}
		s.metrics.CacheMiss()
	}

	result, err := s.Compute(ctx, q)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize classification")
	}

	if s.cache != nil {
		ttl := s.liveTTL
		if q.Detail {
			ttl = s.detailTTL
		}
		s.cache.Set(ctx, s.cacheKey(q), payload, ttl)
	}
	return payload, nil
}

// Compute recomputes the classification from a fresh snapshot, bypassing the
// cache. The snapshot is taken once; the engines never touch the stores.
func (s *Service) Compute(ctx context.Context, q Query) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "classify.Compute",
		trace.WithAttributes(attribute.String("stage_id", q.StageID.String())))
	defer span.End()

	started := time.Now()

	st, err := s.stages.FindByID(ctx, q.StageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Result{}, dErrors.New(dErrors.CodeNotFound, "stage not found")
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stage")
	}

	readings, err := s.readings.ListAccepted(ctx, q.StageID)
	if err != nil {
		s.metrics.RecomputeFailed(st.Modality.String())
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot readings")
	}
	regs, err := s.registry.ListByStage(ctx, q.StageID)
	if err != nil {
		s.metrics.RecomputeFailed(st.Modality.String())
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registrations")
	}

	result := Result{
		StageID:     st.ID,
		Modality:    st.Modality,
		Phase:       st.Phase,
		GeneratedAt: requestcontext.Now(ctx),
	}
	switch st.Modality {
	case id.ModalityCircuit:
		result.Circuit = filterCircuit(circuit.Classify(st, readings, regs, q.Detail), q.CategoryID)
	case id.ModalityEnduro:
		result.Enduro = filterEnduro(enduro.Classify(st, readings, regs, q.IncludeNonClassified, q.Detail), q.CategoryID)
	default:
		return Result{}, dErrors.Newf(dErrors.CodeInternal, "stage has unknown modality %q", st.Modality)
	}

	s.metrics.ObserveRecompute(st.Modality.String(), time.Since(started))
	span.SetAttributes(attribute.String("modality", st.Modality.String()))
	return result, nil
}

// Invalidate drops every cached variant of the stage. Called after any
// accepted, corrected, discarded or restored reading.
func (s *Service) Invalidate(ctx context.Context, stageID id.StageID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, stageID)
	}
}

func (s *Service) cacheKey(q Query) cache.Key {
	return cache.Key{
		StageID:              q.StageID,
		CategoryID:           q.CategoryID,
		IncludeNonClassified: q.IncludeNonClassified,
		Detail:               q.Detail,
	}
}

// Category filtering narrows the display without re-ranking: positions and
// gaps keep their overall-classification values.
func filterCircuit(rows []circuit.Row, cat id.CategoryID) []circuit.Row {
	if cat.IsNil() {
		return rows
	}
	out := make([]circuit.Row, 0, len(rows))
	for _, r := range rows {
		if r.CategoryID == cat {
			out = append(out, r)
		}
	}
	return out
}

func filterEnduro(rows []enduro.Row, cat id.CategoryID) []enduro.Row {
	if cat.IsNil() {
		return rows
	}
	out := make([]enduro.Row, 0, len(rows))
	for _, r := range rows {
		if r.CategoryID == cat {
			out = append(out, r)
		}
	}
	return out
}
