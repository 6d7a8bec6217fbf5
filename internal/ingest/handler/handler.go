// Package handler exposes the reading gate over HTTP. Submission endpoints
// sit behind device authentication; the correction lifecycle sits behind the
// admin token.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crono/internal/ingest"
	"crono/internal/transport/http/shared"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/requestcontext"
)

// Service defines the gate operations the handler needs.
type Service interface {
	Submit(ctx context.Context, sub ingest.Submission) (ingest.Outcome, error)
	SubmitBatch(ctx context.Context, batch ingest.Batch) (ingest.BatchResult, error)
	Correct(ctx context.Context, c ingest.Correction) (ingest.Outcome, error)
	Discard(ctx context.Context, readingID id.ReadingID, reason string) (ingest.Outcome, error)
	Restore(ctx context.Context, readingID id.ReadingID) (ingest.Outcome, error)
}

// Handler wires ingest endpoints to the gate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterCollector mounts the device-facing submission endpoints. The
// router must already run device authentication.
func (h *Handler) RegisterCollector(r chi.Router) {
	r.Post("/readings", h.HandleSubmit)
	r.Post("/readings/batch", h.HandleSubmitBatch)
}

// RegisterAdmin mounts the correction lifecycle endpoints behind the admin
// token.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Patch("/readings/{readingID}", h.HandleCorrect)
	r.Post("/readings/{readingID}/discard", h.HandleDiscard)
	r.Post("/readings/{readingID}/restore", h.HandleRestore)
}

// HandleSubmit handles POST /readings.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	sub, err := req.toSubmission(requestcontext.DeviceID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	out, err := h.service.Submit(ctx, sub)
	if err != nil {
		h.logError(ctx, "reading submission failed", err)
		shared.WriteError(w, err)
		return
	}
	// Duplicates and gate rejections are defined protocol outcomes carried
	// in the body; collectors drain their queues without retry storms.
	shared.WriteJSON(w, http.StatusOK, out)
}

// HandleSubmitBatch handles POST /readings/batch.
func (h *Handler) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	stageID, err := id.ParseStageID(req.StageID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	deviceID := requestcontext.DeviceID(ctx)
	batch := ingest.Batch{DeviceID: deviceID, StageID: stageID}
	for _, item := range req.Readings {
		sub, err := item.toSubmission(deviceID)
		if err != nil {
			// Malformed items surface per-item, not as a batch failure.
			batch.Readings = append(batch.Readings, ingest.Submission{})
			continue
		}
		batch.Readings = append(batch.Readings, sub)
	}

	result, err := h.service.SubmitBatch(ctx, batch)
	if err != nil {
		h.logError(ctx, "batch submission failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

// HandleCorrect handles PATCH /readings/{readingID}.
func (h *Handler) HandleCorrect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	readingID, err := id.ParseReadingID(chi.URLParam(r, "readingID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	c, err := req.toCorrection(readingID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	out, err := h.service.Correct(ctx, c)
	if err != nil {
		h.logError(ctx, "reading correction failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

// HandleDiscard handles POST /readings/{readingID}/discard.
func (h *Handler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	readingID, err := id.ParseReadingID(chi.URLParam(r, "readingID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req discardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}

	out, err := h.service.Discard(ctx, readingID, req.Reason)
	if err != nil {
		h.logError(ctx, "reading discard failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

// HandleRestore handles POST /readings/{readingID}/restore.
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	readingID, err := id.ParseReadingID(chi.URLParam(r, "readingID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	out, err := h.service.Restore(ctx, readingID)
	if err != nil {
		h.logError(ctx, "reading restore failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) logError(ctx context.Context, msg string, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
