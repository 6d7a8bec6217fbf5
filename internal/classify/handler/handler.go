package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crono/internal/classify/service"
	"crono/internal/transport/http/shared"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/requestcontext"
)

// Service defines the classification operations the handler needs.
type Service interface {
	Classification(ctx context.Context, q service.Query) ([]byte, error)
}

// Handler serves classification queries.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts classification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/stages/{stageID}/classification", h.HandleClassification)
}

// HandleClassification handles GET /stages/{stageID}/classification.
// Query parameters: category (UUID), includeNonClassified (bool), detail
// (bool).
func (h *Handler) HandleClassification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stageID, err := id.ParseStageID(chi.URLParam(r, "stageID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	q := service.Query{
		StageID:              stageID,
		IncludeNonClassified: r.URL.Query().Get("includeNonClassified") == "true",
		Detail:               r.URL.Query().Get("detail") == "true",
	}
	if raw := r.URL.Query().Get("category"); raw != "" {
		catID, err := id.ParseCategoryID(raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid category id"))
			return
		}
		q.CategoryID = catID
	}

	payload, err := h.service.Classification(ctx, q)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "classification query failed",
				"request_id", requestcontext.RequestID(ctx),
				"stage_id", stageID,
				"error", err,
			)
		}
		shared.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
