package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"crono/internal/domain"
	"crono/internal/transport/http/shared"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
	"crono/pkg/requestcontext"
)

// Service defines the race-control actions the handler needs.
type Service interface {
	Start(ctx context.Context, stageID id.StageID, explicitTime *time.Time) (domain.Stage, error)
	ShowFlag(ctx context.Context, stageID id.StageID, explicitTime *time.Time) (domain.Stage, error)
	Finish(ctx context.Context, stageID id.StageID) (domain.Stage, error)
}

// Handler exposes race-control actions behind the admin token.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts race-control endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/stages/{stageID}/start", h.HandleStart)
	r.Post("/stages/{stageID}/flag", h.HandleFlag)
	r.Post("/stages/{stageID}/finish", h.HandleFinish)
}

// actionRequest optionally carries the official action timestamp.
type actionRequest struct {
	Time *string `json:"time,omitempty"`
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, "start", func(ctx context.Context, stageID id.StageID, at *time.Time) (domain.Stage, error) {
		return h.service.Start(ctx, stageID, at)
	})
}

func (h *Handler) HandleFlag(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, "flag", func(ctx context.Context, stageID id.StageID, at *time.Time) (domain.Stage, error) {
		return h.service.ShowFlag(ctx, stageID, at)
	})
}

func (h *Handler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, "finish", func(ctx context.Context, stageID id.StageID, _ *time.Time) (domain.Stage, error) {
		return h.service.Finish(ctx, stageID)
	})
}

type actionFunc func(ctx context.Context, stageID id.StageID, at *time.Time) (domain.Stage, error)

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, action string, fn actionFunc) {
	ctx := r.Context()

	stageID, err := id.ParseStageID(chi.URLParam(r, "stageID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var explicit *time.Time
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	if req.Time != nil {
		ts, err := time.Parse(time.RFC3339Nano, *req.Time)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "time must be RFC 3339"))
			return
		}
		explicit = &ts
	}

	st, err := fn(ctx, stageID, explicit)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(ctx, "race control action failed",
				"request_id", requestcontext.RequestID(ctx),
				"action", action,
				"stage_id", stageID,
				"error", err,
			)
		}
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, stageResponse{
		StageID:    st.ID.String(),
		Phase:      st.Phase.String(),
		StartedAt:  formatTime(st.StartedAt),
		FlagAt:     formatTime(st.FlagAt),
		FinishedAt: formatTime(st.FinishedAt),
	})
}

type stageResponse struct {
	StageID    string `json:"stageId"`
	Phase      string `json:"phase"`
	StartedAt  string `json:"startedAt,omitempty"`
	FlagAt     string `json:"flagAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
