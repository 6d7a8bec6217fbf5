package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crono/internal/device"
	"crono/internal/transport/http/shared"
	id "crono/pkg/domain"
	dErrors "crono/pkg/domain-errors"
)

// Handler exposes collector provisioning behind the admin token.
type Handler struct {
	service *device.Service
	logger  *slog.Logger
}

func New(svc *device.Service, logger *slog.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// Register mounts device endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/devices", h.HandleProvision)
	r.Post("/devices/{deviceID}/deactivate", h.HandleDeactivate)
}

type provisionRequest struct {
	Name     string   `json:"name"`
	StageIDs []string `json:"stageIds"`
}

type provisionResponse struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	// Key is returned exactly once; only its hash is stored.
	Key string `json:"key"`
}

// HandleProvision handles POST /devices.
func (h *Handler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	stageIDs := make([]id.StageID, 0, len(req.StageIDs))
	for _, raw := range req.StageIDs {
		stageID, err := id.ParseStageID(raw)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		stageIDs = append(stageIDs, stageID)
	}

	d, key, err := h.service.Provision(ctx, req.Name, stageIDs)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "collector device provisioned", "device_id", d.ID, "name", d.Name)
	shared.WriteJSON(w, http.StatusCreated, provisionResponse{
		DeviceID: d.ID.String(),
		Name:     d.Name,
		Key:      key,
	})
}

// HandleDeactivate handles POST /devices/{deviceID}/deactivate.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID, err := id.ParseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.service.Deactivate(ctx, deviceID); err != nil {
		shared.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "collector device deactivated", "device_id", deviceID)
	w.WriteHeader(http.StatusNoContent)
}
