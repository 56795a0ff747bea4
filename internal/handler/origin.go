package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
)

// OriginHandler handles the origin override.
type OriginHandler struct {
	stores *config.Registry
	logger *zap.Logger
}

// NewOriginHandler creates a new OriginHandler.
func NewOriginHandler(stores *config.Registry, logger *zap.Logger) *OriginHandler {
	return &OriginHandler{
		stores: stores,
		logger: logger,
	}
}

type originRequest struct {
	Origin *string `json:"origin"`
}

// GetOrigin returns the override, or null.
// GET /api/v1/origin
func (h *OriginHandler) GetOrigin(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	origin, err := store.GetOrigin(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"origin": origin})
}

// SetOrigin stores the override. A missing or blank origin clears it.
// POST /api/v1/origin
func (h *OriginHandler) SetOrigin(w http.ResponseWriter, r *http.Request) {
	var req originRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	value := ""
	if req.Origin != nil {
		value = *req.Origin
	}
	origin, err := store.SetOrigin(r.Context(), value, operator(r, ""))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"origin": origin})
}

// ClearOrigin removes the override.
// DELETE /api/v1/origin
func (h *OriginHandler) ClearOrigin(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := store.ClearOrigin(r.Context(), operator(r, "")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"origin": nil})
}
