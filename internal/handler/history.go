package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
)

// HistoryHandler handles configuration history API requests.
type HistoryHandler struct {
	stores *config.Registry
	logger *zap.Logger
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(stores *config.Registry, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		stores: stores,
		logger: logger,
	}
}

// ListHistory returns the namespace's change history, newest first.
// GET /api/v1/history?limit=10&offset=0
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50 // default limit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsedLimit, err := strconv.Atoi(limitParam); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	offset := 0
	if offsetParam := r.URL.Query().Get("offset"); offsetParam != "" {
		if parsedOffset, err := strconv.Atoi(offsetParam); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	items, total, err := store.ListHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}
