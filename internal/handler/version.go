package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

// VersionHandler handles active, draft and version API requests.
type VersionHandler struct {
	stores *config.Registry
	logger *zap.Logger
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(stores *config.Registry, logger *zap.Logger) *VersionHandler {
	return &VersionHandler{
		stores: stores,
		logger: logger,
	}
}

// GetActive returns the active version.
// GET /api/v1/active
func (h *VersionHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	active, err := store.GetActive(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"active": active})
}

// GetDraft returns the draft, or null when there is none.
// GET /api/v1/draft
func (h *VersionHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	draft, err := store.GetDraft(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"draft": draft})
}

// SaveDraft replaces the draft.
// POST /api/v1/plan
func (h *VersionHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var req config.SaveDraftRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	req.PromotedBy = operator(r, req.PromotedBy)

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	draft, err := store.SaveDraft(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"draft": draft})
}

// DiscardDraft empties the draft slot.
// DELETE /api/v1/draft
func (h *VersionHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := store.DiscardDraft(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"draft": nil})
}

// Promote promotes the draft, or a stored version when versionId is given.
// POST /api/v1/promote
func (h *VersionHandler) Promote(w http.ResponseWriter, r *http.Request) {
	var req config.PromoteRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, h.logger, err)
		return
	}
	req.PromotedBy = operator(r, req.PromotedBy)

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	active, err := store.Promote(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"active": active})
}

// Rollback re-activates a stored version.
// POST /api/v1/rollback
func (h *VersionHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req config.RollbackRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}
	req.PromotedBy = operator(r, req.PromotedBy)

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	active, err := store.Rollback(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"active": active})
}

// ListVersions returns all stored versions, newest plan first.
// GET /api/v1/versions
func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	versions, err := store.ListVersions(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"versions": versions})
}

// GetVersion returns a single stored version.
// GET /api/v1/versions/{id}
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	version, err := store.GetVersion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"version": version})
}

// Simulate diffs a proposed plan against a baseline version.
// POST /api/v1/simulate
func (h *VersionHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req config.SimulateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := store.Simulate(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

type validateRequest struct {
	Rules []rule.Rule `json:"rules"`
}

// Validate checks a rule set without storing it.
// POST /api/v1/validate
func (h *VersionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	problems := rule.Validate(req.Rules)
	if problems == nil {
		problems = []rule.Problem{}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}
