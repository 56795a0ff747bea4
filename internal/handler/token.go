package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
	"github.com/sunshine-walker-93/edge_config_admin/internal/preview"
)

// TokenHandler handles preview token API requests and serves previews.
type TokenHandler struct {
	stores *config.Registry
	logger *zap.Logger
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(stores *config.Registry, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{
		stores: stores,
		logger: logger,
	}
}

// ListTokens returns every preview token, expired ones included.
// GET /api/v1/tokens
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	tokens, err := store.ListTokens(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"tokens": tokens})
}

// CreateToken issues a preview token for a version.
// POST /api/v1/token
func (h *TokenHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req config.CreateTokenRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, err := store.CreateToken(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]interface{}{"token": token})
}

// DeleteToken removes a preview token. Unknown tokens succeed too.
// DELETE /api/v1/token/{token}
func (h *TokenHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token := chi.URLParam(r, "token")
	if err := store.DeleteToken(r.Context(), token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"token": token, "deleted": true})
}

// Preview renders the version bound to a token.
// GET /api/v1/preview/{token}/*
func (h *TokenHandler) Preview(w http.ResponseWriter, r *http.Request) {
	store, err := storeFor(h.stores, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := preview.NewResolver(store).Resolve(r.Context(), chi.URLParam(r, "token"), chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(page.HTML); err != nil {
		h.logger.Warn("failed to write preview", zap.Error(err))
	}
}
