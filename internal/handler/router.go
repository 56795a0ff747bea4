package handler

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
)

// Mount registers every configuration route on r. It is mounted once for the
// default namespace and once under /ns/{namespace}.
func Mount(r chi.Router, stores *config.Registry, logger *zap.Logger) {
	versionHandler := NewVersionHandler(stores, logger)
	tokenHandler := NewTokenHandler(stores, logger)
	originHandler := NewOriginHandler(stores, logger)
	historyHandler := NewHistoryHandler(stores, logger)

	register := func(r chi.Router) {
		// Active, draft and versions
		r.Get("/active", versionHandler.GetActive)
		r.Get("/draft", versionHandler.GetDraft)
		r.Delete("/draft", versionHandler.DiscardDraft)
		r.Post("/plan", versionHandler.SaveDraft)
		r.Post("/promote", versionHandler.Promote)
		r.Post("/rollback", versionHandler.Rollback)
		r.Get("/versions", versionHandler.ListVersions)
		r.Get("/versions/{id}", versionHandler.GetVersion)
		r.Post("/simulate", versionHandler.Simulate)
		r.Post("/validate", versionHandler.Validate)

		// Preview tokens
		r.Get("/tokens", tokenHandler.ListTokens)
		r.Post("/token", tokenHandler.CreateToken)
		r.Delete("/token/{token}", tokenHandler.DeleteToken)
		r.Get("/preview/{token}", tokenHandler.Preview)
		r.Get("/preview/{token}/*", tokenHandler.Preview)

		// Origin override
		r.Get("/origin", originHandler.GetOrigin)
		r.Post("/origin", originHandler.SetOrigin)
		r.Delete("/origin", originHandler.ClearOrigin)

		// Configuration history
		r.Get("/history", historyHandler.ListHistory)
	}

	register(r)
	r.Route("/ns/{namespace}", register)
}
