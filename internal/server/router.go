// Package server exposes the version control engine's operation surface
// over REST for the UI and CLI collaborators.
package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/promptpilot/promptpilot/internal/cache"
	"github.com/promptpilot/promptpilot/internal/engine"
	"github.com/promptpilot/promptpilot/internal/syncer"
)

// BasePath is the API base path.
const BasePath = "/api/promptpilot/v1alpha1"

// Router builds the HTTP router over the engine, sync manager, and cache
// store.
func Router(e *engine.Engine, m *syncer.Manager, store *cache.Store) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", HealthHandler())

	r.Route(BasePath, func(api chi.Router) {
		api.Get("/groups", ListGroupsHandler(e))
		api.Post("/groups", CreateGroupHandler(e))
		api.Get("/groups/{groupId}", GetGroupHandler(e))
		api.Patch("/groups/{groupId}", UpdateGroupHandler(e))
		api.Delete("/groups/{groupId}", DeleteGroupHandler(e))
		api.Get("/groups/{groupId}/versions", ListVersionsHandler(e))
		api.Post("/groups/{groupId}/versions", AddVersionHandler(e))

		api.Get("/versions/recent", RecentVersionsHandler(e))
		api.Get("/versions/{versionId}", GetVersionHandler(e))
		api.Patch("/versions/{versionId}", UpdateVersionHandler(e))
		api.Delete("/versions/{versionId}", DeleteVersionHandler(e))
		api.Post("/versions/{versionId}:status", SetVersionStatusHandler(e))
		api.Post("/versions/{versionId}:duplicate", DuplicateVersionHandler(e))

		api.Get("/search", SearchHandler(e))
		api.Get("/storage", StorageHandler(store))
		api.Get("/sync/status", SyncStatusHandler(m))
	})

	return r
}
