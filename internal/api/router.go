package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/deployflow/engine/internal/api/handlers"
	mw "github.com/deployflow/engine/internal/api/middleware"
	"github.com/deployflow/engine/internal/metrics"
)

type Dependencies struct {
	HMACSecret []byte
	CORSOrigin string
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        *metrics.Metrics

	HealthHandler      *handlers.HealthHandler
	AuthHandler        *handlers.AuthHandler
	CatalogHandler     *handlers.CatalogHandler
	FlowsHandler       *handlers.FlowsHandler
	DeploymentsHandler *handlers.DeploymentsHandler
	WSHandler          *handlers.WSHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(dep.Metrics.Middleware)
	r.Use(mw.CORS(dep.CORSOrigin))
	if dep.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(dep.RateLimitRPS, dep.RateLimitBurst))
	}
	r.Use(chimid.Compress(5))

	// Health and metrics
	r.Get("/healthz", dep.HealthHandler.Liveness)
	r.Get("/readyz", dep.HealthHandler.Readiness)
	r.Method(http.MethodGet, "/metrics", dep.Metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		// Auth routes (public)
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/register", dep.AuthHandler.Register)
			ar.Post("/login", dep.AuthHandler.Login)
			ar.Post("/logout", dep.AuthHandler.Logout)
		})

		// Protected routes
		api.Group(func(protected chi.Router) {
			protected.Use(mw.Auth(dep.HMACSecret))

			protected.Get("/catalog", dep.CatalogHandler.Get)
			protected.Get("/deployments/{deploymentID}", dep.DeploymentsHandler.Get)

			protected.Route("/flows", func(fr chi.Router) {
				fr.Get("/", dep.FlowsHandler.List)
				fr.Post("/", dep.FlowsHandler.Create)
				fr.Post("/import", dep.FlowsHandler.Import)

				fr.Route("/{id}", func(f chi.Router) {
					f.Get("/", dep.FlowsHandler.Get)
					f.Put("/", dep.FlowsHandler.Update)
					f.Delete("/", dep.FlowsHandler.Delete)
					f.Post("/save", dep.FlowsHandler.Save)
					f.Get("/versions", dep.FlowsHandler.Versions)
					f.Get("/versions/{version}", dep.FlowsHandler.Version)
					f.Post("/versions/{version}/restore", dep.FlowsHandler.RestoreVersion)
					f.Get("/export", dep.FlowsHandler.Export)
					f.Get("/ws", dep.WSHandler.Stream)

					// Graph edits
					f.Post("/nodes", dep.FlowsHandler.InsertNode)
					f.Delete("/nodes/{nodeID}", dep.FlowsHandler.RemoveNode)
					f.Put("/nodes/{nodeID}/position", dep.FlowsHandler.MoveNode)
					f.Put("/nodes/{nodeID}/config", dep.FlowsHandler.ConfigureNode)
					f.Put("/selection", dep.FlowsHandler.Select)
					f.Post("/connections", dep.FlowsHandler.AddConnection)
					f.Delete("/connections/{connID}", dep.FlowsHandler.RemoveConnection)

					// Deployments
					f.Post("/deployments", dep.DeploymentsHandler.Create)
					f.Get("/deployments", dep.DeploymentsHandler.List)
					f.Post("/reset", dep.DeploymentsHandler.Reset)
				})
			})
		})
	})

	return r
}
