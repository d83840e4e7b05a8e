package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/callbridge/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health   *handlers.HealthHandler
	Auth     *handlers.AuthHandler
	Calls    *handlers.CallsHandler
	Drafts   *handlers.DraftsHandler
	Sessions *handlers.SessionsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/health/stats", cfg.Health.Stats)

	authGroup := app.Group("/auth")
	authGroup.Post("/token", cfg.Auth.IssueToken)

	api := app.Group("/api")
	api.Post("/calls/transcribed", cfg.Calls.Transcribed)
	api.Get("/drafts/pending", cfg.Drafts.ListPending)
	api.Get("/drafts/:id", cfg.Drafts.Get)
	api.Post("/drafts/:id/confirm", cfg.Drafts.Confirm)
	api.Post("/drafts/:id/cancel", cfg.Drafts.Cancel)
	api.Get("/sessions", cfg.Sessions.List)
}
