package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-chat/internal/config"
	"github.com/noah-isme/gema-chat/internal/handler"
	"github.com/noah-isme/gema-chat/internal/middleware"
	"github.com/noah-isme/gema-chat/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoomHandler *handler.RoomHandler
	ChatHandler *handler.ChatHandler
	StorePinger handler.StorePinger
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.StorePinger))

	rooms := api.Group("/rooms")
	if deps.RoomHandler != nil {
		deps.RoomHandler.Register(rooms, middleware.RateLimit("rooms:create", cfg.RoomCreateLimit, time.Minute))
	}
	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(rooms)
	}
}
