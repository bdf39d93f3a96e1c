package sync

import (
	"go-hermes/internal/common/api"
	"go-hermes/internal/config"
	"go-hermes/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type SyncApi struct {
	controller *SyncController
	config     *config.Config
}

func NewSyncApi(controller *SyncController, config *config.Config) api.Route {
	return &SyncApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers the manual resync and sync log routes
func (h *SyncApi) Setup(app *fiber.App) {
	syncGroup := app.Group("/api/sync", middleware.AuthMiddleware(h.config.SkipAuth))

	syncGroup.Get("/logs", h.controller.ListSyncLogs)
	syncGroup.Post("/:entity/:id", h.controller.ResyncEntity)
}
