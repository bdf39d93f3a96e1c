package cron_feature

import (
	"go-hermes/internal/common/api"
	"go-hermes/internal/config"
	"go-hermes/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type CronApi struct {
	cronController *CronController
	config         *config.Config
}

func NewCronApi(cronController *CronController, config *config.Config) api.Route {
	return &CronApi{
		cronController: cronController,
		config:         config,
	}
}

func (h *CronApi) Setup(app *fiber.App) {
	cronJobs := app.Group("/api/cron-jobs", middleware.AuthMiddleware(h.config.SkipAuth))

	cronJobs.Get("/", h.cronController.ListCronJobs)
	cronJobs.Post("/:name/execute", h.cronController.ExecuteCronJob)
	cronJobs.Get("/:name/logs", h.cronController.GetCronJobLogs)
}
