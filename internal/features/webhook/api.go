package webhook

import (
	"go-hermes/internal/common/api"
	"go-hermes/internal/config"
	"go-hermes/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type WebhookApi struct {
	controller *WebhookController
	config     *config.Config
}

func NewWebhookApi(controller *WebhookController, config *config.Config) api.Route {
	return &WebhookApi{
		controller: controller,
		config:     config,
	}
}

func (h *WebhookApi) Setup(app *fiber.App) {
	systemA := app.Group("/systema", middleware.BearerKeyMiddleware(h.config.SystemA.APIKey))
	systemA.Post("/callback", h.controller.SystemACallback)
	systemA.Post("/companies/create", h.controller.CreateCompany)
	app.Post("/crm/callback", h.controller.CRMCallback)

	callbooker := app.Group("/callbooker")
	callbooker.Post("/sales/book", h.controller.BookSalesCall)
	callbooker.Post("/support/book", h.controller.BookSupportCall)

	logs := app.Group("/api/webhook-logs", middleware.AuthMiddleware(h.config.SkipAuth))
	logs.Get("/", h.controller.ListLogs)
}
