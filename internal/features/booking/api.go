package booking

import (
	"go-hermes/internal/common/api"
	"go-hermes/internal/config"
	"go-hermes/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type BookingApi struct {
	controller *BookingController
	config     *config.Config
}

func NewBookingApi(controller *BookingController, config *config.Config) api.Route {
	return &BookingApi{
		controller: controller,
		config:     config,
	}
}

func (h *BookingApi) Setup(app *fiber.App) {
	links := app.Group("/callbooker/support-link")
	links.Get("/generate/systema", middleware.BearerKeyMiddleware(h.config.SystemA.APIKey), h.controller.GenerateSupportLink)
	links.Get("/validate", h.controller.ValidateSupportLink)

	roundRobin := app.Group("/choose-roundrobin")
	roundRobin.Get("/sales", h.controller.ChooseSalesPerson)
	roundRobin.Get("/support", h.controller.ChooseSupportPerson)

	companies := app.Group("/api/companies", middleware.AuthMiddleware(h.config.SkipAuth))
	companies.Get("/", h.controller.FindCompanies)
}
