package webhook

import (
	"encoding/json"
	"errors"

	"go-hermes/internal/common/errs"
	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/inbound"

	"github.com/gofiber/fiber/v2"
)

type WebhookController struct {
	Service WebhookService
}

func NewWebhookController(service WebhookService) *WebhookController {
	return &WebhookController{
		Service: service,
	}
}

// SystemACallback receives System A webhook envelopes.
// POST /systema/callback
func (ctrl *WebhookController) SystemACallback(c *fiber.Ctx) error {
	return ctrl.handle(c, models.SystemA, c.Body())
}

// CRMCallback receives CRM webhooks.
// POST /crm/callback
func (ctrl *WebhookController) CRMCallback(c *fiber.Ctx) error {
	return ctrl.handle(c, models.SystemCRM, c.Body())
}

// BookSalesCall receives the sales call booking form.
// POST /callbooker/sales/book
func (ctrl *WebhookController) BookSalesCall(c *fiber.Ctx) error {
	return ctrl.book(c, inbound.CallTypeSales)
}

// BookSupportCall receives the support call booking form.
// POST /callbooker/support/book
func (ctrl *WebhookController) BookSupportCall(c *fiber.Ctx) error {
	return ctrl.book(c, inbound.CallTypeSupport)
}

func (ctrl *WebhookController) book(c *fiber.Ctx, callType string) error {
	var form map[string]any
	if err := json.Unmarshal(c.Body(), &form); err != nil || form == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  StatusError,
			"message": "Invalid request body",
		})
	}
	form["type"] = callType
	raw, err := json.Marshal(form)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  StatusError,
			"message": "Invalid request body",
		})
	}
	return ctrl.handle(c, models.SystemCallbooker, raw)
}

func (ctrl *WebhookController) handle(c *fiber.Ctx, source models.System, raw []byte) error {
	ack, err := ctrl.Service.HandleInboundEvent(c.UserContext(), source, raw)
	if err == nil {
		return c.JSON(ack)
	}

	status := fiber.StatusInternalServerError
	message := "Internal error"
	var booking *errs.BookingError
	switch {
	case errs.IsConcurrencyConflict(err):
		status, message = fiber.StatusConflict, "Busy, retry later"
	case source != models.SystemCallbooker:
	case errors.As(err, &booking):
		status, message = fiber.StatusBadRequest, booking.Reason
	case errs.IsMalformed(err), errs.IsUnresolvedParent(err), errs.IsDuplicateMatch(err), errors.Is(err, entity.ErrNotFound):
		status, message = fiber.StatusBadRequest, err.Error()
	}

	eventID := ""
	if ack != nil {
		eventID = ack.EventID
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   StatusError,
		"message":  message,
		"event_id": eventID,
	})
}

// CreateCompany gets or creates the company of one System A client record.
// POST /systema/companies/create
func (ctrl *WebhookController) CreateCompany(c *fiber.Ctx) error {
	company, err := ctrl.Service.CreateCompany(c.UserContext(), c.Body())
	if err == nil {
		return c.JSON(fiber.Map{
			"status":  StatusOK,
			"company": company,
		})
	}

	status := fiber.StatusInternalServerError
	message := "Internal error"
	switch {
	case errs.IsConcurrencyConflict(err):
		status, message = fiber.StatusConflict, "Busy, retry later"
	case errs.IsMalformed(err), errs.IsDuplicateMatch(err):
		status, message = fiber.StatusUnprocessableEntity, err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"status":  StatusError,
		"message": message,
	})
}

// ListLogs returns recent inbound events.
// GET /api/webhook-logs?source=crm&status=ignored&event_id=...&limit=50
func (ctrl *WebhookController) ListLogs(c *fiber.Ctx) error {
	filter := LogFilter{
		Source:  models.System(c.Query("source")),
		Status:  c.Query("status"),
		EventID: c.Query("event_id"),
	}
	logs, err := ctrl.Service.ListLogs(c.UserContext(), filter, int64(c.QueryInt("limit", 50)))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": logs,
	})
}
