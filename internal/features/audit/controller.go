package audit

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type AuditController struct {
	Service AuditService
}

func NewAuditController(service AuditService) *AuditController {
	return &AuditController{Service: service}
}

func paging(c *fiber.Ctx) (int64, int64) {
	page, _ := strconv.ParseInt(c.Query("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.Query("limit", "20"), 10, 64)
	return page, limit
}

// ListLogs filters by module (entity type), record_id, source, action and event_id.
func (ctrl *AuditController) ListLogs(c *fiber.Ctx) error {
	page, limit := paging(c)

	filters := make(map[string]interface{})
	for _, key := range []string{"module", "record_id", "source", "action", "event_id"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}

	logs, err := ctrl.Service.ListLogs(c.UserContext(), filters, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(logs)
}

// ListDecisions filters by entity, outcome and event_id.
func (ctrl *AuditController) ListDecisions(c *fiber.Ctx) error {
	page, limit := paging(c)

	filters := make(map[string]interface{})
	for _, key := range []string{"entity", "outcome", "event_id"} {
		if v := c.Query(key); v != "" {
			filters[key] = v
		}
	}

	decisions, err := ctrl.Service.ListDecisions(c.UserContext(), filters, page, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(decisions)
}
