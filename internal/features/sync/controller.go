package sync

import (
	"errors"
	"strconv"
	"strings"

	"go-hermes/internal/common/models"
	"go-hermes/internal/features/entity"

	"github.com/gofiber/fiber/v2"
)

type SyncController struct {
	Service SyncService
}

func NewSyncController(service SyncService) *SyncController {
	return &SyncController{
		Service: service,
	}
}

// ResyncEntity queues an outbound sync of one entity.
// POST /api/sync/:entity/:id?exclude=crm,systemA
func (ctrl *SyncController) ResyncEntity(c *fiber.Ctx) error {
	t, ok := models.ParseEntityType(c.Params("entity"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown entity type",
		})
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid id",
		})
	}

	var exclude []models.System
	for _, s := range strings.Split(c.Query("exclude"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			exclude = append(exclude, models.System(s))
		}
	}

	task, err := ctrl.Service.DispatchOutboundSync(c.UserContext(), t, id, exclude)
	if errors.Is(err, entity.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Sync queued",
		"data":    task,
	})
}

// ListSyncLogs returns the most recent sync logs.
// GET /api/sync/logs?status=failed&entity=company&id=12&limit=50
func (ctrl *SyncController) ListSyncLogs(c *fiber.Ctx) error {
	filter := LogFilter{
		Status: c.Query("status"),
		TaskID: c.Query("task_id"),
	}
	if e := c.Query("entity"); e != "" {
		t, ok := models.ParseEntityType(e)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown entity type",
			})
		}
		filter.Entity = t
		filter.ID = int64(c.QueryInt("id", 0))
	}

	logs, err := ctrl.Service.ListLogs(c.UserContext(), filter, int64(c.QueryInt("limit", 20)))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": logs,
	})
}
