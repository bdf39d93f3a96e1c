package cron_feature

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type CronController struct {
	Service CronService
}

func NewCronController(service CronService) *CronController {
	return &CronController{
		Service: service,
	}
}

// ListCronJobs returns the registered jobs with their last and next runs.
// GET /api/cron-jobs
func (c *CronController) ListCronJobs(ctx *fiber.Ctx) error {
	return ctx.JSON(c.Service.ListCronJobs())
}

// ExecuteCronJob runs a job immediately.
// POST /api/cron-jobs/:name/execute
func (c *CronController) ExecuteCronJob(ctx *fiber.Ctx) error {
	name := ctx.Params("name")
	if err := c.Service.ExecuteCronJob(ctx.UserContext(), name); err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(fiber.Map{"message": "Cron job executed"})
}

// GetCronJobLogs returns the most recent runs of a job.
// GET /api/cron-jobs/:name/logs?limit=50
func (c *CronController) GetCronJobLogs(ctx *fiber.Ctx) error {
	logs, err := c.Service.GetCronJobLogs(ctx.UserContext(), ctx.Params("name"), ctx.QueryInt("limit", 50))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(logs)
}
