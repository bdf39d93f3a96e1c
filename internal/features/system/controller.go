package system

import (
	"context"
	"time"

	"go-hermes/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

type SystemController struct {
	checks map[string]Pinger
}

func NewSystemController(checks map[string]Pinger) *SystemController {
	return &SystemController{checks: checks}
}

// Health reports ok when every dependency answers.
// GET /health
func (c *SystemController) Health(ctx *fiber.Ctx) error {
	pingCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	checks := fiber.Map{}
	for name, p := range c.checks {
		if err := p.Ping(pingCtx); err != nil {
			checks[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != fiber.StatusOK {
		state = "degraded"
	}
	return ctx.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": checks,
	})
}

// GetCurrentOperator returns the claims of the calling operator token.
// GET /api/debug/me
func (c *SystemController) GetCurrentOperator(ctx *fiber.Ctx) error {
	claims, _ := ctx.Locals(utils.OperatorClaimsKey).(*utils.OperatorClaims)
	if claims == nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "No claims"})
	}
	out := fiber.Map{
		"operator": claims.Operator(),
		"scopes":   claims.Scopes,
	}
	if claims.ExpiresAt != nil {
		out["expires_at"] = claims.ExpiresAt.Time
	}
	return ctx.JSON(out)
}
