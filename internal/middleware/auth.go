package middleware

import (
	"context"
	"strings"

	"go-hermes/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates the operator JWT, requires the admin scope and
// stores the claims both in the fiber locals and in the user context, where
// the audit log reads the actor.
func AuthMiddleware(skipAuth bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if skipAuth {
			return withClaims(c, &utils.OperatorClaims{
				Scopes:           []string{utils.ScopeAdmin},
				RegisteredClaims: jwt.RegisteredClaims{Subject: "dev-admin"},
			})
		}

		token, ok := strings.CutPrefix(c.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization header required",
			})
		}

		claims, err := utils.ParseOperatorToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}
		if !claims.HasScope(utils.ScopeAdmin) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Token lacks the admin scope",
			})
		}
		return withClaims(c, claims)
	}
}

func withClaims(c *fiber.Ctx, claims *utils.OperatorClaims) error {
	c.Locals(utils.OperatorClaimsKey, claims)
	c.SetUserContext(context.WithValue(c.UserContext(), utils.OperatorClaimsKey, claims))
	return c.Next()
}
