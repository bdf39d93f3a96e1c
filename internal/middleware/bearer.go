package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// BearerKeyMiddleware only lets through requests whose Authorization header
// carries key, as "Bearer <key>" or "token <key>".
func BearerKeyMiddleware(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := strings.TrimSpace(c.Get("Authorization"))
		got := header
		for _, prefix := range []string{"Bearer ", "bearer ", "token "} {
			if strings.HasPrefix(header, prefix) {
				got = strings.TrimSpace(header[len(prefix):])
				break
			}
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"detail": "Unauthorized key",
			})
		}
		return c.Next()
	}
}
