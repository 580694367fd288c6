package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CronAuthMiddleware gates the finalization sweep endpoint behind a shared
// secret. When CRON_SECRET is unset the gate is open — deployments that rely
// on network-level protection can skip the secret.
func CronAuthMiddleware() fiber.Handler {
	expectedSecret := os.Getenv("CRON_SECRET")
	if expectedSecret == "" {
		log.Println("⚠️  CRON_SECRET not set — cron endpoint is unauthenticated")
	}

	return func(c *fiber.Ctx) error {
		if expectedSecret == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			log.Printf("🚫 [CRON_AUTH] Missing Authorization header for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "cron authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			// no "Bearer " prefix — try raw value
			token = authHeader
		}

		if token != expectedSecret {
			log.Printf("❌ [CRON_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "invalid cron authentication token",
			})
		}

		return c.Next()
	}
}
