package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"voltcrm/models"
)

// TriggerRateLimiter throttles the manual worker triggers and backfill
// runs. The endpoints are safe to re-run, but hammering them just makes the
// workers contend on the same claims.
func TriggerRateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			user := c.Locals("user").(*models.User)
			return fmt.Sprintf("trigger:%d:%s", user.ID, c.Path())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many trigger requests. Please wait before retrying.",
				"retry_after": "1 minute",
			})
		},
	})
}
