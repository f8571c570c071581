package middleware

import (
	"github.com/gofiber/fiber/v2"

	"appraisalstudio_backend/internal/usage"
	"appraisalstudio_backend/pkg/entitlement"
	"appraisalstudio_backend/pkg/utils/jwt"
)

// CheckGenerationLimit fast-fails a generation request when the account is
// already at its cap, before the expensive external call. The usage tracker
// re-checks against the latest record at commit time; this is only the cheap
// first gate.
func CheckGenerationLimit(tracker *usage.Tracker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := c.Locals("user").(*jwt.Claims)

		user, err := tracker.GetOrCreate(claims.UserID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}

		if !entitlement.CanGenerate(user) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":            "You have reached your generation limit. Please upgrade your plan.",
				"upgrade_required": true,
				"remaining":        0,
			})
		}

		return c.Next()
	}
}
