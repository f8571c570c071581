package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/account"
	"appraisalstudio_backend/pkg/utils/jwt"
)

type AccountController struct {
	projector *account.Projector
}

func NewAccountController(projector *account.Projector) *AccountController {
	return &AccountController{projector: projector}
}

func (ac *AccountController) GetSummary(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	summary, err := ac.projector.Project(claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "User not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not build account summary",
		})
	}

	return c.JSON(summary)
}
