package controller

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/internal/usage"
	"appraisalstudio_backend/pkg/generator"
	"appraisalstudio_backend/pkg/metrics"
	"appraisalstudio_backend/pkg/utils/jwt"
	"appraisalstudio_backend/pkg/utils/storage"
)

type GenerateInput struct {
	ContentType  model.ContentType    `json:"content_type" validate:"required"`
	PropertyData model.PropertyFields `json:"property_data" validate:"required"`
}

type GenerationController struct {
	tracker   *usage.Tracker
	generator generator.Generator
	storage   *storage.Storage // nil disables exports
}

func NewGenerationController(tracker *usage.Tracker, gen generator.Generator, store *storage.Storage) *GenerationController {
	return &GenerationController{tracker: tracker, generator: gen, storage: store}
}

// Generate runs the full pipeline: validate, call the external generator,
// then record the result. The entitlement is re-checked inside Record against
// the latest stored record; the middleware check before this handler is only
// the fast path.
func (gc *GenerationController) Generate(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(GenerateInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	if !model.ValidContentType(input.ContentType) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown content type",
		})
	}
	if input.PropertyData.Address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Property address is required",
		})
	}

	content, err := gc.generator.Generate(c.Context(), input.PropertyData, input.ContentType)
	if err != nil {
		log.Printf("Generation failed for user %d: %v", claims.UserID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "Content generation is temporarily unavailable. Please try again.",
			"retryable": true,
		})
	}

	result, err := gc.tracker.Record(c.Context(), claims.UserID, input.ContentType, content, input.PropertyData)
	if err != nil {
		log.Printf("Could not record generation for user %d: %v", claims.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not record generation",
		})
	}

	if result.LimitReached {
		metrics.GenerationsRejected.Inc()
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":            "You have reached your generation limit. Please upgrade your plan.",
			"upgrade_required": true,
			"remaining":        0,
		})
	}

	metrics.GenerationsTotal.WithLabelValues(string(input.ContentType)).Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         result.Generation.PublicID,
		"content":    result.Generation.Content,
		"word_count": result.Generation.WordCount,
		"remaining":  remainingValue(result.Remaining),
	})
}

func (gc *GenerationController) History(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	summaries, err := gc.tracker.History(claims.UserID, usage.HistoryQuery{
		Limit:       limit,
		Offset:      offset,
		ContentType: model.ContentType(c.Query("content_type")),
		Search:      c.Query("search"),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch generation history",
		})
	}

	return c.JSON(summaries)
}

func (gc *GenerationController) Delete(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)
	publicID := c.Params("id")

	if err := gc.tracker.Delete(publicID, claims.UserID); err != nil {
		if errors.Is(err, usage.ErrNotOwner) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You don't have permission to delete this generation",
			})
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Generation not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not delete generation",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Export uploads the content artifact to object storage and returns its URL.
func (gc *GenerationController) Export(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)
	publicID := c.Params("id")

	if gc.storage == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Exports are not configured",
		})
	}

	gen, err := gc.tracker.Get(publicID, claims.UserID)
	if err != nil {
		if errors.Is(err, usage.ErrNotOwner) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "You don't have permission to export this generation",
			})
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Generation not found",
		})
	}

	url, err := gc.storage.UploadContent(c.Context(), claims.UserID, gen.PublicID, gen.Content)
	if err != nil {
		log.Printf("Could not export generation %s: %v", publicID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "Could not export content. Please try again.",
			"retryable": true,
		})
	}

	if err := gc.tracker.SetExportURL(gen.PublicID, url); err != nil {
		log.Printf("Could not store export URL for %s: %v", publicID, err)
	}

	return c.JSON(fiber.Map{
		"export_url": url,
	})
}

func remainingValue(remaining int) interface{} {
	if remaining < 0 {
		return "unlimited"
	}
	return remaining
}
