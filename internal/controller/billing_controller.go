package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v74/webhook"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/billing"
	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/pkg/entitlement"
	"appraisalstudio_backend/pkg/metrics"
	"appraisalstudio_backend/pkg/utils/jwt"
)

type CheckoutInput struct {
	PlanID    string `json:"plan_id" validate:"required"`
	ReturnURL string `json:"return_url"`
}

type PortalInput struct {
	ReturnURL string `json:"return_url"`
}

type BillingController struct {
	db            *gorm.DB
	client        *billing.Client
	reconciler    *billing.Reconciler
	webhookSecret string
	frontendURL   string
}

func NewBillingController(db *gorm.DB, client *billing.Client, reconciler *billing.Reconciler, webhookSecret, frontendURL string) *BillingController {
	return &BillingController{
		db:            db,
		client:        client,
		reconciler:    reconciler,
		webhookSecret: webhookSecret,
		frontendURL:   frontendURL,
	}
}

func (bc *BillingController) ListPlans(c *fiber.Ctx) error {
	plans := make([]fiber.Map, 0, len(entitlement.PlanFeatures))
	for _, plan := range []model.Plan{model.PlanFree, model.PlanProfessional, model.PlanAgency} {
		limits := entitlement.PlanFeatures[plan]
		plans = append(plans, fiber.Map{
			"id":            plan,
			"label":         limits.Label,
			"monthly_price": limits.MonthlyPrice,
			"usage_limit":   limits.UsageLimit,
		})
	}
	return c.JSON(plans)
}

func (bc *BillingController) CreateCheckoutSession(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	if input.PlanID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Plan id is required",
		})
	}

	var user model.User
	if err := bc.db.First(&user, claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	returnURL := input.ReturnURL
	if returnURL == "" {
		returnURL = bc.frontendURL
	}

	if _, err := bc.client.PriceForPlan(input.PlanID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown or unconfigured plan",
		})
	}

	sess, err := bc.client.CreateCheckoutSession(&user, input.PlanID, returnURL)
	if err != nil {
		log.Printf("Could not create checkout session for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "Could not start checkout. Please try again.",
			"retryable": true,
		})
	}

	return c.JSON(fiber.Map{
		"checkout_url": sess.URL,
		"session_id":   sess.ID,
	})
}

func (bc *BillingController) CreatePortalSession(c *fiber.Ctx) error {
	claims := c.Locals("user").(*jwt.Claims)

	input := new(PortalInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	var user model.User
	if err := bc.db.First(&user, claims.UserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	if user.StripeCustomerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No billing account yet. Subscribe to a plan first.",
		})
	}

	returnURL := input.ReturnURL
	if returnURL == "" {
		returnURL = bc.frontendURL + "/settings/billing"
	}

	sess, err := bc.client.CreatePortalSession(&user, returnURL)
	if err != nil {
		log.Printf("Could not create portal session for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "Could not open the billing portal. Please try again.",
			"retryable": true,
		})
	}

	return c.JSON(fiber.Map{
		"portal_url": sess.URL,
	})
}

// HandleStripeWebhook verifies the signature before anything else touches
// the payload; a bad signature aborts with zero side effects. Once an event
// is dispatched the response is always 200: Stripe cannot act on our
// processing errors, so they are logged instead of surfaced.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signatureHeader := c.Get("Stripe-Signature")

	event, err := webhook.ConstructEventWithOptions(
		payload,
		signatureHeader,
		bc.webhookSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("Stripe webhook signature verification failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook signature",
		})
	}

	log.Printf("Processing Stripe webhook event: %s (%s)", event.Type, event.ID)
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type)).Inc()

	if err := bc.reconciler.HandleEvent(event.ID, string(event.Type), event.Data.Raw); err != nil {
		metrics.WebhookFailures.Inc()
		log.Printf("Error processing Stripe event %s: %v", event.ID, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
