package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/stripe/stripe-go/v74"

	"appraisalstudio_backend/internal/account"
	"appraisalstudio_backend/internal/billing"
	"appraisalstudio_backend/internal/controller"
	"appraisalstudio_backend/internal/middleware"
	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/internal/usage"
	"appraisalstudio_backend/pkg/config"
	"appraisalstudio_backend/pkg/cron"
	"appraisalstudio_backend/pkg/database"
	"appraisalstudio_backend/pkg/email"
	"appraisalstudio_backend/pkg/generator"
	"appraisalstudio_backend/pkg/metrics"
	"appraisalstudio_backend/pkg/utils/jwt"
	"appraisalstudio_backend/pkg/utils/storage"
)

func setupRoutes(
	app *fiber.App,
	tracker *usage.Tracker,
	authCtrl *controller.AuthController,
	genCtrl *controller.GenerationController,
	accountCtrl *controller.AccountController,
	billingCtrl *controller.BillingController,
) {
	api := app.Group("/api")

	// Public routes. The webhook authenticates by Stripe signature, not JWT,
	// so auth is scoped to explicit subgroups below and never to /api itself.
	auth := api.Group("/auth")
	auth.Post("/register", authCtrl.Register)
	auth.Post("/login", authCtrl.Login)

	api.Post("/webhook", billingCtrl.HandleStripeWebhook)
	api.Get("/billing/plans", billingCtrl.ListPlans)

	api.Get("/me", middleware.AuthMiddleware(), authCtrl.GetMe)

	// Generation routes with entitlement pre-check on creation
	generations := api.Group("/generations", middleware.AuthMiddleware())
	generations.Post("/", middleware.CheckGenerationLimit(tracker), genCtrl.Generate)
	generations.Get("/", genCtrl.History)
	generations.Delete("/:id", genCtrl.Delete)
	generations.Post("/:id/export", genCtrl.Export)

	// Account summary
	api.Get("/account/summary", middleware.AuthMiddleware(), accountCtrl.GetSummary)

	// Billing routes that act on the caller's account
	billingRoutes := api.Group("/billing", middleware.AuthMiddleware())
	billingRoutes.Post("/checkout", billingCtrl.CreateCheckoutSession)
	billingRoutes.Post("/portal", billingCtrl.CreatePortalSession)
}

func main() {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set in .env")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET is not set in .env")
	}

	jwt.Init(cfg.JWT.Secret)
	stripe.Key = cfg.Stripe.SecretKey

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	err = database.Migrate(
		db,
		&model.User{},
		&model.Generation{},
		&model.BillingEvent{},
	)
	if err != nil {
		log.Printf("Migration warning: %v", err)
	}

	var emails *email.EmailService
	if cfg.Email.ResendAPIKey != "" {
		emails, err = email.NewEmailService(cfg.Email.ResendAPIKey)
		if err != nil {
			log.Printf("Email service disabled: %v", err)
		}
	}

	var store *storage.Storage
	if cfg.Storage.Bucket != "" {
		store, err = storage.NewStorage(context.Background(), cfg.Storage.Bucket, cfg.Storage.Region)
		if err != nil {
			log.Printf("Export storage disabled: %v", err)
		}
	}

	gen := generator.NewHTTPGenerator(cfg.Generator.APIKey, cfg.Generator.Endpoint)
	tracker := usage.NewTracker(db)
	projector := account.NewProjector(db, tracker)
	billingClient := billing.NewClient(db, cfg.Stripe)
	reconciler := billing.NewReconciler(db, emails, billingClient.PriceMap())

	authCtrl := controller.NewAuthController(db)
	genCtrl := controller.NewGenerationController(tracker, gen, store)
	accountCtrl := controller.NewAccountController(projector)
	billingCtrl := controller.NewBillingController(db, billingClient, reconciler, cfg.Stripe.WebhookSecret, cfg.Server.FrontendURL)

	cron.InitUsageRolloverCron(db)
	cron.InitCancellationReminderCron(db, emails)

	metricsServer := metrics.NewServer(cfg.Metrics.Addr)
	go func() {
		if err := metricsServer.Start(); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
			})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New())

	setupRoutes(app, tracker, authCtrl, genCtrl, accountCtrl, billingCtrl)

	log.Printf("Server is running on port %s", cfg.Server.Port)
	log.Fatal(app.Listen(":" + cfg.Server.Port))
}
