package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/internal/usage"
	"appraisalstudio_backend/pkg/utils/jwt"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("could not open test database: %v", err)
	}

	if err := db.AutoMigrate(&model.User{}, &model.Generation{}, &model.BillingEvent{}); err != nil {
		t.Fatalf("could not migrate test database: %v", err)
	}

	return db
}

func seedUser(t *testing.T, db *gorm.DB, user *model.User) *model.User {
	t.Helper()
	if user.Email == "" {
		user.Email = fmt.Sprintf("%s@example.com", t.Name())
	}
	if user.Password == "" {
		user.Password = "hashed"
	}
	if user.CompanyName == "" {
		user.CompanyName = "Acme Realty"
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("could not seed user: %v", err)
	}
	return user
}

// withClaims stands in for the auth middleware.
func withClaims(userID uint) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", &jwt.Claims{UserID: userID, Email: "test@example.com"})
		return c.Next()
	}
}

type stubGenerator struct {
	content string
	err     error
}

func (s *stubGenerator) Generate(ctx context.Context, fields model.PropertyFields, contentType model.ContentType) (string, error) {
	return s.content, s.err
}

func generateRequest(t *testing.T, contentType, address string) *http.Request {
	t.Helper()
	body, err := json.Marshal(fiber.Map{
		"content_type": contentType,
		"property_data": fiber.Map{
			"address": address,
			"city":    "Miami",
			"state":   "FL",
		},
	})
	if err != nil {
		t.Fatalf("could not marshal request body: %v", err)
	}
	req := httptest.NewRequest("POST", "/generations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGenerateSuccess(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	gc := NewGenerationController(tracker, &stubGenerator{content: "A charming bungalow by the sea."}, nil)

	app := fiber.New()
	app.Post("/generations", withClaims(user.ID), gc.Generate)

	resp, err := app.Test(generateRequest(t, "listing_description", "12 Ocean Drive"))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var body struct {
		ID        string `json:"id"`
		Content   string `json:"content"`
		WordCount int    `json:"word_count"`
		Remaining int    `json:"remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if body.ID == "" || body.Content == "" {
		t.Fatalf("response missing id/content: %+v", body)
	}
	if body.WordCount != 6 {
		t.Fatalf("word_count = %d, want 6", body.WordCount)
	}
	if body.Remaining != 4 {
		t.Fatalf("remaining = %d, want 4", body.Remaining)
	}
}

func TestGenerateInvalidContentType(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	gc := NewGenerationController(tracker, &stubGenerator{content: "Copy."}, nil)

	app := fiber.New()
	app.Post("/generations", withClaims(user.ID), gc.Generate)

	resp, err := app.Test(generateRequest(t, "press_release", "12 Ocean Drive"))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// A rejected request must not consume entitlement.
	var stored model.User
	db.First(&stored, user.ID)
	if stored.UsageCount != 0 {
		t.Fatalf("usage_count = %d, want 0", stored.UsageCount)
	}
}

func TestGenerateMissingAddress(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	gc := NewGenerationController(tracker, &stubGenerator{content: "Copy."}, nil)

	app := fiber.New()
	app.Post("/generations", withClaims(user.ID), gc.Generate)

	resp, err := app.Test(generateRequest(t, "listing_description", ""))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateLimitReached(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5, UsageCount: 5})

	gc := NewGenerationController(tracker, &stubGenerator{content: "Copy."}, nil)

	app := fiber.New()
	app.Post("/generations", withClaims(user.ID), gc.Generate)

	resp, err := app.Test(generateRequest(t, "listing_description", "12 Ocean Drive"))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	var body struct {
		UpgradeRequired bool `json:"upgrade_required"`
		Remaining       int  `json:"remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if !body.UpgradeRequired || body.Remaining != 0 {
		t.Fatalf("body = %+v, want upgrade_required with remaining 0", body)
	}

	var genCount int64
	db.Model(&model.Generation{}).Where("user_id = ?", user.ID).Count(&genCount)
	if genCount != 0 {
		t.Fatalf("generation rows = %d, want 0 for a refused request", genCount)
	}
}

func TestGenerateUpstreamFailure(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	gc := NewGenerationController(tracker, &stubGenerator{err: errors.New("upstream timeout")}, nil)

	app := fiber.New()
	app.Post("/generations", withClaims(user.ID), gc.Generate)

	resp, err := app.Test(generateRequest(t, "listing_description", "12 Ocean Drive"))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	// A failed generation must not consume entitlement.
	var stored model.User
	db.First(&stored, user.ID)
	if stored.UsageCount != 0 {
		t.Fatalf("usage_count after upstream failure = %d, want 0", stored.UsageCount)
	}
}

func TestDeleteForeignGeneration(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	owner := seedUser(t, db, &model.User{Email: "owner@example.com", Plan: model.PlanFree, UsageLimit: 5})
	intruder := seedUser(t, db, &model.User{Email: "intruder@example.com", Plan: model.PlanFree, UsageLimit: 5})

	result, err := tracker.Record(context.Background(), owner.ID, model.ListingDescription, "Copy.",
		model.PropertyFields{Address: "12 Ocean Drive"})
	if err != nil || result.LimitReached {
		t.Fatalf("Record = (%+v, %v), want accepted", result, err)
	}

	gc := NewGenerationController(tracker, &stubGenerator{content: "Copy."}, nil)

	app := fiber.New()
	app.Delete("/generations/:id", withClaims(intruder.ID), gc.Delete)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/generations/"+result.Generation.PublicID, nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDeleteUnknownGeneration(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	gc := NewGenerationController(tracker, &stubGenerator{content: "Copy."}, nil)

	app := fiber.New()
	app.Delete("/generations/:id", withClaims(user.ID), gc.Delete)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/generations/nonexistent", nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportWithoutStorage(t *testing.T) {
	db := newTestDB(t)
	tracker := usage.NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	gc := NewGenerationController(tracker, &stubGenerator{content: "Copy."}, nil)

	app := fiber.New()
	app.Post("/generations/:id/export", withClaims(user.ID), gc.Export)

	resp, err := app.Test(httptest.NewRequest("POST", "/generations/whatever/export", nil))
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
