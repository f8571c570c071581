package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"appraisalstudio_backend/internal/model"
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

func testFields() model.PropertyFields {
	return model.PropertyFields{
		Address:   "12 Ocean Drive",
		City:      "Miami",
		State:     "FL",
		Bedrooms:  3,
		Bathrooms: 2,
	}
}

func TestGetOrCreateMaterializesDefaults(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)

	// A record without entitlement fields, as a first-touch account.
	seeded := seedUser(t, db, &model.User{})
	if err := db.Model(seeded).Updates(map[string]interface{}{
		"plan": "", "usage_limit": 0, "subscription_status": "",
	}).Error; err != nil {
		t.Fatalf("could not blank entitlement fields: %v", err)
	}

	user, err := tracker.GetOrCreate(seeded.ID)
	if err != nil {
		t.Fatalf("GetOrCreate error = %v", err)
	}
	if user.Plan != model.PlanFree || user.UsageLimit != 5 || user.UsageCount != 0 {
		t.Fatalf("defaults = {%s %d %d}, want {free 5 0}", user.Plan, user.UsageLimit, user.UsageCount)
	}

	// Defaults must be persisted, not just returned.
	var stored model.User
	if err := db.First(&stored, seeded.ID).Error; err != nil {
		t.Fatalf("could not reload user: %v", err)
	}
	if stored.Plan != model.PlanFree || stored.UsageLimit != 5 {
		t.Fatalf("stored defaults = {%s %d}, want {free 5}", stored.Plan, stored.UsageLimit)
	}
}

func TestGetOrCreateUnknownAccount(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)

	if _, err := tracker.GetOrCreate(9999); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("GetOrCreate(9999) error = %v, want record not found", err)
	}
}

func TestRecordCountsUpToLimitThenRejects(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	for i := 1; i <= 5; i++ {
		result, err := tracker.Record(context.Background(), user.ID, model.ListingDescription, "Lovely home.", testFields())
		if err != nil {
			t.Fatalf("Record #%d error = %v", i, err)
		}
		if result.LimitReached {
			t.Fatalf("Record #%d rejected, want accepted", i)
		}
		if want := 5 - i; result.Remaining != want {
			t.Fatalf("Record #%d remaining = %d, want %d", i, result.Remaining, want)
		}

		var stored model.User
		db.First(&stored, user.ID)
		if stored.UsageCount != i {
			t.Fatalf("usage_count after %d records = %d, want %d", i, stored.UsageCount, i)
		}
	}

	// The sixth call must be rejected without moving the counter.
	result, err := tracker.Record(context.Background(), user.ID, model.ListingDescription, "One more.", testFields())
	if err != nil {
		t.Fatalf("Record #6 error = %v", err)
	}
	if !result.LimitReached {
		t.Fatalf("Record #6 accepted, want limit-reached")
	}

	var stored model.User
	db.First(&stored, user.ID)
	if stored.UsageCount != 5 {
		t.Fatalf("usage_count after rejection = %d, want 5", stored.UsageCount)
	}

	var genCount int64
	db.Model(&model.Generation{}).Where("user_id = ?", user.ID).Count(&genCount)
	if genCount != 5 {
		t.Fatalf("generation rows = %d, want 5 (rejected attempt must not leave a row)", genCount)
	}
}

func TestRecordAgencyUnlimited(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanAgency, UsageLimit: -1, UsageCount: 100000})

	result, err := tracker.Record(context.Background(), user.ID, model.SocialMediaPost, "Big news!", testFields())
	if err != nil {
		t.Fatalf("Record error = %v", err)
	}
	if result.LimitReached {
		t.Fatalf("agency plan rejected, want accepted")
	}
	if result.Remaining != -1 {
		t.Fatalf("agency remaining = %d, want unlimited sentinel", result.Remaining)
	}
}

func TestRecordConcurrentLastSlot(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5, UsageCount: 4})

	var wg sync.WaitGroup
	results := make([]*RecordResult, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tracker.Record(context.Background(), user.ID, model.ListingDescription, "Last one.", testFields())
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("Record goroutine %d error = %v", i, errs[i])
		}
		if !results[i].LimitReached {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want exactly 1 of 2 racing calls", accepted)
	}

	var stored model.User
	db.First(&stored, user.ID)
	if stored.UsageCount != 5 {
		t.Fatalf("usage_count after race = %d, want 5", stored.UsageCount)
	}

	var genCount int64
	db.Model(&model.Generation{}).Where("user_id = ?", user.ID).Count(&genCount)
	if genCount != 1 {
		t.Fatalf("generation rows after race = %d, want 1", genCount)
	}
}

func TestDeleteDoesNotDecrementUsage(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanFree, UsageLimit: 5})

	result, err := tracker.Record(context.Background(), user.ID, model.EmailCampaign, "Open house Sunday.", testFields())
	if err != nil || result.LimitReached {
		t.Fatalf("Record = (%+v, %v), want accepted", result, err)
	}

	if err := tracker.Delete(result.Generation.PublicID, user.ID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}

	var stored model.User
	db.First(&stored, user.ID)
	if stored.UsageCount != 1 {
		t.Fatalf("usage_count after delete = %d, want 1 (historical usage is immutable)", stored.UsageCount)
	}
}

func TestDeleteRejectsForeignOwner(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	owner := seedUser(t, db, &model.User{Email: "owner@example.com", Plan: model.PlanFree, UsageLimit: 5})
	intruder := seedUser(t, db, &model.User{Email: "intruder@example.com", Plan: model.PlanFree, UsageLimit: 5})

	result, err := tracker.Record(context.Background(), owner.ID, model.FlyerCopy, "Just listed!", testFields())
	if err != nil || result.LimitReached {
		t.Fatalf("Record = (%+v, %v), want accepted", result, err)
	}

	if err := tracker.Delete(result.Generation.PublicID, intruder.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Delete by non-owner error = %v, want ErrNotOwner", err)
	}

	// The record must still be there.
	var count int64
	db.Model(&model.Generation{}).Where("public_id = ?", result.Generation.PublicID).Count(&count)
	if count != 1 {
		t.Fatalf("generation rows after rejected delete = %d, want 1", count)
	}
}

func TestHistoryFiltersAndOrder(t *testing.T) {
	db := newTestDB(t)
	tracker := NewTracker(db)
	user := seedUser(t, db, &model.User{Plan: model.PlanAgency, UsageLimit: -1})

	fields := testFields()
	if _, err := tracker.Record(context.Background(), user.ID, model.ListingDescription, "Charming bungalow near the beach.", fields); err != nil {
		t.Fatalf("Record error = %v", err)
	}
	fields.Address = "500 Mountain View Road"
	if _, err := tracker.Record(context.Background(), user.ID, model.SocialMediaPost, "Alpine retreat just listed.", fields); err != nil {
		t.Fatalf("Record error = %v", err)
	}

	all, err := tracker.History(user.ID, HistoryQuery{})
	if err != nil {
		t.Fatalf("History error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("History len = %d, want 2", len(all))
	}

	byType, err := tracker.History(user.ID, HistoryQuery{ContentType: model.SocialMediaPost})
	if err != nil {
		t.Fatalf("History by type error = %v", err)
	}
	if len(byType) != 1 || byType[0].ContentType != model.SocialMediaPost {
		t.Fatalf("History by type = %+v, want one social_media_post", byType)
	}

	bySearch, err := tracker.History(user.ID, HistoryQuery{Search: "mountain"})
	if err != nil {
		t.Fatalf("History by search error = %v", err)
	}
	if len(bySearch) != 1 || bySearch[0].PropertyAddress != "500 Mountain View Road" {
		t.Fatalf("History by search = %+v, want the mountain listing", bySearch)
	}

	if all[0].WordCount == 0 {
		t.Fatalf("summary word count = 0, want computed")
	}
}
