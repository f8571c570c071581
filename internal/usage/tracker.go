package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/pkg/entitlement"
)

// ErrNotOwner is returned when an account touches a generation it doesn't own.
var ErrNotOwner = errors.New("generation belongs to another account")

// Tracker owns the usage_count field on the user record. Billing-derived
// fields belong to the subscription reconciler; neither side writes the
// other's fields, and all writes here are field-scoped.
type Tracker struct {
	db *gorm.DB
}

func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// GetOrCreate loads the user record and materializes the free-tier
// entitlement defaults on first touch. A record written before the
// entitlement fields existed (empty plan) gets {free, limit 5, inactive}
// stamped onto it; the defaults are persisted, not just returned.
// Registration is the point where the account row itself comes into
// existence, so an id with no row at all is a genuine not-found here.
func (t *Tracker) GetOrCreate(userID uint) (*model.User, error) {
	var user model.User
	if err := t.db.First(&user, userID).Error; err != nil {
		return nil, err
	}

	if user.Plan == "" || user.UsageLimit == 0 {
		updates := map[string]interface{}{
			"plan":                model.PlanFree,
			"usage_limit":         model.FreeUsageLimit,
			"subscription_status": model.SubscriptionInactive,
		}
		if err := t.db.Model(&user).Updates(updates).Error; err != nil {
			return nil, err
		}
		user.Plan = model.PlanFree
		user.UsageLimit = model.FreeUsageLimit
		user.SubscriptionStatus = model.SubscriptionInactive
	}

	return &user, nil
}

// RecordResult is the outcome of one recording attempt. LimitReached is a
// normal outcome, not an error: it signals that an upgrade is required.
type RecordResult struct {
	Generation   *model.Generation
	Remaining    int
	LimitReached bool
}

// Record appends the generation and then moves the usage counter. The order
// matters: the row must be durable before the increment is acknowledged, so a
// crash between the two can leave a logged generation without a counted unit
// but never the reverse. The increment is conditional
// (usage_count < usage_limit, or unlimited) so two racing calls on the last
// slot cannot both be accepted; losing the race rolls the appended row back.
func (t *Tracker) Record(ctx context.Context, userID uint, contentType model.ContentType, content string, fields model.PropertyFields) (*RecordResult, error) {
	user, err := t.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}

	if !entitlement.CanGenerate(user) {
		return &RecordResult{LimitReached: true, Remaining: 0}, nil
	}

	snapshot, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("could not snapshot property fields: %v", err)
	}

	gen := &model.Generation{
		PublicID:         uuid.NewString(),
		UserID:           userID,
		ContentType:      contentType,
		Content:          content,
		PropertySnapshot: datatypes.JSON(snapshot),
		PropertyAddress:  fields.Address,
		Slug:             slug.Make(fields.Address),
	}

	if err := t.db.WithContext(ctx).Create(gen).Error; err != nil {
		return nil, fmt.Errorf("could not record generation: %v", err)
	}

	res := t.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND (usage_limit = -1 OR usage_count < usage_limit)", userID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if res.Error != nil {
		if err := t.db.Unscoped().Delete(gen).Error; err != nil {
			log.Printf("Could not roll back generation %s after failed increment: %v", gen.PublicID, err)
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race for the last slot under the cap.
		if err := t.db.Unscoped().Delete(gen).Error; err != nil {
			log.Printf("Could not roll back generation %s after refused increment: %v", gen.PublicID, err)
		}
		return &RecordResult{LimitReached: true, Remaining: 0}, nil
	}

	user.UsageCount++
	return &RecordResult{
		Generation: gen,
		Remaining:  entitlement.Remaining(user),
	}, nil
}

// HistoryQuery selects a page of the generation log.
type HistoryQuery struct {
	Limit       int
	Offset      int
	ContentType model.ContentType
	Search      string
}

func (t *Tracker) History(userID uint, q HistoryQuery) ([]model.GenerationSummary, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}

	query := t.db.Model(&model.Generation{}).Where("user_id = ?", userID)

	if q.ContentType != "" {
		query = query.Where("content_type = ?", q.ContentType)
	}
	if q.Search != "" {
		term := "%" + strings.ToLower(q.Search) + "%"
		query = query.Where("LOWER(property_address) LIKE ? OR LOWER(content) LIKE ?", term, term)
	}

	var gens []model.Generation
	if err := query.Order("created_at desc").Limit(q.Limit).Offset(q.Offset).Find(&gens).Error; err != nil {
		return nil, err
	}

	summaries := make([]model.GenerationSummary, 0, len(gens))
	for _, g := range gens {
		summaries = append(summaries, model.GenerationSummary{
			ID:              g.PublicID,
			Content:         g.Content,
			ContentType:     g.ContentType,
			PropertyAddress: g.PropertyAddress,
			WordCount:       g.WordCount,
			CreatedAt:       g.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return summaries, nil
}

// Delete removes a generation after an ownership check. Historical usage is
// immutable once counted: the owner's usage_count is never decremented here.
func (t *Tracker) Delete(publicID string, userID uint) error {
	var gen model.Generation
	if err := t.db.Where("public_id = ?", publicID).First(&gen).Error; err != nil {
		return err
	}

	if gen.UserID != userID {
		return ErrNotOwner
	}

	return t.db.Delete(&gen).Error
}

// Get loads one generation with an ownership check.
func (t *Tracker) Get(publicID string, userID uint) (*model.Generation, error) {
	var gen model.Generation
	if err := t.db.Where("public_id = ?", publicID).First(&gen).Error; err != nil {
		return nil, err
	}
	if gen.UserID != userID {
		return nil, ErrNotOwner
	}
	return &gen, nil
}

// SetExportURL stamps the stored artifact URL after a successful export. The
// content itself stays immutable.
func (t *Tracker) SetExportURL(publicID, url string) error {
	return t.db.Model(&model.Generation{}).
		Where("public_id = ?", publicID).
		UpdateColumn("export_url", url).Error
}
