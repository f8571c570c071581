package account

import (
	"log"
	"time"

	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/internal/usage"
	"appraisalstudio_backend/pkg/entitlement"
)

// AccountSummary is the read-only billing/usage view for display. Remaining
// is either an int or the string "unlimited".
type AccountSummary struct {
	Plan               model.Plan               `json:"plan"`
	PlanLabel          string                   `json:"plan_label"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscription_status"`
	Subscribed         bool                     `json:"subscribed"`
	UsageCount         int                      `json:"usage_count"`
	UsageLimit         int                      `json:"usage_limit"`
	Remaining          interface{}              `json:"remaining"`
	MonthGenerations   int64                    `json:"month_generations"`
	TotalGenerations   int64                    `json:"total_generations"`
	CurrentPeriodStart *time.Time               `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CancelAt           *time.Time               `json:"cancel_at"`
}

type Projector struct {
	db      *gorm.DB
	tracker *usage.Tracker
}

func NewProjector(db *gorm.DB, tracker *usage.Tracker) *Projector {
	return &Projector{db: db, tracker: tracker}
}

// Project combines the stored user record with derived counts from the
// generation log. The derived counts are best-effort: a failed count query
// degrades to the stored usage_count instead of failing the projection.
func (p *Projector) Project(userID uint) (*AccountSummary, error) {
	user, err := p.tracker.GetOrCreate(userID)
	if err != nil {
		return nil, err
	}

	summary := &AccountSummary{
		Plan:               user.Plan,
		PlanLabel:          entitlement.GetPlanLimits(user.Plan).Label,
		SubscriptionStatus: user.SubscriptionStatus,
		Subscribed:         user.SubscriptionStatus == model.SubscriptionActive,
		UsageCount:         user.UsageCount,
		UsageLimit:         user.UsageLimit,
		CurrentPeriodStart: user.CurrentPeriodStart,
		CurrentPeriodEnd:   user.CurrentPeriodEnd,
		CancelAtPeriodEnd:  user.CancelAtPeriodEnd,
		CancelAt:           user.CancelAt,
	}

	if remaining := entitlement.Remaining(user); remaining == entitlement.Unlimited {
		summary.Remaining = "unlimited"
	} else {
		summary.Remaining = remaining
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var monthCount int64
	if err := p.db.Model(&model.Generation{}).
		Where("user_id = ? AND created_at >= ?", userID, monthStart).
		Count(&monthCount).Error; err != nil {
		log.Printf("Could not count current-month generations for user %d: %v", userID, err)
		monthCount = int64(user.UsageCount)
	}
	summary.MonthGenerations = monthCount

	var totalCount int64
	if err := p.db.Model(&model.Generation{}).
		Where("user_id = ?", userID).
		Count(&totalCount).Error; err != nil {
		log.Printf("Could not count generations for user %d: %v", userID, err)
		totalCount = int64(user.UsageCount)
	}
	summary.TotalGenerations = totalCount

	return summary, nil
}
