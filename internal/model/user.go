package model

import (
	"time"

	"gorm.io/gorm"
)

type Plan string

const (
	PlanFree         Plan = "free"
	PlanProfessional Plan = "professional"
	PlanAgency       Plan = "agency"
)

type SubscriptionStatus string

const (
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// FreeUsageLimit is the monthly generation cap for accounts without a paid plan.
const FreeUsageLimit = 5

type User struct {
	gorm.Model
	Email       string `json:"email" gorm:"uniqueIndex;not null"`
	Password    string `json:"-" gorm:"not null"`
	CompanyName string `json:"company_name" gorm:"not null"`

	// Entitlement state. UsageCount is only ever moved by the usage tracker
	// (conditional atomic increment) and by period rollovers.
	Plan               Plan               `json:"plan" gorm:"default:'free'"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"default:'inactive'"`
	UsageCount         int                `json:"usage_count" gorm:"default:0"`
	UsageLimit         int                `json:"usage_limit" gorm:"default:5"` // -1 means unlimited

	// Billing-derived fields, owned by the subscription reconciler. Written
	// only through field-scoped updates so concurrent webhook deliveries and
	// usage increments never clobber each other.
	StripeCustomerID     string     `json:"-" gorm:"index"`
	StripeSubscriptionID string     `json:"-" gorm:"index"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end" gorm:"default:false"`
	CancelAt             *time.Time `json:"cancel_at"`

	PaymentFailureCount  int        `json:"-" gorm:"default:0"`
	LastPaymentAt        *time.Time `json:"-"`
	LastPaymentFailureAt *time.Time `json:"-"`
	CheckoutCompletedAt  *time.Time `json:"-"`

	Generations []Generation `json:"-"`
}

func (u *User) GetPublicProfile() map[string]interface{} {
	return map[string]interface{}{
		"id":           u.ID,
		"email":        u.Email,
		"company_name": u.CompanyName,
		"plan":         u.Plan,
		"created_at":   u.CreatedAt,
	}
}
