package model

import (
	"time"

	"gorm.io/gorm"
)

// BillingEvent is the append-only audit log of processed Stripe webhook
// deliveries. The unique StripeEventID doubles as the idempotency key:
// inserting a duplicate fails, which tells the reconciler the event was
// already applied. Rows are never updated or deleted.
type BillingEvent struct {
	gorm.Model
	StripeEventID        string    `json:"stripe_event_id" gorm:"uniqueIndex;not null"`
	EventType            string    `json:"event_type" gorm:"index;not null"`
	UserID               *uint     `json:"user_id" gorm:"index"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	ProcessedAt          time.Time `json:"processed_at"`
}
