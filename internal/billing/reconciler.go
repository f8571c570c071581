package billing

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/pkg/email"
	"appraisalstudio_backend/pkg/entitlement"
)

// Reconciler consumes verified Stripe lifecycle events and applies them to
// the user record. It owns every billing-derived field on that record; the
// usage tracker owns usage_count. All writes are field-scoped update maps so
// a delayed event can only clobber the fields it actually carries.
//
// Events arrive with no ordering guarantee. Each one is treated as
// authoritative for its own fields; a later-arriving-but-logically-older
// event can regress the fields it carries.
type Reconciler struct {
	db     *gorm.DB
	emails *email.EmailService // nil disables notifications
	prices map[string]model.Plan
}

func NewReconciler(db *gorm.DB, emails *email.EmailService, prices map[string]model.Plan) *Reconciler {
	return &Reconciler{db: db, emails: emails, prices: prices}
}

// HandleEvent applies one signature-verified event. The Stripe event ID is
// the dedupe key: a previously processed ID is dropped without effect, since
// Stripe redelivers. Unresolvable accounts and unmapped prices are logged and
// dropped WITHOUT an audit row, so a manual resend can still apply once the
// data problem is fixed.
func (r *Reconciler) HandleEvent(eventID, eventType string, raw []byte) error {
	var count int64
	if err := r.db.Model(&model.BillingEvent{}).
		Where("stripe_event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Printf("Skipping already processed Stripe event %s (%s)", eventID, eventType)
		return nil
	}

	switch eventType {
	case "checkout.session.completed":
		return r.handleCheckoutCompleted(eventID, eventType, raw)
	case "customer.subscription.created":
		return r.handleSubscriptionChange(eventID, eventType, raw, true)
	case "customer.subscription.updated":
		return r.handleSubscriptionChange(eventID, eventType, raw, false)
	case "customer.subscription.deleted":
		return r.handleSubscriptionDeleted(eventID, eventType, raw)
	case "invoice.payment_succeeded":
		return r.handlePaymentSucceeded(eventID, eventType, raw)
	case "invoice.payment_failed":
		return r.handlePaymentFailed(eventID, eventType, raw)
	default:
		log.Printf("Ignoring unhandled Stripe event type: %s", eventType)
		return nil
	}
}

type checkoutSessionData struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionData struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceData struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

func (r *Reconciler) handleCheckoutCompleted(eventID, eventType string, raw []byte) error {
	var sess checkoutSessionData
	if err := json.Unmarshal(raw, &sess); err != nil {
		return err
	}

	user := r.resolveUser(sess.Metadata, sess.ClientReferenceID, sess.Customer, "")
	if user == nil {
		log.Printf("Dropping %s %s: could not resolve account", eventType, eventID)
		return nil
	}

	if err := r.logEvent(eventID, eventType, user.ID, sess.Customer, ""); err != nil {
		return nil
	}

	now := time.Now()
	updates := map[string]interface{}{
		"checkout_completed_at": now,
	}
	if user.StripeCustomerID == "" && sess.Customer != "" {
		updates["stripe_customer_id"] = sess.Customer
	}

	return r.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(updates).Error
}

func (r *Reconciler) handleSubscriptionChange(eventID, eventType string, raw []byte, created bool) error {
	var sub subscriptionData
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	user := r.resolveUser(sub.Metadata, "", sub.Customer, sub.ID)
	if user == nil {
		log.Printf("Dropping %s %s: could not resolve account", eventType, eventID)
		return nil
	}

	// An update for a subscription that is neither the stored one nor newly
	// attached belongs to a stale lifecycle; don't let it clobber the record.
	if !created && user.StripeSubscriptionID != "" && user.StripeSubscriptionID != sub.ID {
		log.Printf("Dropping %s %s: subscription %s does not match stored %s",
			eventType, eventID, sub.ID, user.StripeSubscriptionID)
		return nil
	}

	if len(sub.Items.Data) == 0 {
		log.Printf("Dropping %s %s: no subscription items", eventType, eventID)
		return nil
	}

	plan, err := entitlement.PlanForPrice(sub.Items.Data[0].Price.ID, r.prices)
	if err != nil {
		// Misconfigured price mapping: never guess an entitlement.
		log.Printf("Dropping %s %s: %v", eventType, eventID, err)
		return nil
	}

	if err := r.logEvent(eventID, eventType, user.ID, sub.Customer, sub.ID); err != nil {
		return nil
	}

	periodStart := time.Unix(sub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
	limits := entitlement.GetPlanLimits(plan)

	updates := map[string]interface{}{
		"plan":                   plan,
		"usage_limit":            limits.UsageLimit,
		"subscription_status":    mapStripeStatus(sub.Status),
		"stripe_subscription_id": sub.ID,
		"current_period_start":   periodStart,
		"current_period_end":     periodEnd,
	}

	if sub.CancelAtPeriodEnd {
		updates["cancel_at_period_end"] = true
		updates["cancel_at"] = periodEnd
	} else {
		updates["cancel_at_period_end"] = false
		updates["cancel_at"] = nil
	}

	// Usage resets on a plan change and on a billing-period rollover.
	if user.Plan != plan ||
		user.CurrentPeriodStart == nil ||
		periodStart.After(*user.CurrentPeriodStart) {
		updates["usage_count"] = 0
	}

	if err := r.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return err
	}

	if created && r.emails != nil {
		if err := r.emails.SendSubscriptionStartedEmail(
			user.Email, user.CompanyName, limits.Label,
			limits.MonthlyPrice, limits.UsageLimit, periodEnd,
		); err != nil {
			log.Printf("Could not send subscription email: %v", err)
		}
	}

	return nil
}

func (r *Reconciler) handleSubscriptionDeleted(eventID, eventType string, raw []byte) error {
	var sub subscriptionData
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	user := r.resolveUser(sub.Metadata, "", sub.Customer, sub.ID)
	if user == nil {
		log.Printf("Dropping %s %s: could not resolve account", eventType, eventID)
		return nil
	}

	if err := r.logEvent(eventID, eventType, user.ID, sub.Customer, sub.ID); err != nil {
		return nil
	}

	previousPlan := user.Plan

	updates := map[string]interface{}{
		"plan":                   model.PlanFree,
		"usage_limit":            model.FreeUsageLimit,
		"subscription_status":    model.SubscriptionCanceled,
		"stripe_subscription_id": "",
		"cancel_at_period_end":   false,
		"cancel_at":              nil,
		"usage_count":            0,
	}

	if err := r.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
		return err
	}

	if r.emails != nil && previousPlan != model.PlanFree {
		label := entitlement.GetPlanLimits(previousPlan).Label
		if err := r.emails.SendSubscriptionCanceledEmail(user.Email, user.CompanyName, label); err != nil {
			log.Printf("Could not send subscription cancellation email: %v", err)
		}
	}

	return nil
}

func (r *Reconciler) handlePaymentSucceeded(eventID, eventType string, raw []byte) error {
	var inv invoiceData
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	user := r.resolveUser(nil, "", inv.Customer, "")
	if user == nil {
		log.Printf("Dropping %s %s: could not resolve account", eventType, eventID)
		return nil
	}

	if err := r.logEvent(eventID, eventType, user.ID, inv.Customer, ""); err != nil {
		return nil
	}

	return r.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"subscription_status": model.SubscriptionActive,
		"last_payment_at":     time.Now(),
	}).Error
}

func (r *Reconciler) handlePaymentFailed(eventID, eventType string, raw []byte) error {
	var inv invoiceData
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	user := r.resolveUser(nil, "", inv.Customer, "")
	if user == nil {
		log.Printf("Dropping %s %s: could not resolve account", eventType, eventID)
		return nil
	}

	if err := r.logEvent(eventID, eventType, user.ID, inv.Customer, ""); err != nil {
		return nil
	}

	now := time.Now()
	// A failed payment by itself changes neither plan nor status; Stripe
	// follows up with a subscription.updated carrying past_due.
	if err := r.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"payment_failure_count":   gorm.Expr("payment_failure_count + ?", 1),
		"last_payment_failure_at": now,
	}).Error; err != nil {
		return err
	}

	if r.emails != nil {
		if err := r.emails.SendPaymentFailedEmail(user.Email, user.CompanyName, now); err != nil {
			log.Printf("Could not send payment failure email: %v", err)
		}
	}

	return nil
}

// resolveUser finds the target account for an event: explicit account
// reference first (metadata / client_reference_id), then reverse lookup by
// customer ref, then by subscription ref. Returns nil when nothing matches.
func (r *Reconciler) resolveUser(metadata map[string]string, clientRef, customerID, subscriptionID string) *model.User {
	var user model.User

	ref := clientRef
	if ref == "" && metadata != nil {
		ref = metadata["user_id"]
	}
	if ref != "" {
		if err := r.db.Where("id = ?", ref).First(&user).Error; err == nil {
			return &user
		}
	}

	if customerID != "" {
		if err := r.db.Where("stripe_customer_id = ?", customerID).First(&user).Error; err == nil {
			return &user
		}
	}

	if subscriptionID != "" {
		if err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&user).Error; err == nil {
			return &user
		}
	}

	return nil
}

// logEvent inserts the audit/dedupe row. A unique-constraint failure means a
// concurrent delivery of the same event won the race; the caller drops its
// copy.
func (r *Reconciler) logEvent(eventID, eventType string, userID uint, customerID, subscriptionID string) error {
	record := model.BillingEvent{
		StripeEventID:        eventID,
		EventType:            eventType,
		UserID:               &userID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: subscriptionID,
		ProcessedAt:          time.Now(),
	}
	if err := r.db.Create(&record).Error; err != nil {
		log.Printf("Stripe event %s already logged, dropping duplicate: %v", eventID, err)
		return errors.New("duplicate event")
	}
	return nil
}

func mapStripeStatus(status string) model.SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return model.SubscriptionActive
	case "past_due", "unpaid":
		return model.SubscriptionPastDue
	case "canceled", "incomplete_expired":
		return model.SubscriptionCanceled
	default:
		return model.SubscriptionInactive
	}
}
