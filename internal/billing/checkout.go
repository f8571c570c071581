package billing

import (
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v74"
	portalsession "github.com/stripe/stripe-go/v74/billingportal/session"
	"github.com/stripe/stripe-go/v74/checkout/session"
	"github.com/stripe/stripe-go/v74/customer"
	"gorm.io/gorm"

	"appraisalstudio_backend/internal/model"
	"appraisalstudio_backend/pkg/config"
)

// Client wraps the Stripe calls the user-facing billing endpoints need:
// lazy customer creation, checkout sessions, portal sessions.
type Client struct {
	db  *gorm.DB
	cfg config.StripeConfig
}

func NewClient(db *gorm.DB, cfg config.StripeConfig) *Client {
	return &Client{db: db, cfg: cfg}
}

// PriceForPlan maps a public plan id to its configured Stripe price.
func (c *Client) PriceForPlan(planID string) (string, error) {
	switch model.Plan(planID) {
	case model.PlanProfessional:
		if c.cfg.PriceProfessional == "" {
			return "", fmt.Errorf("no Stripe price configured for plan %q", planID)
		}
		return c.cfg.PriceProfessional, nil
	case model.PlanAgency:
		if c.cfg.PriceAgency == "" {
			return "", fmt.Errorf("no Stripe price configured for plan %q", planID)
		}
		return c.cfg.PriceAgency, nil
	default:
		return "", fmt.Errorf("unknown plan %q", planID)
	}
}

// PriceMap is the reconciler's price-to-plan mapping, built from config.
func (c *Client) PriceMap() map[string]model.Plan {
	prices := make(map[string]model.Plan)
	if c.cfg.PriceProfessional != "" {
		prices[c.cfg.PriceProfessional] = model.PlanProfessional
	}
	if c.cfg.PriceAgency != "" {
		prices[c.cfg.PriceAgency] = model.PlanAgency
	}
	return prices
}

// EnsureCustomer returns the account's Stripe customer ref, creating it
// lazily on first checkout and persisting it with a field-scoped update.
func (c *Client) EnsureCustomer(user *model.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	customerParams := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.CompanyName),
	}
	customerParams.AddMetadata("user_id", strconv.FormatUint(uint64(user.ID), 10))

	stripeCustomer, err := customer.New(customerParams)
	if err != nil {
		return "", err
	}

	if err := c.db.Model(&model.User{}).
		Where("id = ?", user.ID).
		UpdateColumn("stripe_customer_id", stripeCustomer.ID).Error; err != nil {
		return "", err
	}

	user.StripeCustomerID = stripeCustomer.ID
	return stripeCustomer.ID, nil
}

// CreateCheckoutSession starts a subscription-mode Checkout Session. The
// account id rides along as client_reference_id and subscription metadata so
// webhook handlers can resolve the account without a reverse lookup.
func (c *Client) CreateCheckoutSession(user *model.User, planID, returnURL string) (*stripe.CheckoutSession, error) {
	priceID, err := c.PriceForPlan(planID)
	if err != nil {
		return nil, err
	}

	customerID, err := c.EnsureCustomer(user)
	if err != nil {
		return nil, err
	}

	userRef := strconv.FormatUint(uint64(user.ID), 10)
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(userRef),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userRef},
		},
		SuccessURL: stripe.String(returnURL + "/billing/success"),
		CancelURL:  stripe.String(returnURL + "/billing/cancelled"),
	}

	return session.New(params)
}

// CreatePortalSession opens the Stripe Billing Portal for an account that
// already has a customer ref.
func (c *Client) CreatePortalSession(user *model.User, returnURL string) (*stripe.BillingPortalSession, error) {
	if user.StripeCustomerID == "" {
		return nil, fmt.Errorf("account has no billing customer yet")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}

	return portalsession.New(params)
}
