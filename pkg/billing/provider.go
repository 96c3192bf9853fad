package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/subloop/subloop/pkg/observability"
)

// CheckoutMode selects one-time payment vs recurring subscription checkout
type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

// Valid reports whether the mode is one the provider accepts
func (m CheckoutMode) Valid() bool {
	return m == CheckoutModePayment || m == CheckoutModeSubscription
}

// CheckoutParams describes a hosted checkout session to create. CustomerID
// is set when the account has already been through billing once; otherwise
// Email seeds a new provider customer. An empty Mode means subscription.
type CheckoutParams struct {
	AccountID  string
	Email      string
	CustomerID string
	PriceID    string
	Mode       CheckoutMode
	SuccessURL string
	CancelURL  string
}

// SubscriptionSnapshot is the provider's current view of a subscription
type SubscriptionSnapshot struct {
	SubscriptionID    string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	PriceID           string
	CurrentPeriodEnd  time.Time
}

// Active reports whether the snapshot entitles the account to service
func (s *SubscriptionSnapshot) Active() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// Provider is the outbound payment provider surface. All calls are remote;
// failures that may clear on retry are wrapped in TransientError.
type Provider interface {
	// CreateCheckoutSession returns the hosted checkout URL to redirect
	// the browser to.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error)

	// CreatePortalSession returns the hosted billing portal URL for an
	// existing customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)

	// GetSubscription fetches the provider's current view of a
	// subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
}

// StripeProvider implements Provider against the Stripe API
type StripeProvider struct {
	api     *client.API
	metrics *observability.Metrics
}

// NewStripeProvider creates a provider using the given secret API key
// (sk_test_... or sk_live_...)
func NewStripeProvider(apiKey string, metrics *observability.Metrics) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api, metrics: metrics}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	if params.PriceID == "" {
		return "", fmt.Errorf("price id is required")
	}

	mode := params.Mode
	if mode == "" {
		mode = CheckoutModeSubscription
	}
	if !mode.Valid() {
		return "", fmt.Errorf("invalid checkout mode %q", mode)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"account_id": params.AccountID,
			},
		},
		Mode:              stripe.String(string(mode)),
		ClientReferenceID: stripe.String(params.AccountID),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}

	// Subscription metadata mirrors the session metadata so subscription
	// events can be correlated even before the checkout event lands.
	if mode == CheckoutModeSubscription {
		sessionParams.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"account_id": params.AccountID,
			},
		}
	}

	// Reuse the existing customer so the provider does not mint a second
	// customer record for the same account.
	if params.CustomerID != "" {
		sessionParams.Customer = stripe.String(params.CustomerID)
	} else if params.Email != "" {
		sessionParams.CustomerEmail = stripe.String(params.Email)
	}

	start := time.Now()
	session, err := p.api.CheckoutSessions.New(sessionParams)
	p.observe("create_checkout_session", start, err)
	if err != nil {
		return "", wrapStripeErr("create checkout session", err)
	}

	return session.URL, nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if customerID == "" {
		return "", fmt.Errorf("customer id is required")
	}

	portalParams := &stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	start := time.Now()
	session, err := p.api.BillingPortalSessions.New(portalParams)
	p.observe("create_portal_session", start, err)
	if err != nil {
		return "", wrapStripeErr("create portal session", err)
	}

	return session.URL, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	getParams := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	}

	start := time.Now()
	sub, err := p.api.Subscriptions.Get(subscriptionID, getParams)
	p.observe("get_subscription", start, err)
	if err != nil {
		return nil, wrapStripeErr("get subscription", err)
	}

	snapshot := &SubscriptionSnapshot{
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snapshot.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snapshot.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			snapshot.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	return snapshot, nil
}

func (p *StripeProvider) observe(operation string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.metrics.ObserveProviderRequest(operation, outcome, time.Since(start))
}

// wrapStripeErr classifies provider failures. Server-side errors and
// anything without an HTTP status (network failures) are transient.
func wrapStripeErr(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return &TransientError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransientError{Op: op, Err: err}
}
