package api

import (
	"time"

	"github.com/subloop/subloop/pkg/accounts"
)

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CheckoutRequest is the body of POST /api/billing/checkout. Mode is
// "payment" or "subscription"; empty means subscription.
type CheckoutRequest struct {
	PriceID string `json:"price_id"`
	Mode    string `json:"mode,omitempty"`
}

// RedirectResponse carries a hosted-page URL the client should navigate to
type RedirectResponse struct {
	URL string `json:"url"`
}

// AccountResponse is the public view of an account
type AccountResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	HasCustomer      bool       `json:"has_customer"`
	HasSubscription  bool       `json:"has_subscription"`
	PriceID          string     `json:"price_id,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// NewAccountResponse converts an account record to its public view
func NewAccountResponse(account *accounts.Account) *AccountResponse {
	resp := &AccountResponse{
		ID:              account.ID,
		Email:           account.Email,
		Name:            account.Name,
		Role:            string(account.Role),
		HasCustomer:     account.StripeCustomerID != "",
		HasSubscription: account.Subscribed(),
		PriceID:         account.StripePriceID,
	}
	if !account.StripeCurrentPeriodEnd.IsZero() {
		end := account.StripeCurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	return resp
}
