// Package accounts provides account records and their PostgreSQL persistence,
// including the billing fields kept in sync with the payment provider.
package accounts

import (
	"errors"
	"time"
)

// Role is an account's authorization role
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

var (
	// ErrNotFound indicates no account matched the lookup
	ErrNotFound = errors.New("account not found")

	// ErrDuplicateEmail indicates the email is already registered
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrCustomerMismatch indicates the account is already linked to a
	// different payment provider customer
	ErrCustomerMismatch = errors.New("account linked to a different customer")
)

// Account is a registered user. Billing fields are empty until the account
// completes a checkout; PasswordHash is empty for OAuth-only accounts.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	StripeCustomerID       string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID   string    `json:"stripe_subscription_id,omitempty"`
	StripePriceID          string    `json:"stripe_price_id,omitempty"`
	StripeCurrentPeriodEnd time.Time `json:"stripe_current_period_end,omitempty"`

	// BillingSyncedAt is the created timestamp of the most recent billing
	// event applied to this account. Older events are rejected.
	BillingSyncedAt time.Time `json:"-"`
}

// Subscribed reports whether the account currently has a subscription on file
func (a *Account) Subscribed() bool {
	return a.StripeSubscriptionID != ""
}

// SubscriptionLapsed reports whether the recorded period end has passed
func (a *Account) SubscriptionLapsed(now time.Time) bool {
	return a.Subscribed() && !a.StripeCurrentPeriodEnd.IsZero() && a.StripeCurrentPeriodEnd.Before(now)
}

// SubscriptionState is the set of billing fields updated together when a
// subscription event is applied. They change as a unit so a reader never
// observes a plan without its period end.
type SubscriptionState struct {
	SubscriptionID   string
	PriceID          string
	CurrentPeriodEnd time.Time
}
