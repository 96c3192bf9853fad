package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/observability"
)

// Outcome describes what processing an event did
type Outcome string

const (
	// OutcomeApplied means the account's billing state changed
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event ID was seen before
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means a newer event already updated the account
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the event carried nothing actionable
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed means processing errored and the provider should retry
	OutcomeFailed Outcome = "failed"
)

// Reconciler turns verified webhook events into account state updates.
// Processing is idempotent: replays are absorbed by the deduper first and by
// the store's conditional updates second, so at-least-once delivery and
// out-of-order arrival both converge on the provider's latest state.
type Reconciler struct {
	store    accounts.Store
	provider Provider
	deduper  Deduper
	retry    *RetryPolicy
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewReconciler creates a reconciler
func NewReconciler(store accounts.Store, provider Provider, deduper Deduper, retry *RetryPolicy, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if retry == nil {
		retry = NewRetryPolicy(DefaultRetryConfig())
	}
	return &Reconciler{
		store:    store,
		provider: provider,
		deduper:  deduper,
		retry:    retry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Process handles one verified event. The returned error is nil for every
// outcome except OutcomeFailed and ErrEventInFlight.
func (r *Reconciler) Process(ctx context.Context, event *Event) (Outcome, error) {
	start := time.Now()
	outcome := OutcomeIgnored

	defer func() {
		if r.metrics != nil {
			r.metrics.WebhookEventsTotal.WithLabelValues(string(event.Kind), string(outcome)).Inc()
			r.metrics.ReconcileDuration.WithLabelValues(string(event.Kind)).Observe(time.Since(start).Seconds())
		}
	}()

	if !event.Kind.Handled() {
		r.logger.WithFields(map[string]interface{}{
			"event_id": event.ID,
			"type":     string(event.Kind),
		}).Debug("ignoring unhandled event type")
		return OutcomeIgnored, nil
	}

	var inner Outcome
	already, err := r.deduper.Do(ctx, event.ID, func() error {
		var handleErr error
		inner, handleErr = r.handleEvent(ctx, event)
		return handleErr
	})
	if err != nil {
		if errors.Is(err, ErrEventInFlight) {
			outcome = OutcomeDuplicate
			return outcome, err
		}
		outcome = OutcomeFailed
		return outcome, err
	}
	if already {
		outcome = OutcomeDuplicate
		r.logger.WithField("event_id", event.ID).Debug("duplicate event acknowledged")
		return outcome, nil
	}

	outcome = inner
	return outcome, nil
}

func (r *Reconciler) handleEvent(ctx context.Context, event *Event) (Outcome, error) {
	switch event.Kind {
	case KindCheckoutCompleted:
		var session checkoutSession
		if err := json.Unmarshal(event.Object, &session); err != nil {
			return OutcomeFailed, fmt.Errorf("decode checkout session: %w", err)
		}
		return r.handleCheckoutCompleted(ctx, event, &session)
	case KindSubscriptionUpdated:
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Object, &sub); err != nil {
			return OutcomeFailed, fmt.Errorf("decode subscription: %w", err)
		}
		return r.handleSubscriptionUpdated(ctx, event, &sub)
	case KindSubscriptionDeleted:
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Object, &sub); err != nil {
			return OutcomeFailed, fmt.Errorf("decode subscription: %w", err)
		}
		return r.handleSubscriptionDeleted(ctx, event, &sub)
	}
	return OutcomeIgnored, nil
}

// handleCheckoutCompleted links the provider customer to the account that
// started the checkout, then pulls the subscription's current state from the
// provider. The fetch is authoritative: the session payload itself carries
// no price or period data.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *Event, session *checkoutSession) (Outcome, error) {
	log := r.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"session_id": session.ID,
	})

	if session.Customer == "" {
		log.Warn("checkout session missing customer; nothing to link")
		return OutcomeIgnored, nil
	}

	accountID := session.accountID()
	if accountID == "" {
		// The linkage is set when the session is created, so a missing
		// account ID means the session came from somewhere else. Surface
		// the failure; a 200 here would bury a broken correlation.
		log.Error("checkout session missing account linkage")
		return OutcomeFailed, fmt.Errorf("%w: session %s carries no account linkage", ErrUnknownAccount, session.ID)
	}

	account, err := r.store.FindByID(ctx, accountID)
	if errors.Is(err, accounts.ErrNotFound) {
		log.WithField("account_id", accountID).Error("checkout session references unknown account")
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	} else if err != nil {
		return OutcomeFailed, err
	}

	if err := r.store.LinkCustomer(ctx, account.ID, session.Customer); err != nil {
		if errors.Is(err, accounts.ErrCustomerMismatch) {
			log.WithFields(map[string]interface{}{
				"account_id":  account.ID,
				"customer_id": session.Customer,
			}).Error("checkout session customer conflicts with linked customer")
			return OutcomeFailed, fmt.Errorf("link customer %s to account %s: %w", session.Customer, account.ID, err)
		}
		return OutcomeFailed, err
	}

	if session.Mode != "" && session.Mode != string(CheckoutModeSubscription) {
		log.Info("payment checkout completed; customer linked")
		return OutcomeApplied, nil
	}
	if session.Subscription == "" {
		log.Info("checkout session linked customer; no subscription to sync")
		return OutcomeApplied, nil
	}

	var snapshot *SubscriptionSnapshot
	err = r.retry.Do(ctx, func() error {
		var fetchErr error
		snapshot, fetchErr = r.provider.GetSubscription(ctx, session.Subscription)
		return fetchErr
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("fetch subscription after checkout: %w", err)
	}
	if (snapshot.PriceID == "") != snapshot.CurrentPeriodEnd.IsZero() {
		// Redelivery re-fetches; the next read may see the settled object.
		return OutcomeFailed, fmt.Errorf("subscription %s snapshot missing price or period end", session.Subscription)
	}

	applied, err := r.store.ApplySubscription(ctx, account.ID, accounts.SubscriptionState{
		SubscriptionID:   snapshot.SubscriptionID,
		PriceID:          snapshot.PriceID,
		CurrentPeriodEnd: snapshot.CurrentPeriodEnd,
	}, event.CreatedAt)
	if err != nil {
		return OutcomeFailed, err
	}
	if !applied {
		log.Info("checkout event superseded by newer billing state")
		return OutcomeStale, nil
	}

	log.WithFields(map[string]interface{}{
		"account_id":      account.ID,
		"subscription_id": snapshot.SubscriptionID,
		"price_id":        snapshot.PriceID,
	}).Info("checkout completed; subscription synced")
	return OutcomeApplied, nil
}

// handleSubscriptionUpdated applies plan and period changes. The account is
// found by subscription ID first; the customer ID fallback covers the first
// update arriving before the checkout event that records the subscription.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event *Event, sub *subscriptionPayload) (Outcome, error) {
	log := r.logger.WithFields(map[string]interface{}{
		"event_id":        event.ID,
		"subscription_id": sub.ID,
		"status":          sub.Status,
	})

	account, err := r.resolveAccount(ctx, sub)
	if err != nil {
		if errors.Is(err, ErrUnknownSubscription) {
			log.Error("subscription update does not resolve to any account")
		}
		return OutcomeFailed, err
	}

	switch {
	case sub.active():
		priceID := sub.priceID()
		periodEnd := sub.periodEnd()
		// Price and period end are written together or not at all; a
		// payload carrying only one of them would leave a subscribed row
		// half-populated.
		if (priceID == "") != periodEnd.IsZero() {
			log.Warn("subscription payload missing price or period end; state unchanged")
			return OutcomeIgnored, nil
		}
		applied, err := r.store.ApplySubscription(ctx, account.ID, accounts.SubscriptionState{
			SubscriptionID:   sub.ID,
			PriceID:          priceID,
			CurrentPeriodEnd: periodEnd,
		}, event.CreatedAt)
		if err != nil {
			return OutcomeFailed, err
		}
		if !applied {
			log.Info("subscription update superseded by newer billing state")
			return OutcomeStale, nil
		}
		log.WithField("account_id", account.ID).Info("subscription updated")
		return OutcomeApplied, nil

	case sub.terminal():
		applied, err := r.store.ClearSubscription(ctx, account.ID, event.CreatedAt)
		if err != nil {
			return OutcomeFailed, err
		}
		if !applied {
			return OutcomeStale, nil
		}
		log.WithField("account_id", account.ID).Info("subscription ended; billing state cleared")
		return OutcomeApplied, nil

	default:
		// Intermediate states (incomplete, past_due, paused) keep the
		// last known good state until the provider settles.
		log.Debug("subscription in intermediate state; no change applied")
		return OutcomeIgnored, nil
	}
}

// handleSubscriptionDeleted clears the subscription fields, keeping the
// customer link for future checkouts.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *Event, sub *subscriptionPayload) (Outcome, error) {
	log := r.logger.WithFields(map[string]interface{}{
		"event_id":        event.ID,
		"subscription_id": sub.ID,
	})

	account, err := r.resolveAccount(ctx, sub)
	if err != nil {
		if errors.Is(err, ErrUnknownSubscription) {
			log.Warn("subscription delete for unknown account; acknowledged without action")
			return OutcomeIgnored, nil
		}
		return OutcomeFailed, err
	}

	applied, err := r.store.ClearSubscription(ctx, account.ID, event.CreatedAt)
	if err != nil {
		return OutcomeFailed, err
	}
	if !applied {
		log.Info("subscription delete superseded by newer billing state")
		return OutcomeStale, nil
	}

	log.WithField("account_id", account.ID).Info("subscription deleted; billing state cleared")
	return OutcomeApplied, nil
}

func (r *Reconciler) resolveAccount(ctx context.Context, sub *subscriptionPayload) (*accounts.Account, error) {
	account, err := r.store.FindBySubscriptionID(ctx, sub.ID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return nil, err
	}

	if sub.Customer == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscription, sub.ID)
	}

	account, err = r.store.FindByCustomerID(ctx, sub.Customer)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscription, sub.ID)
	} else if err != nil {
		return nil, err
	}

	return account, nil
}
