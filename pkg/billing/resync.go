package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stripe/stripe-go/v82"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/observability"
)

// Resync periodically reconciles accounts whose recorded period end has
// passed against the provider. It is the safety net for webhooks that never
// arrived: a renewal extends the period, a lapsed or deleted subscription is
// cleared.
type Resync struct {
	store    accounts.Store
	provider Provider
	retry    *RetryPolicy
	logger   *observability.Logger
	cron     *cron.Cron
	timeout  time.Duration
}

// NewResync creates the periodic sweep
func NewResync(store accounts.Store, provider Provider, retry *RetryPolicy, logger *observability.Logger) *Resync {
	if retry == nil {
		retry = NewRetryPolicy(DefaultRetryConfig())
	}
	return &Resync{
		store:    store,
		provider: provider,
		retry:    retry,
		logger:   logger,
		cron:     cron.New(),
		timeout:  5 * time.Minute,
	}
}

// Start schedules the sweep on the given cron expression and starts the
// scheduler
func (r *Resync) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.SweepOnce(ctx); err != nil {
			r.logger.WithError(err).Error("billing resync sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule resync: %w", err)
	}

	r.cron.Start()
	r.logger.WithField("schedule", schedule).Info("billing resync scheduled")
	return nil
}

// Stop stops the scheduler, waiting for a running sweep to finish
func (r *Resync) Stop() {
	<-r.cron.Stop().Done()
}

// SweepOnce reconciles every account whose period end has passed. Errors on
// individual accounts are logged and counted, not fatal to the sweep.
func (r *Resync) SweepOnce(ctx context.Context) error {
	lapsed, err := r.store.ListLapsedSubscriptions(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list lapsed subscriptions: %w", err)
	}
	if len(lapsed) == 0 {
		r.logger.Debug("billing resync: nothing lapsed")
		return nil
	}

	var failures int
	for _, account := range lapsed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.resyncAccount(ctx, account); err != nil {
			failures++
			r.logger.WithError(err).WithFields(map[string]interface{}{
				"account_id":      account.ID,
				"subscription_id": account.StripeSubscriptionID,
			}).Error("billing resync failed for account")
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"checked":  len(lapsed),
		"failures": failures,
	}).Info("billing resync sweep finished")

	if failures > 0 {
		return fmt.Errorf("resync failed for %d of %d accounts", failures, len(lapsed))
	}
	return nil
}

func (r *Resync) resyncAccount(ctx context.Context, account *accounts.Account) error {
	var snapshot *SubscriptionSnapshot
	err := r.retry.Do(ctx, func() error {
		var fetchErr error
		snapshot, fetchErr = r.provider.GetSubscription(ctx, account.StripeSubscriptionID)
		return fetchErr
	})
	if err != nil {
		if isMissingSubscription(err) {
			// The provider no longer knows the subscription; the delete
			// event evidently never arrived.
			_, clearErr := r.store.ClearSubscription(ctx, account.ID, time.Now())
			return clearErr
		}
		return err
	}

	if snapshot.Active() {
		if (snapshot.PriceID == "") != snapshot.CurrentPeriodEnd.IsZero() {
			return fmt.Errorf("subscription %s snapshot missing price or period end", account.StripeSubscriptionID)
		}
		// Renewal happened; refresh the period end and plan.
		_, err := r.store.ApplySubscription(ctx, account.ID, accounts.SubscriptionState{
			SubscriptionID:   snapshot.SubscriptionID,
			PriceID:          snapshot.PriceID,
			CurrentPeriodEnd: snapshot.CurrentPeriodEnd,
		}, time.Now())
		return err
	}

	_, err = r.store.ClearSubscription(ctx, account.ID, time.Now())
	return err
}

func isMissingSubscription(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
