package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/subloop/subloop/pkg/billing"
	"github.com/subloop/subloop/pkg/httputil"
	"github.com/subloop/subloop/pkg/middleware"
)

// handleWebhook is POST /api/billing/webhook. Authentication is the
// provider's payload signature; a 2xx acknowledges the delivery, anything
// else makes the provider redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	event, err := s.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.WithError(err).Warn("rejected billing webhook")
		httputil.WriteBadRequest(w, "invalid webhook signature")
		return
	}

	outcome, err := s.reconciler.Process(r.Context(), event)
	if err != nil {
		if errors.Is(err, billing.ErrEventInFlight) {
			// Another replica is on it; ask the provider to retry later
			httputil.WriteConflict(w, "event is being processed")
			return
		}
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": string(event.Kind),
		}).Error("failed to process billing webhook")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Kind),
		"outcome":    string(outcome),
	}).Info("processed billing webhook")

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleCheckout is POST /api/billing/checkout (session required)
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromRequest(r)
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PriceID == "" {
		httputil.WriteBadRequest(w, "price_id is required")
		return
	}
	mode := billing.CheckoutMode(req.Mode)
	if mode == "" {
		mode = billing.CheckoutModeSubscription
	}
	if !mode.Valid() {
		httputil.WriteBadRequest(w, "mode must be payment or subscription")
		return
	}

	url, err := s.provider.CreateCheckoutSession(r.Context(), billing.CheckoutParams{
		AccountID:  account.ID,
		Email:      account.Email,
		CustomerID: account.StripeCustomerID,
		PriceID:    req.PriceID,
		Mode:       mode,
		SuccessURL: s.appBaseURL + "/dashboard?success=true",
		CancelURL:  s.appBaseURL + "/pricing?canceled=true",
	})
	if err != nil {
		s.logger.WithError(err).WithField("account_id", account.ID).Error("failed to create checkout session")
		httputil.WriteServiceUnavailable(w, "billing provider unavailable")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// handlePortal is POST /api/billing/portal (session required)
func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromRequest(r)
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if account.StripeCustomerID == "" {
		httputil.WriteBadRequest(w, "account has no billing customer")
		return
	}

	url, err := s.provider.CreatePortalSession(r.Context(), account.StripeCustomerID, s.appBaseURL+"/dashboard")
	if err != nil {
		s.logger.WithError(err).WithField("account_id", account.ID).Error("failed to create portal session")
		httputil.WriteServiceUnavailable(w, "billing provider unavailable")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, RedirectResponse{URL: url})
}
