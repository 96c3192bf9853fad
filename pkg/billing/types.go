package billing

import (
	"encoding/json"
	"time"
)

// Kind is the webhook event type as sent by the payment provider
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout.session.completed"
	KindSubscriptionUpdated Kind = "customer.subscription.updated"
	KindSubscriptionDeleted Kind = "customer.subscription.deleted"
)

// Handled reports whether the reconciler acts on this event kind
func (k Kind) Handled() bool {
	switch k {
	case KindCheckoutCompleted, KindSubscriptionUpdated, KindSubscriptionDeleted:
		return true
	}
	return false
}

// Event is a verified webhook event. Object holds the raw `data.object`
// payload; the reconciler decodes only the fields it needs so API version
// drift in unrelated fields cannot break processing.
type Event struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time
	Object    json.RawMessage
}

// checkoutSession is the subset of a checkout session payload the
// reconciler reads
type checkoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// accountID returns the account linkage carried on the session. Metadata is
// preferred; client_reference_id is the fallback.
func (s *checkoutSession) accountID() string {
	if id := s.Metadata["account_id"]; id != "" {
		return id
	}
	return s.ClientReferenceID
}

// subscriptionPayload is the subset of a subscription payload the reconciler
// reads. Newer provider API versions carry the period end on the items
// rather than the subscription, so both locations are decoded.
type subscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscriptionPayload) priceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

func (s *subscriptionPayload) periodEnd() time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 {
		for _, item := range s.Items.Data {
			if item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}

// active reports whether the subscription entitles the account to service
func (s *subscriptionPayload) active() bool {
	switch s.Status {
	case "active", "trialing":
		return true
	}
	return false
}

// terminal reports whether the subscription has ended for good
func (s *subscriptionPayload) terminal() bool {
	switch s.Status {
	case "canceled", "unpaid", "incomplete_expired":
		return true
	}
	return false
}
