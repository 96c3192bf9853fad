package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/subloop/subloop/pkg/observability"
)

// Verifier authenticates webhook payloads. Signature verification is the
// only authentication mechanism on the webhook endpoint, so it runs over the
// raw body bytes before anything is parsed.
type Verifier struct {
	secret    string
	tolerance time.Duration
	metrics   *observability.Metrics
}

// NewVerifier creates a verifier for the given endpoint secret. Events whose
// signed timestamp falls outside the tolerance window are rejected.
func NewVerifier(secret string, tolerance time.Duration, metrics *observability.Metrics) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance, metrics: metrics}
}

// Verify checks the signature header against the raw payload and returns the
// parsed event envelope. The payload bytes must be exactly as received; any
// re-serialization would break the signature.
func (v *Verifier) Verify(payload []byte, sigHeader string) (*Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		v.countFailure("missing_signature")
		return nil, ErrMissingSignature
	}

	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, v.secret, v.tolerance); err != nil {
		v.countFailure(verifyFailureReason(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		v.countFailure("malformed_payload")
		return nil, fmt.Errorf("%w: malformed event payload: %v", ErrInvalidSignature, err)
	}
	if envelope.ID == "" || envelope.Type == "" {
		v.countFailure("malformed_payload")
		return nil, fmt.Errorf("%w: event missing id or type", ErrInvalidSignature)
	}

	return &Event{
		ID:        envelope.ID,
		Kind:      Kind(envelope.Type),
		CreatedAt: time.Unix(envelope.Created, 0).UTC(),
		Object:    envelope.Data.Object,
	}, nil
}

func (v *Verifier) countFailure(reason string) {
	if v.metrics != nil {
		v.metrics.WebhookVerifyFailuresTotal.WithLabelValues(reason).Inc()
	}
}

func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, webhook.ErrNotSigned):
		return "not_signed"
	case errors.Is(err, webhook.ErrTooOld):
		return "timestamp_too_old"
	case errors.Is(err, webhook.ErrNoValidSignature):
		return "no_valid_signature"
	case errors.Is(err, webhook.ErrInvalidHeader):
		return "invalid_header"
	default:
		return "other"
	}
}
