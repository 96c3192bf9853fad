package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSignature indicates the webhook request carried no signature header
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature indicates the signature did not verify against the
	// endpoint secret, or its timestamp fell outside the tolerance window
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrEventInFlight indicates another worker is currently processing the
	// same event ID
	ErrEventInFlight = errors.New("event is already being processed")

	// ErrUnknownAccount indicates an event referenced an account that does
	// not exist
	ErrUnknownAccount = errors.New("event references unknown account")

	// ErrUnknownSubscription indicates an event referenced a subscription
	// (and customer) no account is linked to
	ErrUnknownSubscription = errors.New("event references unknown subscription")
)

// TransientError marks a provider failure worth retrying, such as a network
// error or a 5xx from the payment provider.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error chain contains a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
