package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriceFormat rejects checkout attempts whose price id does
	// not match the provider's allow-listed format.
	ErrInvalidPriceFormat = errors.New("billing: invalid price id format")

	// ErrTokenNotFound covers expired, already-used and forged success
	// tokens alike; callers cannot distinguish the three on purpose.
	ErrTokenNotFound = errors.New("billing: checkout token not found or expired")

	// ErrTokenMismatch means a live provider session was paired with a
	// token the session was not issued for.
	ErrTokenMismatch = errors.New("billing: checkout token mismatch")

	// ErrNoActiveSubscription is returned by cancellation when no
	// provider subscription can be resolved for the user.
	ErrNoActiveSubscription = errors.New("billing: no active subscription")

	// ErrSignatureInvalid marks webhook payloads that fail cryptographic
	// verification. Always terminal, never retried.
	ErrSignatureInvalid = errors.New("billing: webhook signature invalid")

	// ErrUserNotFound means the event or session references a user with
	// no local record.
	ErrUserNotFound = errors.New("billing: user not found")
)

// ProviderError wraps a failed payment provider call with the operation
// that failed. Raw network errors never reach the HTTP layer directly.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing: provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerErr(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}

// IsProviderError reports whether err originates from a provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
