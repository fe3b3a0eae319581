package exchange

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited marks responses the exchange throttled. Retryable with
	// its own backoff, distinct from connectivity failures.
	ErrRateLimited = errors.New("exchange: rate limited")

	// ErrTimeout marks a request whose outcome is unknown. Never interpret
	// as failure; resolve through the fill stream or a status query.
	ErrTimeout = errors.New("exchange: request timed out")

	// ErrOrderNotFound marks an order the exchange no longer knows about.
	ErrOrderNotFound = errors.New("exchange: order not found")
)

// IsRetryable reports whether the error is transient (timeout, throttle,
// plain connectivity) rather than a rejection.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsAmbiguous reports whether the request may have succeeded on the exchange
// despite the local error.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
