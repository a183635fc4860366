package relay

import (
	"errors"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
)

// Retry bounds the delivery attempts per destination.
type Retry struct {
	// MaxAttempts is the total number of attempts including the first;
	// 0 selects the default of 3.
	MaxAttempts int
	// Backoff is the fixed delay before retrying a timed-out delivery;
	// a rate-limit hint from the transport takes precedence. 0 selects
	// the default.
	Backoff time.Duration
}

func (r Retry) normalized() Retry {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaultMaxAttempts
	}
	if r.Backoff <= 0 {
		r.Backoff = defaultBackoff
	}
	return r
}

// Delay returns how long to wait before the next attempt, preferring the
// transport-provided hint when the failure carried one.
func (r Retry) Delay(err error) time.Duration {
	var de *DeliveryError
	if errors.As(err, &de) && de.RetryAfter > 0 {
		return de.RetryAfter
	}
	return r.Backoff
}

// retryable reports whether the failure is worth another attempt.
func retryable(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
