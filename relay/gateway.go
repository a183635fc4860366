package relay

import (
	"context"
	"fmt"
	"time"
)

// MediaRef identifies a photo by Telegram file id or by URL.
type MediaRef string

// Gateway is the outbound messaging capability the engine delivers through.
type Gateway interface {
	// SendPhoto delivers one media item to the destination chat. Transport
	// failures are reported as *DeliveryError so the engine can decide
	// whether to retry.
	SendPhoto(ctx context.Context, chatID int64, ref MediaRef, caption string) error
}

// DeliveryError wraps a transport failure with retry semantics.
type DeliveryError struct {
	// Retryable marks transient failures (rate limit, timeout) worth
	// another attempt.
	Retryable bool
	// RetryAfter carries the backoff hint provided by the transport on
	// rate-limit responses; zero means no hint.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "relay: delivery failed"
	}
	return fmt.Sprintf("relay: delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable delivery failure.
func Permanent(err error) *DeliveryError {
	return &DeliveryError{Err: err}
}

// Transient wraps err as a retryable delivery failure with an optional
// backoff hint.
func Transient(err error, retryAfter time.Duration) *DeliveryError {
	return &DeliveryError{Retryable: true, RetryAfter: retryAfter, Err: err}
}
