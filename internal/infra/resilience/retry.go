// Package resilience provides the primitives wrapped around external
// dependency calls: bounded retry, a circuit breaker, and a fallback
// provider chain. They guard sub-operations inside a handler; whole-handler
// failures are retried by queue redelivery instead.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// TransientError marks an error as worth retrying. Providers wrap network
// and throttling failures in it; anything else fails fast.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// MarkTransient wraps err so IsTransient reports true. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is flagged as retryable anywhere in its
// chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryConfig bounds the exponential backoff schedule.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig is the schedule used for provider sub-operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry runs op with exponential backoff, retrying only transient errors.
// A non-transient error, context cancellation, or exhausting the attempt
// budget returns the last error unwrapped of retry bookkeeping.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = cfg.MaxInterval
	expBackoff.Multiplier = cfg.Multiplier
	expBackoff.MaxElapsedTime = 0 // attempts bound the loop, not elapsed time

	var policy backoff.BackOff = backoff.WithMaxRetries(expBackoff, uint64(cfg.MaxAttempts-1))
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
