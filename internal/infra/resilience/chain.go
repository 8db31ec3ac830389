package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ErrAllProvidersFailed is returned when every provider in a fallback
// chain was either skipped (breaker open) or failed.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Guarded pairs one interchangeable provider call with the breaker that
// guards it.
type Guarded[T any] struct {
	Name    string
	Breaker *CircuitBreaker
	Call    func(ctx context.Context) (T, error)
}

// Fallback tries each provider in order, skipping any whose breaker denies
// the call, and records each attempt's outcome against that provider's
// breaker. The first success wins; if every provider is skipped or fails,
// the last failure is wrapped in ErrAllProvidersFailed.
func Fallback[T any](ctx context.Context, providers []Guarded[T]) (T, error) {
	var zero T
	var lastErr error

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if err := p.Breaker.Allow(); err != nil {
			lastErr = err
			continue
		}

		result, err := p.Call(ctx)
		if err != nil {
			p.Breaker.RecordFailure()
			lastErr = fmt.Errorf("provider %s: %w", p.Name, err)
			continue
		}
		p.Breaker.RecordSuccess()
		return result, nil
	}

	if lastErr == nil {
		lastErr = errors.New("empty provider chain")
	}
	return zero, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}
