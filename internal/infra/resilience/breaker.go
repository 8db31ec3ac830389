package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// ErrBreakerOpen is returned by Allow while the breaker is open (or while
// the single half-open trial is already taken).
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerConfig tunes one breaker instance.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures trip the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing a trial.
	Cooldown time.Duration
}

// DefaultBreakerConfig matches the provider chain defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// CircuitBreaker guards one external dependency. It counts consecutive
// failures while closed; at the threshold it opens for a cooldown window,
// then admits exactly one trial call. The trial's outcome decides between
// closing again and re-opening.
//
// The breaker is explicit state, one instance per dependency, injected
// where needed. Callers bracket each call with Allow and then exactly one
// of RecordSuccess or RecordFailure.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time // injectable for tests
}

// NewCircuitBreaker creates a closed breaker for the named dependency.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the dependency this breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the breaker's current position, accounting for cooldown
// expiry.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. During half-open it admits a
// single trial; concurrent callers get ErrBreakerOpen until the trial
// resolves.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the breaker to closed.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trialInFlight = false
}

// RecordFailure counts a failure. A failed half-open trial re-opens
// immediately; in closed state the breaker trips once the consecutive
// failure count reaches the threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.open()
	}
}

func (b *CircuitBreaker) open() {
	b.state = StateOpen
	b.failures = 0
	b.trialInFlight = false
	b.openedAt = b.now()
}

// Execute brackets op with the breaker: denied calls return ErrBreakerOpen
// without invoking op.
func (b *CircuitBreaker) Execute(op func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := op(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
