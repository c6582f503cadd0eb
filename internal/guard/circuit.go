package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/teeline/settlement/internal/domain"
)

// ErrCircuitOpen is returned by Execute while a key's circuit rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func fromGobreaker(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// CircuitBreaker keeps one gobreaker circuit per key (one key per tournament feed).
// A circuit opens after failThreshold consecutive failures, lets a single trial call
// through once resetTimeout has passed, and closes again when that call succeeds.
type CircuitBreaker struct {
	mu            sync.Mutex
	breakers      map[string]*gobreaker.CircuitBreaker
	failThreshold uint32
	resetTimeout  time.Duration
	logger        *slog.Logger
}

// NewCircuitBreaker creates a circuit breaker with configurable thresholds.
func NewCircuitBreaker(failThreshold int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if failThreshold <= 0 {
		failThreshold = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
		failThreshold: uint32(failThreshold),
		resetTimeout:  resetTimeout,
		logger:        logger,
	}
}

func (cb *CircuitBreaker) breaker(key string) *gobreaker.CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.breakers[key]
	if ok {
		return b
	}
	threshold := cb.failThreshold
	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     cb.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cb.logger.Warn("circuit breaker state changed",
				"component", "circuit_breaker",
				"key", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	cb.breakers[key] = b
	return b
}

// Execute runs fn through the circuit for key. A rejected call returns an error
// wrapping ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	_, err := cb.breaker(key).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w for %s: %v", ErrCircuitOpen, key, err)
	}
	return err
}

// Check reports whether the circuit for key currently accepts calls.
func (cb *CircuitBreaker) Check(_ context.Context, key string) domain.GuardResult {
	if cb.State(key) == CircuitOpen {
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("circuit open for %s", key),
			Guard:   "circuit_breaker",
		}
	}
	return domain.GuardResult{Allowed: true}
}

// State returns the current state for key.
func (cb *CircuitBreaker) State(key string) CircuitState {
	cb.mu.Lock()
	b, ok := cb.breakers[key]
	cb.mu.Unlock()
	if !ok {
		return CircuitClosed
	}
	return fromGobreaker(b.State())
}
