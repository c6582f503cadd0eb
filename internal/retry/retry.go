package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy retries a function with exponential backoff.
type Policy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	retryable    func(error) bool
}

// NewPolicy creates a retry policy. Every error is retryable unless Only narrows it.
func NewPolicy(maxAttempts int, initialDelay time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		maxAttempts:  maxAttempts,
		initialDelay: initialDelay,
		maxDelay:     10 * time.Second,
		retryable:    func(error) bool { return true },
	}
}

// Only returns a copy of the policy that retries only errors matching fn.
func (p *Policy) Only(fn func(error) bool) *Policy {
	cp := *p
	cp.retryable = fn
	return &cp
}

// Execute runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done.
func (p *Policy) Execute(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	delay := p.initialDelay

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retryable(err) {
			return err
		}
		if attempt == p.maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
		case <-timer.C:
		}

		delay *= 2
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}

	if p.maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", p.maxAttempts, lastErr)
}
