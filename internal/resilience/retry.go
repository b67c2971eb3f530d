package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy defines retry behavior: delay(attempt) doubles from BaseDelay
// up to MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy provides sensible defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   1 * time.Second,
	MaxDelay:    60 * time.Second,
}

// Delay returns the backoff before the given retry. Attempts are 1-based:
// Delay(1) = BaseDelay, each subsequent attempt doubles, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Execute runs op through the breaker with retry. The breaker is re-checked
// on every attempt, so a circuit opened mid-loop (by this caller or a
// concurrent one) stops further attempts. Only transient errors are
// retried; non-transient errors and attempt exhaustion return immediately
// with the classified error.
func Execute[T any](ctx context.Context, cb *CircuitBreaker, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *RemoteCallError

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := cb.Allow(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			cb.RecordSuccess()
			return result, nil
		}

		rce := Classify(err)
		cb.RecordFailure(rce)
		lastErr = rce

		if !rce.IsTransient() {
			return zero, rce
		}
		if attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		if rce.RetryAfter > delay {
			delay = rce.RetryAfter
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("exhausted %d attempts: %w", attempts, lastErr)
}
