package resilience

import (
	"errors"
	"testing"
	"time"
)

func testBreaker(cfg BreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test", cfg)
	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func retryableErr() *RemoteCallError {
	return Classify(errors.New("connection refused"))
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	cb, _ := testBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, TimeoutDuration: time.Minute})

	for i := 0; i < 2; i++ {
		cb.RecordFailure(retryableErr())
		if cb.State() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	cb.RecordFailure(retryableErr())
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	// While open, calls are rejected without invoking the operation.
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb, now := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, TimeoutDuration: time.Minute})

	cb.RecordFailure(retryableErr())
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	// Before the timeout the call is still rejected.
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected rejection before timeout, got %v", err)
	}

	// After the timeout the next call transitions to half-open and passes.
	*now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected test call to be allowed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}

	// Two successes close the circuit.
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("closed after 1 success, threshold is 2")
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 successes, got %s", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, TimeoutDuration: time.Minute})

	cb.RecordFailure(retryableErr())
	*now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected test call allowed, got %v", err)
	}

	cb.RecordFailure(retryableErr())
	if cb.State() != StateOpen {
		t.Fatalf("expected reopen on half-open failure, got %s", cb.State())
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestBreakerIgnoresNonRetryableErrors(t *testing.T) {
	cb, _ := testBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, TimeoutDuration: time.Minute})

	parseErr := Classify(errors.New("unexpected end of JSON input: unmarshal failed"))
	if parseErr.Kind != KindParse {
		t.Fatalf("expected parse classification, got %s", parseErr.Kind)
	}

	for i := 0; i < 10; i++ {
		cb.RecordFailure(parseErr)
	}
	if cb.State() != StateClosed {
		t.Errorf("non-retryable errors must not open the circuit, got %s", cb.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := testBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, TimeoutDuration: time.Minute})

	cb.RecordFailure(retryableErr())
	cb.RecordFailure(retryableErr())
	cb.RecordSuccess()
	cb.RecordFailure(retryableErr())
	cb.RecordFailure(retryableErr())

	if cb.State() != StateClosed {
		t.Errorf("expected closed after interleaved success, got %s", cb.State())
	}
}
