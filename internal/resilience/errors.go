package resilience

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind tags a RemoteCallError with the failure category that drives
// retry and circuit-breaker decisions.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindRateLimited ErrorKind = "rate_limited"
	KindServer      ErrorKind = "server"
	KindParse       ErrorKind = "parse"
	KindTimeout     ErrorKind = "timeout"
	KindCircuitOpen ErrorKind = "circuit_open"
)

// RemoteCallError is the classified form of every failure surfaced by the
// resilience layer. Classification happens exactly once, in Classify; all
// retryability decisions read from here.
type RemoteCallError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *RemoteCallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote call failed (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote call failed (%s): %s", e.Kind, e.Message)
}

func (e *RemoteCallError) Unwrap() error { return e.Cause }

// IsTransient reports whether the error is expected to clear on its own.
func (e *RemoteCallError) IsTransient() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	}
	return false
}

// IsRetryable reports whether a retry can possibly succeed: transient
// errors plus server errors with a 5xx status.
func (e *RemoteCallError) IsRetryable() bool {
	if e.IsTransient() {
		return true
	}
	return e.Kind == KindServer && e.StatusCode >= 500
}

// ErrCircuitOpen is the synthetic fast-fail returned without touching the
// network while the breaker is open.
var ErrCircuitOpen = &RemoteCallError{Kind: KindCircuitOpen, Message: "circuit breaker is open"}

// Classify maps a raw error to a RemoteCallError by inspecting its message
// for timeout, rate-limit, parse, and network signatures. Anything
// unrecognized defaults to a 500-class server error so it stays retryable.
func Classify(err error) *RemoteCallError {
	if err == nil {
		return nil
	}

	var rce *RemoteCallError
	if errors.As(err, &rce) {
		return rce
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timed out"):
		return &RemoteCallError{Kind: KindTimeout, Message: msg, Cause: err}

	case strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(msg, "429"):
		return &RemoteCallError{Kind: KindRateLimited, StatusCode: 429, Message: msg, Cause: err}

	case strings.Contains(lower, "parse") ||
		strings.Contains(lower, "unmarshal") ||
		strings.Contains(lower, "unexpected end of json") ||
		strings.Contains(lower, "invalid character"):
		return &RemoteCallError{Kind: KindParse, Message: msg, Cause: err}

	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "eof"):
		return &RemoteCallError{Kind: KindNetwork, Message: msg, Cause: err}
	}

	status := statusFromMessage(msg)
	if status == 0 {
		status = 500
	}
	return &RemoteCallError{Kind: KindServer, StatusCode: status, Message: msg, Cause: err}
}

// statusFromMessage pulls an HTTP status code out of messages like
// "http 503: service unavailable".
func statusFromMessage(msg string) int {
	for _, code := range []int{500, 502, 503, 504, 400, 401, 403, 404, 422} {
		if strings.Contains(msg, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}
