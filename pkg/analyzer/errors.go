package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/genai"
)

// ParseError marks a response that arrived but could not be
// interpreted. Parse errors are never retried: resending the same
// batch would only buy the same malformed answer.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("analysis parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed analyzer call may be retried.
// Timeouts, rate limits, 5xx responses and network failures are
// transient; parse errors and remaining client errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *ParseError
	if errors.As(err, &perr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var aerr genai.APIError
	if errors.As(err, &aerr) {
		switch {
		case aerr.Code == 408 || aerr.Code == 429:
			return true
		case aerr.Code >= 500 && aerr.Code < 600:
			return true
		default:
			return false
		}
	}

	var nerr net.Error
	return errors.As(err, &nerr)
}

// RetryReason buckets a transient error for metrics.
func RetryReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var aerr genai.APIError
	if errors.As(err, &aerr) {
		switch {
		case aerr.Code == 408:
			return "timeout"
		case aerr.Code == 429:
			return "rate_limit"
		case aerr.Code >= 500:
			return "server_error"
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	return "other"
}
