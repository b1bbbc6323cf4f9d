package ai

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorClass represents the category of error for retry decisions.
type ErrorClass int

const (
	// Examples: network timeout, rate limiting, temporary unavailability.
	ErrorClassTransient ErrorClass = iota

	// Examples: validation failures, permission denied, invalid input.
	ErrorClassPermanent
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification and retry guidance.
type ClassifiedError struct {
	Original   error
	Class      ErrorClass
	RetryAfter time.Duration
}

// Error returns a formatted error message.
func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error is temporary and should be retried.
func (c *ClassifiedError) IsTransient() bool {
	return c.Class == ErrorClassTransient
}

// ClassifyError analyzes an error from an LLM, embedding, or index call and
// determines its class and retry strategy.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	if isRateLimitError(err) {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 5 * time.Second,
		}
	}

	if isNetworkError(err) {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 2 * time.Second,
		}
	}

	if isTimeoutError(err) {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 3 * time.Second,
		}
	}

	if isServerError(err) {
		return &ClassifiedError{
			Class:      ErrorClassTransient,
			Original:   err,
			RetryAfter: 2 * time.Second,
		}
	}

	// Unknown errors do not get retried.
	return &ClassifiedError{
		Class:    ErrorClassPermanent,
		Original: err,
	}
}

// ShouldRetry returns true if the error warrants a retry attempt.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).IsTransient()
}

// GetRetryDelay returns the suggested delay before retry, or 0 if not
// retryable.
func GetRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	classified := ClassifyError(err)
	if classified.IsTransient() {
		return classified.RetryAfter
	}
	return 0
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"temporary failure",
		"dial tcp",
		"eof",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"deadline exceeded",
		"operation timed out",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isServerError(err error) bool {
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"500",
		"502",
		"503",
		"504",
		"service unavailable",
		"server overloaded",
		"internal server error",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
