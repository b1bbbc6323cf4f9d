package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil stays nil", nil, false},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"rate limit text", errors.New("rate limit exceeded, retry later"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connection refused"), true},
		{"context deadline", context.DeadlineExceeded, true},
		{"service unavailable", errors.New("503 Service Unavailable"), true},
		{"bad api key", errors.New("401 invalid api key"), false},
		{"bad request", errors.New("400 model not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				if ClassifyError(nil) != nil {
					t.Fatal("expected nil classification for nil error")
				}
				return
			}
			got := ClassifyError(tt.err)
			if got.IsTransient() != tt.transient {
				t.Errorf("ClassifyError(%v).IsTransient() = %v, want %v", tt.err, got.IsTransient(), tt.transient)
			}
			if tt.transient && got.RetryAfter <= 0 {
				t.Errorf("transient error should carry a retry delay")
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(nil) {
		t.Error("nil error is not retryable")
	}
	if !ShouldRetry(errors.New("request timeout")) {
		t.Error("timeout should be retryable")
	}
	if ShouldRetry(errors.New("unsupported model")) {
		t.Error("permanent error should not be retryable")
	}
}

func TestGetRetryDelay(t *testing.T) {
	if d := GetRetryDelay(errors.New("429 slow down")); d != 5*time.Second {
		t.Errorf("rate limit delay = %v, want 5s", d)
	}
	if d := GetRetryDelay(errors.New("invalid input")); d != 0 {
		t.Errorf("permanent error delay = %v, want 0", d)
	}
}
