package scheduler

import (
	"errors"
	"strings"
	"testing"
)

func TestClassifyFatalMarkers(t *testing.T) {
	cases := []string{
		"authentication failed",
		"missing credentials for client",
		"invalid config: no api key",
	}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != ErrorFatal {
			t.Errorf("Classify(%q) = %v, want FATAL", msg, got)
		}
	}
}

func TestClassifyRateLimitMarkers(t *testing.T) {
	cases := []string{"HTTP 429 Too Many Requests", "rate limit exceeded"}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != ErrorRateLimit {
			t.Errorf("Classify(%q) = %v, want RATE_LIMIT", msg, got)
		}
	}
}

func TestClassifyTransientMarkers(t *testing.T) {
	cases := []string{"connection refused", "context deadline exceeded: timeout", "503 service unavailable"}
	for _, msg := range cases {
		if got := Classify(errors.New(msg)); got != ErrorTransient {
			t.Errorf("Classify(%q) = %v, want TRANSIENT", msg, got)
		}
	}
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	if got := Classify(errors.New("something unexpected happened")); got != ErrorTransient {
		t.Errorf("Classify unrecognized message = %v, want TRANSIENT default", got)
	}
}

func TestTruncateErrorMessageCapsAt500(t *testing.T) {
	long := strings.Repeat("x", 600)
	got := truncateErrorMessage(long)
	if len(got) != 500 {
		t.Fatalf("expected truncation to 500 chars, got %d", len(got))
	}
}
