package provider

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"meetflow/internal/queue"
)

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-1", 0},
		{now.Add(2 * time.Minute).Format(http.TimeFormat), 2 * time.Minute},
		{"garbage", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Fatalf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJobError(t *testing.T) {
	t.Parallel()
	plain := errors.New("dial tcp: connection refused")
	if got := JobError(plain); got != plain {
		t.Fatalf("network errors pass through")
	}
	if !queue.IsNoRetry(JobError(&StatusError{Code: 404})) {
		t.Fatalf("404 must not retry")
	}
	if queue.IsNoRetry(JobError(&StatusError{Code: 503})) {
		t.Fatalf("503 must retry")
	}
	var ra queue.RetryAfterError
	if !errors.As(JobError(&StatusError{Code: 429, RetryAfter: time.Minute}), &ra) {
		t.Fatalf("429 must carry retry hint")
	}
	if JobError(nil) != nil {
		t.Fatalf("nil stays nil")
	}
}
