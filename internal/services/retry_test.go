package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "search", func() error {
		attempts++
		if attempts < 3 {
			return Wrap(ErrNetworkTransient, "tmdb", "search", "connection reset", nil)
		}
		return nil
	}, WithMaxDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnTerminalError(t *testing.T) {
	attempts := 0
	terminal := Wrap(ErrValidation, "tracker", "upload", "missing field", nil)
	err := Retry(context.Background(), "upload", func() error {
		attempts++
		return terminal
	}, WithMaxDelay(time.Millisecond))
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error back, got %v", err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), "search", func() error {
		attempts++
		return Wrap(ErrExternalUnavailable, "tracker", "search", "HTTP 503", nil)
	}, WithAttempts(3), WithMaxDelay(time.Millisecond))
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, ErrExternalUnavailable) {
		t.Fatalf("expected last error back, got %v", err)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, "search", func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return Wrap(ErrNetworkTransient, "tmdb", "search", "", nil)
	}, WithMaxDelay(time.Millisecond))
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts > 2 {
		t.Fatalf("attempts = %d, want at most 2", attempts)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt uint
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt, 30*time.Second); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
