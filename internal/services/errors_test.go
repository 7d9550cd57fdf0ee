package services

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestWrapIncludesDetailAndMarker(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrValidation, "tracker", "upload", "missing field title", cause)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	want := "validation error: tracker: upload: missing field title: boom"
	if err.Error() != want {
		t.Fatalf("unexpected message %q, want %q", err.Error(), want)
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := Wrap(ErrAuthRejected, "tracker", "authenticate", "", nil)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("expected auth marker, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("expected marker to remain unwrappable")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"rate limited", Wrap(ErrRateLimited, "tmdb", "search", "", nil), KindRateLimited},
		{"circuit open", Wrap(ErrCircuitOpen, "flaresolverr", "solve", "", nil), KindCircuitOpen},
		{"auth", Wrap(ErrAuthRejected, "tracker", "auth", "", nil), KindAuthRejected},
		{"validation", Wrap(ErrValidation, "tracker", "upload", "", nil), KindValidation},
		{"duplicate", Wrap(ErrDuplicateRelease, "tracker", "search", "", nil), KindDuplicateRelease},
		{"permanent", Wrap(ErrTrackerPermanent, "tracker", "upload", "", nil), KindTrackerPermanent},
		{"unavailable", Wrap(ErrExternalUnavailable, "imagehost", "upload", "", nil), KindExternalUnavailable},
		{"internal", Wrap(ErrInternalInvariant, "queue", "claim", "", nil), KindInternal},
		{"configuration", Wrap(ErrConfiguration, "config", "load", "", nil), KindConfiguration},
		{"not found", Wrap(ErrNotFound, "queue", "get", "", nil), KindNotFound},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindNetworkTransient},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindNetworkTransient},
		{"dns", &net.DNSError{Err: "no such host", Name: "tracker.example"}, KindNetworkTransient},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOfNetTimeout(t *testing.T) {
	err := fmt.Errorf("fetch: %w", timeoutErr{})
	if got := KindOf(err); got != KindNetworkTransient {
		t.Fatalf("KindOf timeout = %q, want %q", got, KindNetworkTransient)
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	err := RateLimited(7*time.Second, errors.New("HTTP 429"))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit marker, got %v", err)
	}
	after, ok := RetryAfter(err)
	if !ok || after != 7*time.Second {
		t.Fatalf("RetryAfter = %v, %v; want 7s, true", after, ok)
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if after, ok := RetryAfter(wrapped); !ok || after != 7*time.Second {
		t.Fatalf("RetryAfter through wrap = %v, %v", after, ok)
	}
	if _, ok := RetryAfter(errors.New("plain")); ok {
		t.Fatal("plain error should not carry retry-after")
	}
}

func TestRetryability(t *testing.T) {
	if !IsRetryable(Wrap(ErrNetworkTransient, "tmdb", "search", "", nil)) {
		t.Fatal("network transient should be retryable")
	}
	if !IsRetryable(RateLimited(time.Second, nil)) {
		t.Fatal("rate limited should be retryable")
	}
	if IsRetryable(Wrap(ErrValidation, "tracker", "upload", "", nil)) {
		t.Fatal("validation should be terminal")
	}
	if IsRetryable(Wrap(ErrCircuitOpen, "tracker", "upload", "", nil)) {
		t.Fatal("circuit open should not retry in place")
	}
	if !IsRequeueable(Wrap(ErrCircuitOpen, "tracker", "upload", "", nil)) {
		t.Fatal("circuit open should requeue")
	}
	if IsRequeueable(Wrap(ErrDuplicateRelease, "tracker", "search", "", nil)) {
		t.Fatal("duplicate should not requeue")
	}
}

func TestErrorFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{200, KindUnknown},
		{201, KindUnknown},
		{429, KindRateLimited},
		{408, KindNetworkTransient},
		{401, KindAuthRejected},
		{403, KindAuthRejected},
		{404, KindNotFound},
		{422, KindTrackerPermanent},
		{500, KindExternalUnavailable},
		{502, KindExternalUnavailable},
		{503, KindExternalUnavailable},
		{504, KindExternalUnavailable},
	}
	for _, tc := range cases {
		err := ErrorFromStatus("tracker", "upload", tc.status, 3*time.Second)
		if tc.status < 300 {
			if err != nil {
				t.Fatalf("status %d: expected nil, got %v", tc.status, err)
			}
			continue
		}
		if got := KindOf(err); got != tc.want {
			t.Fatalf("status %d: kind %q, want %q", tc.status, got, tc.want)
		}
	}

	err := ErrorFromStatus("tracker", "upload", 429, 9*time.Second)
	if after, ok := RetryAfter(err); !ok || after != 9*time.Second {
		t.Fatalf("429 should carry retry-after, got %v, %v", after, ok)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("15"); got != 15*time.Second {
		t.Fatalf("seconds form = %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("empty = %v", got)
	}
	if got := ParseRetryAfter("garbage"); got != 0 {
		t.Fatalf("garbage = %v", got)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	got := ParseRetryAfter(future)
	if got < 80*time.Second || got > 90*time.Second {
		t.Fatalf("http date = %v, want about 90s", got)
	}
}

func TestDetailsOf(t *testing.T) {
	err := Wrap(ErrTrackerPermanent, "tracker", "upload", "HTTP 422", nil)
	d := DetailsOf(err)
	if d.Kind != KindTrackerPermanent {
		t.Fatalf("kind = %q", d.Kind)
	}
	if d.Message == "" || d.Hint == "" {
		t.Fatalf("expected message and hint, got %+v", d)
	}
}
