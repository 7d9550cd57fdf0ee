package services

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorFromStatus maps an HTTP response status onto the failure taxonomy.
// It returns nil for 2xx. Gateway failures and 429 come back retryable,
// auth statuses map to the auth marker, and remaining 4xx are permanent.
func ErrorFromStatus(component, operation string, status int, retryAfter time.Duration) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return RateLimited(retryAfter, fmt.Errorf("%s: HTTP %d", buildDetail(component, operation, ""), status))
	case status == http.StatusRequestTimeout:
		return Wrap(ErrNetworkTransient, component, operation, fmt.Sprintf("HTTP %d", status), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Wrap(ErrAuthRejected, component, operation, fmt.Sprintf("HTTP %d", status), nil)
	case status == http.StatusNotFound:
		return Wrap(ErrNotFound, component, operation, fmt.Sprintf("HTTP %d", status), nil)
	case status >= 400 && status < 500:
		return Wrap(ErrTrackerPermanent, component, operation, fmt.Sprintf("HTTP %d", status), nil)
	default:
		return Wrap(ErrExternalUnavailable, component, operation, fmt.Sprintf("HTTP %d", status), nil)
	}
}

// ParseRetryAfter reads a Retry-After header value, accepting both the
// delta-seconds and HTTP-date forms. Missing or malformed values yield zero.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}
