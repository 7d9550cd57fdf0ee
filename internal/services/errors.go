package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Sentinel markers for the failure taxonomy. Every error that crosses a
// package boundary should wrap exactly one of these so callers can classify
// without string matching.
var (
	ErrNetworkTransient    = errors.New("transient network failure")
	ErrRateLimited         = errors.New("rate limited")
	ErrCircuitOpen         = errors.New("circuit open")
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrValidation          = errors.New("validation error")
	ErrDuplicateRelease    = errors.New("duplicate release")
	ErrTrackerPermanent    = errors.New("tracker rejected request")
	ErrExternalUnavailable = errors.New("external service unavailable")
	ErrInternalInvariant   = errors.New("internal invariant violation")
	ErrCancelled           = errors.New("cancelled")
	ErrConfiguration       = errors.New("configuration error")
	ErrNotFound            = errors.New("not found")
)

// Kind names the taxonomy bucket of a failure for logs and persistence.
type Kind string

const (
	KindNetworkTransient    Kind = "network_transient"
	KindRateLimited         Kind = "rate_limited"
	KindCircuitOpen         Kind = "circuit_open"
	KindAuthRejected        Kind = "auth_rejected"
	KindValidation          Kind = "validation"
	KindDuplicateRelease    Kind = "duplicate_release"
	KindTrackerPermanent    Kind = "tracker_permanent"
	KindExternalUnavailable Kind = "external_unavailable"
	KindInternal            Kind = "internal"
	KindCancelled           Kind = "cancelled"
	KindConfiguration       Kind = "configuration"
	KindNotFound            Kind = "not_found"
	KindUnknown             Kind = "unknown"
)

// Wrap builds an error message that includes component and operation context
// while tagging it with the provided marker for later classification. The
// marker should be one of the exported sentinels above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// retryAfterError carries a server-mandated minimum wait alongside the rate
// limit marker.
type retryAfterError struct {
	after time.Duration
	cause error
}

func (e *retryAfterError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.after, e.cause)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.after)
}

func (e *retryAfterError) Is(target error) bool { return target == ErrRateLimited }

func (e *retryAfterError) Unwrap() error { return e.cause }

// RateLimited builds a rate-limit error honoring a Retry-After duration.
func RateLimited(after time.Duration, cause error) error {
	if after < 0 {
		after = 0
	}
	return &retryAfterError{after: after, cause: cause}
}

// RetryAfter reports the server-mandated wait attached to a rate-limit
// error, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.after, true
	}
	return 0, false
}

// KindOf maps an error to its taxonomy kind. Unmarked errors are probed for
// well-known transport failures before falling back to unknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrAuthRejected):
		return KindAuthRejected
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicateRelease):
		return KindDuplicateRelease
	case errors.Is(err, ErrTrackerPermanent):
		return KindTrackerPermanent
	case errors.Is(err, ErrNetworkTransient):
		return KindNetworkTransient
	case errors.Is(err, ErrExternalUnavailable):
		return KindExternalUnavailable
	case errors.Is(err, ErrInternalInvariant):
		return KindInternal
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case isTransportError(err):
		return KindNetworkTransient
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether an operation may be retried immediately by the
// in-call retry wrapper. Circuit-open failures are excluded: those wait out
// the cooldown at the job level instead.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetworkTransient, KindRateLimited, KindExternalUnavailable:
		return true
	default:
		return false
	}
}

// IsRequeueable reports whether a failed job should be rescheduled with
// backoff rather than failed permanently.
func IsRequeueable(err error) bool {
	if IsRetryable(err) {
		return true
	}
	return KindOf(err) == KindCircuitOpen
}

func isTransportError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Details is the flattened view of a failure used by the worker and the
// structured logs.
type Details struct {
	Kind    Kind
	Message string
	Hint    string
	Cause   error
}

// DetailsOf derives log- and persistence-ready details from an error.
func DetailsOf(err error) Details {
	if err == nil {
		return Details{Kind: KindUnknown}
	}
	kind := KindOf(err)
	return Details{
		Kind:    kind,
		Message: strings.TrimSpace(err.Error()),
		Hint:    hintFor(kind),
		Cause:   errors.Unwrap(err),
	}
}

func hintFor(kind Kind) string {
	switch kind {
	case KindNetworkTransient, KindExternalUnavailable:
		return "will retry; check service reachability if it persists"
	case KindRateLimited:
		return "will retry after the limiter window"
	case KindCircuitOpen:
		return "breaker cooling down; retries resume after the probe"
	case KindAuthRejected:
		return "check tracker credentials in the config"
	case KindValidation:
		return "fix the entry or tracker schema and retry"
	case KindDuplicateRelease:
		return "release already on the tracker"
	case KindTrackerPermanent:
		return "inspect the tracker response detail"
	case KindConfiguration:
		return "fix the configuration and restart"
	case KindCancelled:
		return "cancelled by operator"
	default:
		return "check logs for details"
	}
}
