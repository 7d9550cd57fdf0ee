package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultRetryAttempts = 5
	defaultRetryMaxDelay = 30 * time.Second
)

type retryOptions struct {
	attempts uint
	maxDelay time.Duration
	retryIf  func(error) bool
	logger   *slog.Logger
}

// RetryOption customizes a Retry call.
type RetryOption func(*retryOptions)

// WithAttempts overrides the total attempt count (first try included).
func WithAttempts(n uint) RetryOption {
	return func(o *retryOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithMaxDelay caps the backoff between attempts.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(o *retryOptions) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

// WithRetryIf replaces the default retryability predicate.
func WithRetryIf(pred func(error) bool) RetryOption {
	return func(o *retryOptions) {
		if pred != nil {
			o.retryIf = pred
		}
	}
}

// WithRetryLogger logs each retry decision at warn level.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(o *retryOptions) { o.logger = logger }
}

// Retry runs fn with exponential backoff, doubling from one second up to the
// configured cap. Rate-limit errors carrying a Retry-After extend the wait to
// at least that duration. Terminal errors and context cancellation abort
// immediately, and the last attempt's error is returned unchanged so callers
// can classify it.
func Retry(ctx context.Context, operation string, fn func() error, opts ...RetryOption) error {
	o := retryOptions{
		attempts: defaultRetryAttempts,
		maxDelay: defaultRetryMaxDelay,
		retryIf:  IsRetryable,
	}
	for _, opt := range opts {
		opt(&o)
	}

	delayFor := func(n uint, err error, _ *retry.Config) time.Duration {
		d := backoffDelay(n, o.maxDelay)
		if after, ok := RetryAfter(err); ok && after > d {
			d = after
		}
		return d
	}

	callOpts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(o.attempts),
		retry.DelayType(delayFor),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return o.retryIf(err)
		}),
		retry.LastErrorOnly(true),
	}
	if o.logger != nil {
		logger := o.logger
		callOpts = append(callOpts, retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying operation",
				slog.String("operation", operation),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}))
	}

	return retry.Do(fn, callOpts...)
}

// backoffDelay computes 2^attempt seconds capped at max.
func backoffDelay(attempt uint, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := time.Duration(1<<attempt) * time.Second
	if d > max {
		return max
	}
	return d
}
