// Package breaker implements a circuit breaker guarding one named flaky
// dependency. Repeated availability failures open the circuit so callers
// fail fast instead of piling onto a service that is already down.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spool/internal/services"
)

// State names the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	defaultThreshold = 3
	defaultWindow    = time.Minute
	defaultCooldown  = time.Minute
)

// Breaker tracks availability failures for one dependency. The zero value is
// not usable; construct with New.
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	window    time.Duration
	cooldown  time.Duration
	state     State
	failures  []time.Time
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithThreshold sets how many failures within the window open the circuit.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithWindow sets the sliding window over which failures are counted.
func WithWindow(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithCooldown sets how long the circuit stays open before admitting a probe.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New builds a closed breaker for the named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: defaultThreshold,
		window:    defaultWindow,
		cooldown:  defaultCooldown,
		state:     StateClosed,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do guards fn with the breaker: it fails fast while the circuit is open,
// otherwise runs fn and records the outcome. The error from fn is returned
// unchanged.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// Allow reports whether a call may proceed. While open it returns a
// circuit-open error carrying the remaining cooldown; in half-open exactly
// one caller is admitted as the probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return b.openErrorLocked(now)
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return b.openErrorLocked(now)
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record feeds a call outcome back into the breaker. Only availability
// failures count against the threshold; a dependency that answers with a
// domain error is still up. Cancellation records nothing.
func (b *Breaker) Record(err error) {
	switch services.KindOf(err) {
	case services.KindCancelled:
		b.abandonProbe()
		return
	case services.KindNetworkTransient, services.KindExternalUnavailable, services.KindCircuitOpen:
		b.recordFailure()
	default:
		b.recordSuccess()
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = b.failures[:0]
	b.probing = false
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
		b.failures = b.failures[:0]
		return
	}
	if b.state == StateOpen {
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.threshold {
		b.state = StateOpen
		b.openedAt = now
		b.failures = b.failures[:0]
	}
}

// abandonProbe releases the half-open slot when the probe never completed.
func (b *Breaker) abandonProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = kept
}

func (b *Breaker) openErrorLocked(now time.Time) error {
	remaining := b.cooldown - now.Sub(b.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	msg := fmt.Sprintf("retry in %s", remaining.Round(time.Second))
	return services.Wrap(services.ErrCircuitOpen, b.name, "", msg, nil)
}

// Status is a point-in-time view of the breaker for health reporting.
type Status struct {
	Name     string
	State    State
	Failures int
	RetryIn  time.Duration
}

// Status reports the current state without mutating it.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Status{Name: b.name, State: b.state, Failures: len(b.failures)}
	if b.state == StateOpen {
		if remaining := b.cooldown - b.now().Sub(b.openedAt); remaining > 0 {
			s.RetryIn = remaining
		}
	}
	return s
}
