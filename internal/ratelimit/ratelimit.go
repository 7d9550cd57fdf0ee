// Package ratelimit provides keyed token buckets that pace calls to
// external services. A registry owns one bucket per key and is handed
// explicitly to every client that needs pacing.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Well-known limiter keys. Tracker-scoped keys are derived with ForTracker.
const (
	KeyTMDB          = "tmdb"
	KeyTrackerUpload = "tracker_upload"
	KeyTrackerSearch = "tracker_search"
	KeyImageUpload   = "image_upload"
)

// ForTracker scopes a base key to one tracker so that slow trackers do not
// stall the others.
func ForTracker(base, tracker string) string {
	if tracker == "" {
		return base
	}
	return base + ":" + tracker
}

// Limit describes one bucket: a steady refill rate in tokens per second and
// a burst capacity.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool { return l.Rate > 0 && l.Burst > 0 }

// DefaultLimits returns the built-in pacing for the known keys.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		KeyTMDB:          {Rate: 4, Burst: 4},
		KeyTrackerUpload: {Rate: 1, Burst: 1},
		KeyTrackerSearch: {Rate: 2, Burst: 2},
		KeyImageUpload:   {Rate: 1, Burst: 1},
	}
}

type bucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      func() time.Time
}

func newBucket(limit Limit, now func() time.Time) *bucket {
	if now == nil {
		now = time.Now
	}
	return &bucket{
		rate:     limit.Rate,
		capacity: float64(limit.Burst),
		tokens:   float64(limit.Burst),
		last:     now(),
		now:      now,
	}
}

// reserve deducts n tokens and returns how long the caller must wait before
// the reservation becomes valid. Deducting before waiting serializes
// concurrent callers on the same bucket.
func (b *bucket) reserve(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	needed := n - b.tokens
	b.tokens -= n
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / b.rate * float64(time.Second))
}

// giveBack returns tokens from a reservation abandoned on cancellation.
func (b *bucket) giveBack(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(b.now())
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now
}

// Registry holds one token bucket per key. Keys without an explicit limit
// fall back to the matching default, or pass unthrottled when no default
// covers them.
type Registry struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucket
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRegistry builds a registry from the default limits overlaid with the
// provided overrides. Overrides with a non-positive rate or burst are
// rejected.
func NewRegistry(overrides map[string]Limit) (*Registry, error) {
	limits := DefaultLimits()
	for key, limit := range overrides {
		if !limit.valid() {
			return nil, fmt.Errorf("rate limit %q: rate and burst must be positive", key)
		}
		limits[key] = limit
	}
	return &Registry{
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		sleep:   sleepContext,
	}, nil
}

// Apply merges additional limits into the registry, replacing any existing
// bucket for the overridden keys. Tracker schemas use it to tighten the
// defaults at adapter construction.
func (r *Registry) Apply(overrides map[string]Limit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, limit := range overrides {
		if !limit.valid() {
			return fmt.Errorf("rate limit %q: rate and burst must be positive", key)
		}
		r.limits[key] = limit
		delete(r.buckets, key)
	}
	return nil
}

// Wait blocks until one token is available for key, or the context ends.
func (r *Registry) Wait(ctx context.Context, key string) error {
	return r.WaitN(ctx, key, 1)
}

// WaitN blocks until n tokens are available for key, or the context ends.
func (r *Registry) WaitN(ctx context.Context, key string, n int) error {
	if n <= 0 {
		return nil
	}
	b := r.bucketFor(key)
	if b == nil {
		return ctx.Err()
	}
	tokens := float64(n)
	wait := b.reserve(tokens)
	if wait <= 0 {
		return ctx.Err()
	}
	if err := r.sleep(ctx, wait); err != nil {
		b.giveBack(tokens)
		return err
	}
	return nil
}

// Limit reports the configured limit for key, falling back through the
// tracker-scoped form to its base key.
func (r *Registry) Limit(key string) (Limit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limitLocked(key)
}

func (r *Registry) limitLocked(key string) (Limit, bool) {
	if limit, ok := r.limits[key]; ok {
		return limit, true
	}
	if base, scoped := splitKey(key); scoped {
		if limit, ok := r.limits[base]; ok {
			return limit, true
		}
	}
	return Limit{}, false
}

func (r *Registry) bucketFor(key string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[key]; ok {
		return b
	}
	limit, ok := r.limitLocked(key)
	if !ok {
		return nil
	}
	b := newBucket(limit, r.now)
	r.buckets[key] = b
	return b
}

func splitKey(key string) (string, bool) {
	for i := range len(key) {
		if key[i] == ':' {
			return key[:i], true
		}
	}
	return key, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
