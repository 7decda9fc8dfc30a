package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AnonymousKey is the shared bucket for requests carrying no credential,
// bounding total anonymous load instead of letting each anonymous caller
// mint a fresh bucket.
const AnonymousKey = "anonymous"

const defaultBucketTTL = 5 * time.Minute

// Decision is the outcome of an admission check. When OK is false,
// RetryAfter holds the time until at least one token is available.
type Decision struct {
	OK         bool
	RetryAfter time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per identity key. Refill happens lazily
// from elapsed wall-clock time at admission, so there is no background
// ticking process and behavior is deterministic under an injected clock.
type Limiter struct {
	capacity int
	perSec   rate.Limit
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithBucketTTL overrides how long an idle bucket is retained.
func WithBucketTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// New constructs a Limiter where each bucket holds capacity tokens and
// refills at perSecond tokens per second.
func New(capacity int, perSecond float64, opts ...Option) *Limiter {
	l := &Limiter{
		capacity: capacity,
		perSec:   rate.Limit(perSecond),
		ttl:      defaultBucketTTL,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Admit consumes one token from the bucket for key, admitting the request
// when one is available. Rejections carry the computed retry-after. An
// empty key falls back to the shared anonymous bucket.
func (l *Limiter) Admit(key string) Decision {
	if key == "" {
		key = AnonymousKey
	}
	now := l.now()

	l.mu.Lock()
	l.sweepLocked(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.capacity)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	if b.lim.AllowN(now, 1) {
		return Decision{OK: true}
	}
	// Reserve to learn the wait, then hand the token back.
	res := b.lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	res.CancelAt(now)
	return Decision{RetryAfter: delay}
}

// sweepLocked drops buckets idle longer than the TTL. Runs at most once
// per TTL window, piggybacking on admission instead of a ticker.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}
