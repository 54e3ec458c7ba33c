package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock returns the current time. time.Now carries a monotonic reading,
// which is what rate.Limiter uses when computing elapsed time.
type Clock func() time.Time

// TokenBucket is the process-wide admission gate in front of the generation
// backend. Token state lives in the wrapped rate.Limiter; mu covers the clock
// read together with the refill and spend so that last never moves backwards.
type TokenBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	capacity int
	now      Clock
	last     time.Time
}

type Option func(*TokenBucket)

func WithClock(clock Clock) Option {
	return func(b *TokenBucket) {
		b.now = clock
	}
}

// NewPerMinute creates a bucket holding requestsPerMinute tokens that
// refills at requestsPerMinute/60 tokens per second. The bucket starts full.
func NewPerMinute(requestsPerMinute int, options ...Option) *TokenBucket {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	b := &TokenBucket{
		capacity: requestsPerMinute,
		now:      time.Now,
	}
	for _, o := range options {
		o(b)
	}
	refill := rate.Limit(float64(requestsPerMinute) / 60)
	b.limiter = rate.NewLimiter(refill, requestsPerMinute)
	// rate.Limiter treats a zero last-update as "full"; pin the start to our clock.
	b.last = b.now()
	b.limiter.SetLimitAt(b.last, refill)
	return b
}

// at returns the current clock reading, clamped to the latest one seen.
// Callers hold mu.
func (b *TokenBucket) at() time.Time {
	now := b.now()
	if now.Before(b.last) {
		return b.last
	}
	b.last = now
	return now
}

// TryAcquire takes one token if available. It never blocks.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.AllowN(b.at(), 1)
}

// Tokens reports the currently available tokens, refilled up to now.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.TokensAt(b.at())
}

func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// RefillRate is in tokens per second.
func (b *TokenBucket) RefillRate() float64 {
	return float64(b.limiter.Limit())
}
