// Package ratelimit limits how often device operations may target a single
// device. Each key gets its own token bucket; one device cannot exhaust
// another's quota.
package ratelimit

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a key has exhausted its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in a bucket. 0 = RequestsPerMinute.
}

// Limiter is a keyed token bucket limiter. Buckets are created lazily and
// start full.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewLimiter creates a limiter. A nil *Limiter is valid and never limits.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:   burst,
	}
}

// Allow consumes one token for key, or returns ErrRateLimited.
func (l *Limiter) Allow(key string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	if !l.bucket(key).Allow() {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Keys returns the number of keys with a bucket.
func (l *Limiter) Keys() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
