package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// checkoutLimiter caps checkout attempts per buyer inside a fixed window.
// Counters live in memory, which is enough for a single storefront instance.
type checkoutLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]attemptBucket
}

type attemptBucket struct {
	attempts int
	resetAt  time.Time
}

func newCheckoutLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &checkoutLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]attemptBucket),
	}
}

// Allow records one attempt for the buyer key and reports whether it fits
// the window. Blank keys share a single anonymous bucket.
func (l *checkoutLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.resetAt) {
		l.buckets[key] = attemptBucket{attempts: 1, resetAt: now.Add(l.window)}
		l.evictStaleLocked(now)
		return true
	}

	if bucket.attempts >= l.limit {
		return false
	}
	bucket.attempts++
	l.buckets[key] = bucket
	return true
}

func (l *checkoutLimiter) evictStaleLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.resetAt) {
			delete(l.buckets, key)
		}
	}
}
