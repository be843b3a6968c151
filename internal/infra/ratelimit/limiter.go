package ratelimit

import (
	"sync"
	"time"
)

// SweepLimiter is a fixed-window in-memory limiter keyed by caller
// identifier. It is best effort: state lives in the process and resets on
// restart, which is acceptable for the abuse surface it protects.
type SweepLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	buckets  map[string]*bucket
	now      func() time.Time
	lastSwep time.Time
	sweepGap time.Duration
}

type bucket struct {
	windowStart time.Time
	count       int
}

// NewSweepLimiter builds a limiter allowing max hits per window per key.
// Stale buckets are swept opportunistically every sweepGap.
func NewSweepLimiter(window time.Duration, max int, sweepGap time.Duration) *SweepLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	if sweepGap <= 0 {
		sweepGap = 5 * time.Minute
	}
	return &SweepLimiter{
		window:   window,
		max:      max,
		buckets:  make(map[string]*bucket),
		now:      time.Now,
		sweepGap: sweepGap,
	}
}

// WithClock overrides the time source for tests.
func (l *SweepLimiter) WithClock(clock func() time.Time) *SweepLimiter {
	l.now = clock
	return l
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *SweepLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &bucket{windowStart: now, count: 1}
		return true
	}

	b.count++
	return b.count <= l.max
}

// sweepLocked drops buckets whose window has fully elapsed. Caller holds mu.
func (l *SweepLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSwep) < l.sweepGap {
		return
	}
	l.lastSwep = now
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
		}
	}
}
