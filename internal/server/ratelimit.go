package server

import (
	"sync"
	"time"
)

// violationInfo tracks consecutive rate limit violations for backoff.
type violationInfo struct {
	count         int
	lastViolation time.Time
	backoffUntil  time.Time
}

// SlidingWindowRateLimiter allows at most maxRequests within any window of
// windowDuration. Repeated violations back off exponentially so a client
// cannot burst at window boundaries.
type SlidingWindowRateLimiter struct {
	maxRequests    int
	windowDuration time.Duration
	timestamps     []time.Time
	violations     violationInfo
	mutex          sync.Mutex

	baseBackoff       time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64

	now func() time.Time
}

// NewSlidingWindowRateLimiter creates a limiter. It returns nil when
// maxRequests is not positive; a nil limiter allows everything.
func NewSlidingWindowRateLimiter(maxRequests int, windowDuration time.Duration) *SlidingWindowRateLimiter {
	if maxRequests <= 0 || windowDuration <= 0 {
		return nil
	}
	return &SlidingWindowRateLimiter{
		maxRequests:       maxRequests,
		windowDuration:    windowDuration,
		timestamps:        make([]time.Time, 0, maxRequests),
		baseBackoff:       time.Second,
		maxBackoff:        time.Minute,
		backoffMultiplier: 2.0,
		now:               time.Now,
	}
}

// IsAllowed records a request and reports whether it is within the limit.
func (rl *SlidingWindowRateLimiter) IsAllowed() bool {
	if rl == nil {
		return true
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()

	if now.Before(rl.violations.backoffUntil) {
		rl.recordViolation(now)
		return false
	}

	rl.cleanOldTimestamps(now)
	if len(rl.timestamps) >= rl.maxRequests {
		rl.recordViolation(now)
		return false
	}

	rl.resetViolationsIfExpired(now)
	rl.timestamps = append(rl.timestamps, now)
	return true
}

// RetryAfter returns how long until a request could be allowed again.
func (rl *SlidingWindowRateLimiter) RetryAfter() time.Duration {
	if rl == nil {
		return 0
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	if now.Before(rl.violations.backoffUntil) {
		return rl.violations.backoffUntil.Sub(now)
	}
	rl.cleanOldTimestamps(now)
	if len(rl.timestamps) < rl.maxRequests {
		return 0
	}
	return rl.timestamps[0].Add(rl.windowDuration).Sub(now)
}

// Must be called with the mutex held.
func (rl *SlidingWindowRateLimiter) recordViolation(now time.Time) {
	rl.violations.count++
	rl.violations.lastViolation = now

	backoff := rl.baseBackoff
	for i := 1; i < rl.violations.count; i++ {
		backoff = time.Duration(float64(backoff) * rl.backoffMultiplier)
		if backoff > rl.maxBackoff {
			backoff = rl.maxBackoff
			break
		}
	}
	rl.violations.backoffUntil = now.Add(backoff)
}

// Violations are forgiven after two quiet windows. Must be called with the
// mutex held.
func (rl *SlidingWindowRateLimiter) resetViolationsIfExpired(now time.Time) {
	if rl.violations.count > 0 && now.Sub(rl.violations.lastViolation) > 2*rl.windowDuration {
		rl.violations = violationInfo{}
	}
}

// Must be called with the mutex held.
func (rl *SlidingWindowRateLimiter) cleanOldTimestamps(now time.Time) {
	cutoff := now.Add(-rl.windowDuration)

	valid := 0
	for valid < len(rl.timestamps) && !rl.timestamps[valid].After(cutoff) {
		valid++
	}
	if valid > 0 {
		n := copy(rl.timestamps, rl.timestamps[valid:])
		rl.timestamps = rl.timestamps[:n]
	}
}
