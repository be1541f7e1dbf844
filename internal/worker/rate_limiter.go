package worker

import (
	"sync"
	"time"
)

// RateLimiter caps how many sends one from-address may make inside a
// sliding 24h window. A zero limit means unlimited.
type RateLimiter struct {
	mu        sync.RWMutex
	limit     int
	window    time.Duration
	sentTimes []time.Time
}

func NewRateLimiter(dailyLimit int) *RateLimiter {
	return &RateLimiter{
		limit:     dailyLimit,
		window:    24 * time.Hour,
		sentTimes: make([]time.Time, 0),
	}
}

// Allow reports whether another send fits in the window and records it.
func (r *RateLimiter) Allow() bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	validTimes := make([]time.Time, 0, len(r.sentTimes))
	for _, t := range r.sentTimes {
		if t.After(cutoff) {
			validTimes = append(validTimes, t)
		}
	}
	r.sentTimes = validTimes

	if len(r.sentTimes) < r.limit {
		r.sentTimes = append(r.sentTimes, now)
		return true
	}
	return false
}

// GetStatus returns sends inside the window, remaining headroom, and when
// the oldest recorded send ages out.
func (r *RateLimiter) GetStatus() (sent int, remaining int, resetTime time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	earliest := now
	for _, t := range r.sentTimes {
		if t.After(cutoff) {
			sent++
			if t.Before(earliest) {
				earliest = t
			}
		}
	}

	if r.limit > 0 {
		remaining = r.limit - sent
		if remaining < 0 {
			remaining = 0
		}
	}
	if sent > 0 {
		resetTime = earliest.Add(r.window)
	} else {
		resetTime = now
	}
	return
}
