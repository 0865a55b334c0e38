package retry

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window request limiter: at most maxRequests may
// proceed within any window-length interval. Grounded on
// enhanced_nntp_retry.py's RateLimiter (a deque of request timestamps,
// trimmed from the front as they age out of the window), reimplemented with
// container/list so trimming the expired prefix is O(expired) rather than
// O(n).
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	timestamps  *list.List
	trippedUntil time.Time
}

// NewRateLimiter builds a limiter allowing maxRequests per window.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 10
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		timestamps:  list.New(),
	}
}

// Trip forces the limiter closed for one full window, used when a 502
// rate-limit response is observed even if the local window count hadn't
// been exceeded yet — the server knows something the local counter
// doesn't.
func (r *RateLimiter) Trip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := time.Now().Add(r.window)
	if until.After(r.trippedUntil) {
		r.trippedUntil = until
	}
}

// Wait blocks until a slot is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := r.reserveOrWait()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserveOrWait either reserves a slot (returning 0) or returns the
// duration the caller should sleep before trying again.
func (r *RateLimiter) reserveOrWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Before(r.trippedUntil) {
		return r.trippedUntil.Sub(now)
	}

	r.evictExpired(now)
	if r.timestamps.Len() < r.maxRequests {
		r.timestamps.PushBack(now)
		return 0
	}

	oldest := r.timestamps.Front().Value.(time.Time)
	return oldest.Add(r.window).Sub(now)
}

func (r *RateLimiter) evictExpired(now time.Time) {
	cutoff := now.Add(-r.window)
	for e := r.timestamps.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			r.timestamps.Remove(e)
		} else {
			break
		}
		e = next
	}
}
