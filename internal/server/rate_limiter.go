package server

import (
	"sync"
	"time"
)

// rateLimiter throttles webhook deliveries per provider id with a fixed
// window. Providers redeliver aggressively on anything but a 2xx, so the
// limiter keeps a misconfigured or hostile sender from monopolizing the
// ledger's user locks.
type rateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	counts map[string]*windowCount
}

type windowCount struct {
	start time.Time
	seen  int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]*windowCount),
	}
}

// Allow reports whether another delivery for the key fits in the current
// window. An empty key never passes: webhook routes always carry a
// provider id.
func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.counts[key]
	if bucket == nil || now.Sub(bucket.start) > r.window {
		r.prune(now)
		bucket = &windowCount{start: now}
		r.counts[key] = bucket
	}

	if bucket.seen >= r.limit {
		return false
	}

	bucket.seen++
	return true
}

// prune drops buckets whose window has passed. Called with the lock held,
// on window rollover, so the map stays bounded by the active provider set.
func (r *rateLimiter) prune(now time.Time) {
	for key, bucket := range r.counts {
		if now.Sub(bucket.start) > r.window {
			delete(r.counts, key)
		}
	}
}
