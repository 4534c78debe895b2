package auth

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleBucketTTL is how long an unused client limiter is kept.
const idleBucketTTL = 10 * time.Minute

// RateLimiter applies a token bucket per client. The zero rate disables it.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	clock  func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerMinute per client with the given burst.
// requestsPerMinute <= 0 returns a limiter that admits everything.
func NewRateLimiter(requestsPerMinute, burst int, logger *slog.Logger) *RateLimiter {
	r := &RateLimiter{
		clock:   time.Now,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
	}
	if requestsPerMinute > 0 {
		r.limit = rate.Limit(float64(requestsPerMinute) / 60.0)
		r.burst = burst
		if r.burst <= 0 {
			r.burst = requestsPerMinute
		}
	}
	return r
}

// SetClock replaces the wall clock (for testing).
func (r *RateLimiter) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Enabled reports whether any limit applies.
func (r *RateLimiter) Enabled() bool { return r.limit > 0 }

// Allow consumes one request for key. When refused it returns the whole
// number of seconds until a request would be admitted.
func (r *RateLimiter) Allow(key string) (bool, int) {
	if !r.Enabled() {
		return true, 0
	}

	now := r.clock()
	r.mu.Lock()
	c, ok := r.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = c
	}
	c.lastSeen = now
	r.mu.Unlock()

	res := c.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, int(math.Ceil(1 / float64(r.limit)))
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, int(math.Ceil(delay.Seconds()))
}

// StartCleanup drops idle client limiters until ctx is done.
func (r *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if !r.Enabled() {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	cutoff := r.clock().Add(-idleBucketTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, key)
			removed++
		}
	}
	if removed > 0 && r.logger != nil {
		r.logger.Debug("Rate limit cleanup",
			"removed_clients", removed,
			"remaining", len(r.clients),
		)
	}
}

// Clients returns the number of tracked clients.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
