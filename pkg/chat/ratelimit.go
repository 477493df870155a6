package chat

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum time between query executions per user.
const DefaultCooldown = 30 * time.Second

// RateLimiter enforces a per-user cooldown between requests. State lives in
// memory only.
type RateLimiter struct {
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewRateLimiter creates a limiter. A non-positive cooldown uses
// DefaultCooldown.
func NewRateLimiter(cooldown time.Duration) *RateLimiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RateLimiter{
		cooldown: cooldown,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Check records a request for userID if the cooldown has elapsed. When it
// has not, the request is not recorded and wait is the number of whole
// seconds to wait, rounded up.
func (r *RateLimiter) Check(userID string) (allowed bool, wait int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, seen := r.last[userID]
	if !seen {
		r.last[userID] = now
		return true, 0
	}

	elapsed := now.Sub(last)
	if elapsed >= r.cooldown {
		r.last[userID] = now
		return true, 0
	}
	remaining := (r.cooldown - elapsed).Seconds()
	return false, int(remaining) + 1
}

// Reset forgets userID so its next request is allowed.
func (r *RateLimiter) Reset(userID string) {
	r.mu.Lock()
	delete(r.last, userID)
	r.mu.Unlock()
}
