package guard

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client address. This is the
// cheap in-process front gate for the HTTP layer, the persistent
// multi-vector counters in Guard stay authoritative.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (rl *RateLimiter) getLimiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[client]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[client] = l
	}
	return l
}

// Allow reports whether the client may proceed right now.
func (rl *RateLimiter) Allow(client string) bool {
	return rl.getLimiter(client).Allow()
}
