package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter bounds how many compute requests (match, stitch, square) one
// client may start per window.
type RateLimiter struct {
	mu sync.Mutex

	limit  int
	window time.Duration
	now    func() time.Time

	clients map[string]*clientUsage
}

type clientUsage struct {
	windowStart time.Time
	requests    int
}

// NewRateLimiter allows limit requests per client and minute. A limit of zero
// or less disables limiting.
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientUsage),
	}
}

// Allow records a request from clientID, or returns a *RateLimitError when
// the client has used up its window.
func (rl *RateLimiter) Allow(clientID string) error {
	if rl == nil || rl.limit <= 0 {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[clientID]
	if !ok || now.Sub(usage.windowStart) >= rl.window {
		usage = &clientUsage{windowStart: now}
		rl.clients[clientID] = usage
	}
	if usage.requests >= rl.limit {
		return &RateLimitError{
			Limit:      rl.limit,
			RetryAfter: rl.window - now.Sub(usage.windowStart),
		}
	}
	usage.requests++
	return nil
}

// Used returns the requests counted for clientID in its current window.
func (rl *RateLimiter) Used(clientID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if usage, ok := rl.clients[clientID]; ok && rl.now().Sub(usage.windowStart) < rl.window {
		return usage.requests
	}
	return 0
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %d per minute, retry after: %v)", e.Limit, e.RetryAfter.Round(time.Second))
}
