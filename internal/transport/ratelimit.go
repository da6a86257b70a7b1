package transport

import (
	"sync"
	"time"
)

// RateLimiter bounds how many proctoring events a client may send per minute.
// ARCHITECTURAL DISCOVERY: Per-client state tracking with periodic cleanup
// prevents memory leaks in long-running exam sessions
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	clients  map[string]*clientLimit
	stop     chan struct{}
	stopOnce sync.Once
}

// clientLimit tracks the current window for a single client.
type clientLimit struct {
	eventCount  int
	windowStart time.Time
}

// NewRateLimiter creates a rate limiter allowing limit events per minute.
// A background janitor evicts idle client entries until Stop is called.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = 120
	}
	rl := &RateLimiter{
		limit:   limit,
		clients: make(map[string]*clientLimit),
		stop:    make(chan struct{}),
	}

	go rl.janitor()

	return rl
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow reports whether userID may send another event this minute.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &clientLimit{
			eventCount:  1,
			windowStart: now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.eventCount = 1
		limit.windowStart = now
		return true
	}

	if limit.eventCount >= rl.limit {
		return false
	}

	limit.eventCount++
	return true
}

// Cleanup removes client entries idle longer than five rate windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}
