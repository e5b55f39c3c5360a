package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles repeated requests from one client, keyed by address.
// Used on the credential endpoints to slow down password guessing.
type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts requests per key inside a fixed window. Counters
// reset when their window lapses; stale keys are dropped whenever a new
// window opens so the map does not grow with one-off clients.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*windowCount
}

type windowCount struct {
	seen  int
	until time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*windowCount),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.until) {
		l.dropLapsed(now)
		l.windows[key] = &windowCount{seen: 1, until: now.Add(l.window)}
		return true
	}
	if current.seen >= l.limit {
		return false
	}
	current.seen++
	return true
}

func (l *fixedWindowLimiter) dropLapsed(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.until) {
			delete(l.windows, key)
		}
	}
}
