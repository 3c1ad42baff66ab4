package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/attaboy/adaptiveauth/internal/domain"
)

// SlidingWindow counts events per key over a trailing window. It backs both
// the login rate limit and the request-velocity risk signal.
type SlidingWindow struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewSlidingWindow creates a window allowing limit events per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windows: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// prune drops expired entries for key; callers hold mu.
func (sw *SlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-sw.window)
	entries := sw.windows[key]
	valid := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(sw.windows, key)
		return nil
	}
	sw.windows[key] = valid
	return valid
}

// Check records an event for key unless the limit is already reached.
func (sw *SlidingWindow) Check(_ context.Context, key string) domain.GuardResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	valid := sw.prune(key, now)

	if len(valid) >= sw.limit {
		return domain.GuardResult{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded: %d/%s", sw.limit, sw.window),
			Guard:   "rate_limiter",
		}
	}

	sw.windows[key] = append(valid, now)
	return domain.GuardResult{Allowed: true}
}

// Observe records an event for key regardless of the limit and returns the
// number of events in the window including this one.
func (sw *SlidingWindow) Observe(key string) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	valid := sw.prune(key, now)
	sw.windows[key] = append(valid, now)
	return len(valid) + 1
}

// Count returns the events for key in the window without recording one.
func (sw *SlidingWindow) Count(key string) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.prune(key, sw.now()))
}
