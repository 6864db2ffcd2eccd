package enrich

import (
	"sync"
	"time"
)

// Window suppresses repeated enrichment attempts for the same key within a
// short horizon. It does not guard against concurrent in-flight duplicates;
// the scheduler's active set does that.
type Window struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	window     time.Duration
	maxEntries int
	clock      Clock
}

// NewWindow builds a dedup window. maxEntries bounds the map before the
// opportunistic sweep kicks in (default 500).
func NewWindow(window time.Duration, maxEntries int, clock Clock) *Window {
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 500
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Window{
		seen:       make(map[string]time.Time),
		window:     window,
		maxEntries: maxEntries,
		clock:      clock,
	}
}

// RecentlyAttempted reports whether key was attempted within the window,
// and how long until it would be admitted again.
func (w *Window) RecentlyAttempted(key string) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.seen[key]
	if !ok {
		return false, 0
	}
	elapsed := w.clock.Now().Sub(last)
	if elapsed >= w.window {
		return false, 0
	}
	return true, w.window - elapsed
}

// MarkAttempted records an attempt for key at the current time.
func (w *Window) MarkAttempted(key string) {
	w.mu.Lock()
	w.seen[key] = w.clock.Now()
	w.mu.Unlock()
}

// Sweep drops entries older than the window, but only once the map exceeds
// its bound. Called after each completed attempt; no background timer.
func (w *Window) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.seen) <= w.maxEntries {
		return
	}
	cutoff := w.clock.Now().Add(-w.window)
	for key, last := range w.seen {
		if last.Before(cutoff) {
			delete(w.seen, key)
		}
	}
}

// Len reports the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
