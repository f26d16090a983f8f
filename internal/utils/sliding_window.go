package utils

import (
	"sync"
	"time"
)

// SlidingWindow allows at most limit hits per key within window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[string][]time.Time
}

func NewSlidingWindow(window time.Duration, limit int) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	return &SlidingWindow{window: window, limit: limit, hits: make(map[string][]time.Time)}
}

// Allow records a hit for key when the window has room. When it does not, it returns the
// time left until the oldest hit expires.
func (w *SlidingWindow) Allow(key string, now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hits := w.prune(key, now)
	if len(hits) >= w.limit {
		return false, hits[0].Add(w.window).Sub(now)
	}
	w.hits[key] = append(hits, now)
	return true, 0
}

func (w *SlidingWindow) Count(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.prune(key, now))
}

func (w *SlidingWindow) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.hits, key)
}

func (w *SlidingWindow) prune(key string, now time.Time) []time.Time {
	hits := w.hits[key]
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	hits = hits[idx:]
	if len(hits) == 0 {
		delete(w.hits, key)
		return nil
	}
	w.hits[key] = hits
	return hits
}
