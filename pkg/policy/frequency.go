package policy

import (
	"sync"
	"time"
)

// FrequencyTracker backs frequency conditions with a fixed-size ring
// buffer of observation timestamps per (agent, signal) pair.
type FrequencyTracker struct {
	mu      sync.Mutex
	size    int
	buffers map[string]*ring
	now     func() time.Time
}

type ring struct {
	ts   []time.Time
	next int
	full bool
}

// NewFrequencyTracker creates a tracker with the given per-key buffer
// size (default 64).
func NewFrequencyTracker(size int) *FrequencyTracker {
	if size <= 0 {
		size = 64
	}
	return &FrequencyTracker{
		size:    size,
		buffers: make(map[string]*ring),
		now:     time.Now,
	}
}

func key(agent, signal string) string { return agent + "\x00" + signal }

// Record notes one occurrence for (agent, signal).
func (t *FrequencyTracker) Record(agent, signal string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.buffers[key(agent, signal)]
	if !ok {
		r = &ring{ts: make([]time.Time, t.size)}
		t.buffers[key(agent, signal)] = r
	}
	r.ts[r.next] = t.now()
	r.next = (r.next + 1) % t.size
	if r.next == 0 {
		r.full = true
	}
}

// CountSince returns how many occurrences of (agent, signal) happened in
// the last window.
func (t *FrequencyTracker) CountSince(agent, signal string, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.buffers[key(agent, signal)]
	if !ok {
		return 0
	}
	cutoff := t.now().Add(-window)
	n := r.next
	if r.full {
		n = len(r.ts)
	}
	count := 0
	for i := 0; i < n; i++ {
		if !r.ts[i].Before(cutoff) {
			count++
		}
	}
	return count
}
