package usage

import (
	"sync"
	"time"
)

// Tracker sums values submitted over a sliding time window. The LLM
// service feeds it token counts and checks the running total against the
// provider rate limit before admitting the next request. Entries strictly
// older than maxAge are evicted before any read.
type Tracker struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries []trackerEntry
	now     func() time.Time
}

type trackerEntry struct {
	at    time.Time
	value int
}

// NewTracker creates a tracker with the given window size.
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{maxAge: maxAge, now: time.Now}
}

// Add records value at the current time.
func (t *Tracker) Add(value int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, trackerEntry{at: t.now(), value: value})
}

// Total evicts expired entries and returns the sum of the rest.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked()

	total := 0
	for _, e := range t.entries {
		total += e.value
	}
	return total
}

// Len reports the number of live entries, evicting expired ones first.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictLocked()
	return len(t.entries)
}

// evictLocked drops entries at or beyond the window edge. Entries are
// appended in time order, so the survivors form a suffix.
func (t *Tracker) evictLocked() {
	cutoff := t.now().Add(-t.maxAge)

	keep := 0
	for keep < len(t.entries) && !t.entries[keep].at.After(cutoff) {
		keep++
	}
	if keep > 0 {
		t.entries = append(t.entries[:0], t.entries[keep:]...)
	}
}
