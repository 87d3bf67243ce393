package rules

import (
	"sync"
	"time"
)

// trackerSet maintains the debounce start time of every entity currently in
// a tentative violation.
type trackerSet struct {
	started map[string]time.Time
	mu      sync.RWMutex
}

func newTrackerSet() *trackerSet {
	return &trackerSet{started: make(map[string]time.Time)}
}

// Observe starts a tracker for entityID at now if none exists and returns the
// sustained duration, clamped to zero when clocks disagree.
func (t *trackerSet) Observe(entityID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.started[entityID]
	if !ok {
		t.started[entityID] = now
		return 0
	}
	return max(0, now.Sub(start))
}

// Clear removes the tracker of entityID.
func (t *trackerSet) Clear(entityID string) {
	t.mu.Lock()
	delete(t.started, entityID)
	t.mu.Unlock()
}

// Retain deletes trackers for every entity not in present and returns how many
// were removed.
func (t *trackerSet) Retain(present map[string]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id := range t.started {
		if _, ok := present[id]; !ok {
			delete(t.started, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of open trackers.
func (t *trackerSet) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.started)
}

// Snapshot returns a copy of the open trackers.
func (t *trackerSet) Snapshot() []ViolationTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ViolationTracker, 0, len(t.started))
	for id, start := range t.started {
		out = append(out, ViolationTracker{EntityID: id, StartedAt: start})
	}
	return out
}

// Reset drops all trackers.
func (t *trackerSet) Reset() {
	t.mu.Lock()
	clear(t.started)
	t.mu.Unlock()
}
