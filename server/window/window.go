// Package window holds the in-memory event window: a short, sorted,
// future-only slice of upcoming events that the refresh pipeline replaces
// atomically and that every HTTP handler reads through a snapshot.
package window

import (
	"sync"
	"time"
)

// Holder guards the current window and the full expanded horizon behind a
// single RWMutex. Writers (the refresh pipeline) hold the lock only for the
// slice swap; readers copy the slice reference and release immediately.
// Slices stored here are never mutated after the swap.
type Holder struct {
	mu          sync.RWMutex
	window      []Event
	all         []Event
	lastSuccess time.Time
}

func NewHolder() *Holder {
	return &Holder{}
}

// Swap replaces both the truncated window and the full horizon list.
// last_success is monotonic: a swap stamped earlier than the current one is
// ignored so readers never move backwards in time.
func (h *Holder) Swap(win, all []Event, at time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.lastSuccess.IsZero() && at.Before(h.lastSuccess) {
		return false
	}
	h.window = win
	h.all = all
	h.lastSuccess = at
	return true
}

// Snapshot returns the current window slice. The slice is immutable by
// contract; callers must not modify it.
func (h *Holder) Snapshot() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.window
}

// AllEvents returns the full expanded horizon list backing the morning
// summary analyzer.
func (h *Holder) AllEvents() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.all
}

// LastSuccess reports when the current window was swapped in; zero before
// the first successful refresh.
func (h *Holder) LastSuccess() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSuccess
}

// Len returns the current window length.
func (h *Holder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.window)
}
