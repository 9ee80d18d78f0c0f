// Package health tracks refresh-pipeline liveness for /api/health.
package health

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DegradedAfter is the last-success age past which the service reports
	// degraded (503).
	DegradedAfter = 900 * time.Second
	// StaleAfter is the heartbeat age past which the refresh task is
	// reported stale.
	StaleAfter = 600 * time.Second
)

// Tracker records the pipeline's monotonic progress markers. Fields are
// independently meaningful so readers tolerate observing them mid-update;
// a single mutex keeps each field update itself atomic.
type Tracker struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	serverStart time.Time
	lastAttempt time.Time
	lastSuccess time.Time
	heartbeat   time.Time
	eventCount  int
}

func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{
		clock:       clock,
		serverStart: clock.Now(),
	}
}

// MarkAttempt records the start of a refresh cycle.
func (t *Tracker) MarkAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAttempt = t.clock.Now()
}

// MarkSuccess records a completed cycle and the resulting window size.
// last_success only moves forward.
func (t *Tracker) MarkSuccess(eventCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if now.After(t.lastSuccess) {
		t.lastSuccess = now
	}
	t.eventCount = eventCount
}

// Beat records background-task liveness.
func (t *Tracker) Beat() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heartbeat = t.clock.Now()
}

// State is a point-in-time copy of the tracker.
type State struct {
	ServerStart time.Time
	LastAttempt time.Time
	LastSuccess time.Time
	Heartbeat   time.Time
	EventCount  int
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		ServerStart: t.serverStart,
		LastAttempt: t.lastAttempt,
		LastSuccess: t.lastSuccess,
		Heartbeat:   t.heartbeat,
		EventCount:  t.eventCount,
	}
}

// Degraded reports whether the window data is too old to trust: no refresh
// has ever succeeded, or the last success is older than DegradedAfter.
func (s State) Degraded(now time.Time) bool {
	return s.LastSuccess.IsZero() || now.Sub(s.LastSuccess) > DegradedAfter
}

// RefreshStale reports whether the background task heartbeat has gone quiet.
func (s State) RefreshStale(now time.Time) bool {
	return s.Heartbeat.IsZero() || now.Sub(s.Heartbeat) > StaleAfter
}
