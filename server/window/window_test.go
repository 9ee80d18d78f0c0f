package window

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnd(t *testing.T) {
	ev := Event{
		Start:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		DurationSeconds: 1800,
	}
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), ev.End())
}

func TestEventNormalize(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	ev := Event{
		Start:           time.Date(2026, 3, 1, 9, 0, 0, 0, loc),
		DurationSeconds: -10,
	}
	norm := ev.Normalize()
	assert.Equal(t, time.UTC, norm.Start.Location())
	assert.True(t, norm.Start.Equal(ev.Start))
	assert.Equal(t, int64(0), norm.DurationSeconds)
}

func TestEventJSONShape(t *testing.T) {
	ev := Event{
		MeetingID:       "evt-1",
		Subject:         "Team Sync",
		Start:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		DurationSeconds: 1800,
		RawSource:       "source-1",
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	want := `{"meeting_id":"evt-1","subject":"Team Sync","start":"2026-03-01T09:00:00Z","duration_seconds":1800,"is_online_meeting":false,"raw_source":"source-1"}`
	assert.JSONEq(t, want, string(raw))

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.Start.Equal(ev.Start))
	assert.Equal(t, ev.MeetingID, back.MeetingID)
}

func TestHolderSwapAndSnapshot(t *testing.T) {
	h := NewHolder()
	assert.Empty(t, h.Snapshot())
	assert.True(t, h.LastSuccess().IsZero())

	win := []Event{{MeetingID: "a"}, {MeetingID: "b"}}
	all := []Event{{MeetingID: "a"}, {MeetingID: "b"}, {MeetingID: "c"}}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.True(t, h.Swap(win, all, at))
	assert.Len(t, h.Snapshot(), 2)
	assert.Len(t, h.AllEvents(), 3)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, at, h.LastSuccess())
}

func TestHolderSwapMonotonic(t *testing.T) {
	h := NewHolder()
	later := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	require.True(t, h.Swap([]Event{{MeetingID: "new"}}, nil, later))
	assert.False(t, h.Swap([]Event{{MeetingID: "old"}}, nil, earlier))

	snap := h.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "new", snap[0].MeetingID)
	assert.Equal(t, later, h.LastSuccess())
}

// Concurrent readers must only ever observe a complete window: either the
// old slice or the new one, never a partial state.
func TestHolderConcurrentSwap(t *testing.T) {
	h := NewHolder()
	old := make([]Event, 3)
	fresh := make([]Event, 7)
	h.Swap(old, old, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n := len(h.Snapshot())
				if n != 3 && n != 7 {
					t.Errorf("observed torn window of length %d", n)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		at := time.Date(2026, 3, 1, 9, 0, i+1, 0, time.UTC)
		if i%2 == 0 {
			h.Swap(fresh, fresh, at)
		} else {
			h.Swap(old, old, at)
		}
	}
	close(stop)
	wg.Wait()
}
