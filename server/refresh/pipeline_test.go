package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bencan1a/calendarBot-sub009/server/health"
	"github.com/bencan1a/calendarBot-sub009/server/ics"
	"github.com/bencan1a/calendarBot-sub009/server/skipstore"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// vevent renders one timed VEVENT relative to base.
func vevent(uid, summary string, startOffset, dur time.Duration) string {
	start := base.Add(startOffset)
	end := start.Add(dur)
	return strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DTSTART:" + start.Format("20060102T150405Z"),
		"DTEND:" + end.Format("20060102T150405Z"),
		"END:VEVENT",
	}, "\r\n")
}

func feed(events ...string) string {
	parts := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, events...)
	parts = append(parts, "END:VCALENDAR", "")
	return strings.Join(parts, "\r\n")
}

type env struct {
	pipeline *Pipeline
	holder   *window.Holder
	tracker  *health.Tracker
	skips    *skipstore.Store
	clock    *clockwork.FakeClock
}

type notified struct{ count int }

func (n *notified) WindowUpdated() { n.count++ }

func newEnv(t *testing.T, urls []string, windowSize int) *env {
	t.Helper()
	clock := clockwork.NewFakeClockAt(base)
	holder := window.NewHolder()
	tracker := health.NewTracker(clock)
	skips := skipstore.New(filepath.Join(t.TempDir(), "skipped.json"), clock, zerolog.Nop())

	sources := make([]ics.Source, len(urls))
	for i, u := range urls {
		sources[i] = ics.Source{Name: fmt.Sprintf("source-%d", i+1), URL: u}
	}

	p := NewPipeline(Options{
		Sources:       sources,
		Fetcher:       ics.NewFetcher(5*time.Second, 0, 1.1, zerolog.Nop()),
		Skips:         skips,
		Holder:        holder,
		Tracker:       tracker,
		Clock:         clock,
		Log:           zerolog.Nop(),
		Interval:      5 * time.Minute,
		ExpansionDays: 14,
		WindowSize:    windowSize,
	})
	return &env{pipeline: p, holder: holder, tracker: tracker, skips: skips, clock: clock}
}

func TestRunOnceBuildsSortedFutureWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(
			vevent("later", "Design Review", 4*time.Hour, time.Hour),
			vevent("past", "Old standup", -2*time.Hour, 30*time.Minute),
			vevent("soon", "Team Sync", 15*time.Minute, 30*time.Minute),
		))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	win := e.holder.Snapshot()
	require.Len(t, win, 2, "past events must not appear in the window")
	assert.Equal(t, "soon", win[0].MeetingID)
	assert.Equal(t, "later", win[1].MeetingID)
	assert.True(t, win[0].Start.Before(win[1].Start))
	assert.Equal(t, base, e.holder.LastSuccess())
	assert.Equal(t, 2, e.tracker.Snapshot().EventCount)
}

func TestRunOnceTruncatesToWindowSize(t *testing.T) {
	var events []string
	for i := 0; i < 8; i++ {
		events = append(events, vevent(fmt.Sprintf("evt-%d", i), "Meeting", time.Duration(i+1)*time.Hour, 30*time.Minute))
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(events...))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	assert.Equal(t, 5, e.holder.Len())
	assert.Len(t, e.holder.AllEvents(), 8, "the full horizon keeps everything")
}

func TestRunOnceFiltersSkippedMeetings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(
			vevent("keep", "Team Sync", time.Hour, 30*time.Minute),
			vevent("skipme", "Design Review", 2*time.Hour, 30*time.Minute),
		))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	_, err := e.skips.Add("skipme")
	require.NoError(t, err)

	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	win := e.holder.Snapshot()
	require.Len(t, win, 1)
	assert.Equal(t, "keep", win[0].MeetingID)
	// Skipped meetings stay in the horizon so done-for-day still sees the
	// shape of the day after a refresh.
	assert.Len(t, e.holder.AllEvents(), 2)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(vevent("evt-1", "Team Sync", time.Hour, 30*time.Minute)))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))
	first := e.holder.Snapshot()

	e.clock.Advance(time.Minute)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))
	second := e.holder.Snapshot()

	require.Len(t, second, len(first))
	assert.Equal(t, first[0].MeetingID, second[0].MeetingID)
}

func TestRunOnceAllSourcesFailedLeavesWindowUntouched(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(vevent("evt-1", "Team Sync", time.Hour, 30*time.Minute)))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	e := newEnv(t, []string{good.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))
	lastSuccess := e.holder.LastSuccess()
	require.Equal(t, 1, e.holder.Len())

	// Point the pipeline at a failing source only.
	e.pipeline.sources = []ics.Source{{Name: "source-1", URL: bad.URL}}
	e.clock.Advance(time.Minute)
	err := e.pipeline.RunOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, e.holder.Len(), "window keeps serving stale data")
	assert.Equal(t, lastSuccess, e.holder.LastSuccess(), "last_success must not move on failure")
}

func TestRunOncePartialFailureContinues(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(vevent("evt-1", "Team Sync", time.Hour, 30*time.Minute)))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	e := newEnv(t, []string{bad.URL, good.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	win := e.holder.Snapshot()
	require.Len(t, win, 1)
	assert.Equal(t, "evt-1", win[0].MeetingID)
	assert.Equal(t, "source-2", win[0].RawSource)
}

func TestRunOnceExpandsRecurrences(t *testing.T) {
	start := base.Add(time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(strings.Join([]string{
			"BEGIN:VEVENT",
			"UID:standup",
			"SUMMARY:Standup",
			"DTSTART:" + start.Format("20060102T150405Z"),
			"DURATION:PT15M",
			"RRULE:FREQ=DAILY;COUNT=3",
			"END:VEVENT",
		}, "\r\n")))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 10)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	win := e.holder.Snapshot()
	require.Len(t, win, 3)

	// Occurrence ids must stay distinct across the expansion.
	seen := map[string]bool{}
	for _, ev := range win {
		assert.False(t, seen[ev.MeetingID], "duplicate id %s", ev.MeetingID)
		seen[ev.MeetingID] = true
		assert.Equal(t, int64(900), ev.DurationSeconds)
	}
}

func TestRunOnceAppliesFallbackDuration(t *testing.T) {
	start := base.Add(time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(strings.Join([]string{
			"BEGIN:VEVENT",
			"UID:no-end",
			"SUMMARY:Open ended",
			"DTSTART:" + start.Format("20060102T150405Z"),
			"END:VEVENT",
		}, "\r\n")))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	win := e.holder.Snapshot()
	require.Len(t, win, 1)
	assert.Equal(t, int64(fallbackDurationSeconds), win[0].DurationSeconds)
}

func TestRunOnceNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed(vevent("evt-1", "Team Sync", time.Hour, 30*time.Minute)))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	n := &notified{}
	e.pipeline.notifier = n
	require.NoError(t, e.pipeline.RunOnce(context.Background()))
	assert.Equal(t, 1, n.count)
}

func TestConditionalFetchReusesCachedParse(t *testing.T) {
	var served int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		served++
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, feed(vevent("evt-1", "Team Sync", time.Hour, 30*time.Minute)))
	}))
	defer srv.Close()

	e := newEnv(t, []string{srv.URL}, 5)
	require.NoError(t, e.pipeline.RunOnce(context.Background()))
	require.NoError(t, e.pipeline.RunOnce(context.Background()))

	assert.Equal(t, 1, served, "second cycle should hit the 304 path")
	assert.Equal(t, 1, e.holder.Len(), "window rebuilt from the cached parse")
}
