package morning

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bencan1a/calendarBot-sub009/server/window"
)

// now is the evening before the analyzed morning.
var testNow = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTestAnalyzer(clock clockwork.Clock) *Analyzer {
	return NewAnalyzer(clock, NewCache(nil, clock, zerolog.Nop()), zerolog.Nop())
}

func timedEvent(id, subject string, start time.Time, durMinutes int64) window.Event {
	return window.Event{
		MeetingID:       id,
		Subject:         subject,
		Start:           start,
		DurationSeconds: durMinutes * 60,
	}
}

func TestFreeMorning(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	res, err := a.Analyze(context.Background(), nil, Request{})
	require.NoError(t, err)

	assert.Equal(t, "2026-03-02", res.Date)
	assert.Equal(t, "UTC", res.Timezone)
	assert.Equal(t, 0.0, res.TotalMeetingsEquivalent)
	assert.Equal(t, "light", res.Density)
	assert.False(t, res.EarlyStartFlag)
	assert.Equal(t,
		"Good evening. You have a completely free morning tomorrow until noon. This is a great opportunity for deep work or personal time.",
		res.SpeechText)

	require.Len(t, res.FreeBlocks, 1)
	assert.Equal(t, 360, res.FreeBlocks[0].DurationMinutes)
	assert.Equal(t, "deep work session", res.FreeBlocks[0].RecommendedAction)
}

func TestEarlyStartRecommendation(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("evt-1", "Ops review", time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), 30),
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)

	assert.True(t, res.EarlyStartFlag)
	assert.Equal(t, "6:00 am", res.WakeUpRecommendation, "wake-up is floored at 6:00")
	assert.Contains(t, res.SpeechText, "very early")
	assert.Contains(t, res.SpeechText, "Consider waking up by 6:00 am")
	assert.True(t, res.SpeechText[:13] == "Good morning.")
}

func TestWakeUpNinetyMinutesBeforeFirstMeeting(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("evt-1", "Early sync", time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC), 30),
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)

	assert.True(t, res.EarlyStartFlag)
	assert.Equal(t, "6:15 am", res.WakeUpRecommendation)
}

func TestDensityBuckets(t *testing.T) {
	cases := []struct {
		meetings int
		want     string
	}{
		{1, "light"},
		{2, "light"},
		{3, "moderate"},
		{4, "moderate"},
		{5, "busy"},
	}
	for _, tc := range cases {
		clock := clockwork.NewFakeClockAt(testNow)
		a := newTestAnalyzer(clock)

		var events []window.Event
		for i := 0; i < tc.meetings; i++ {
			start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
			events = append(events, timedEvent(fmt.Sprintf("evt-%d", i), fmt.Sprintf("Meeting %d", i), start, 30))
		}
		res, err := a.Analyze(context.Background(), events, Request{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Density, "%d meetings", tc.meetings)
		assert.Equal(t, float64(tc.meetings), res.TotalMeetingsEquivalent)
	}
}

func TestAllDayEventsCountHalf(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		{MeetingID: "conf", Subject: "Offsite conference", Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), AllDay: true},
		{MeetingID: "bday", Subject: "Sam's birthday", Start: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), AllDay: true},
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.TotalMeetingsEquivalent, "only actionable all-day events count")
}

func TestHiddenAndCancelledEventsExcluded(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("evt-1", "Private appointment", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 30),
		timedEvent("evt-2", "Busy", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), 30),
		{
			MeetingID: "evt-3", Subject: "Team Sync", Cancelled: true,
			Start: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), DurationSeconds: 1800,
		},
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.TotalMeetingsEquivalent)
	assert.Empty(t, res.MeetingInsights)
}

func TestFocusBlocksExcludedFromCountButBlockTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("focus", "Focus Time", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), 120),
		timedEvent("sync", "Team Sync", time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), 30),
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.TotalMeetingsEquivalent)
	require.Len(t, res.MeetingInsights, 1)
	assert.Equal(t, "Team Sync", res.MeetingInsights[0].Subject)

	// The focus block still occupies the calendar, so the 8:00-10:00 span is
	// not free.
	for _, block := range res.FreeBlocks {
		assert.False(t, block.Start.Hour() == 8, "focus span should not be reported free")
	}
}

func TestFreeBlocksAroundMeetings(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("evt-1", "Team Sync", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 30),
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)

	require.Len(t, res.FreeBlocks, 2)
	assert.Equal(t, 180, res.FreeBlocks[0].DurationMinutes)
	assert.Equal(t, "deep work session", res.FreeBlocks[0].RecommendedAction)
	assert.Equal(t, 150, res.FreeBlocks[1].DurationMinutes)
	assert.Equal(t, "deep work session", res.FreeBlocks[1].RecommendedAction)
}

func TestShortGapsAreNotFreeBlocks(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("a", "A", time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), 170),
		timedEvent("b", "B", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 170),
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	assert.Empty(t, res.FreeBlocks, "10 and 8 minute gaps are below the 30-minute floor")
}

func TestBackToBackDetection(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	events := []window.Event{
		timedEvent("a", "A", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 30),
		timedEvent("b", "B", time.Date(2026, 3, 2, 9, 40, 0, 0, time.UTC), 30),
		timedEvent("c", "C", time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), 30),
	}
	res, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BackToBackCount)
	assert.Contains(t, res.SpeechText, "back-to-back")
}

func TestExplicitDateAndTimezone(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	// 14:30 UTC is 9:30 AM in New York on this date.
	events := []window.Event{
		timedEvent("evt-1", "Team Sync", time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC), 30),
	}
	res, err := a.Analyze(context.Background(), events, Request{
		Date:     "2026-03-05",
		Timezone: "America/New_York",
	})
	require.NoError(t, err)

	assert.Equal(t, "2026-03-05", res.Date)
	assert.Equal(t, "America/New_York", res.Timezone)
	assert.Equal(t, 1.0, res.TotalMeetingsEquivalent)
	require.Len(t, res.MeetingInsights, 1)
	assert.Equal(t, "9:30 am", res.MeetingInsights[0].StartLocal)
	assert.False(t, res.EarlyStartFlag)
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	res, err := a.Analyze(context.Background(), nil, Request{Timezone: "Not/AZone"})
	require.NoError(t, err)
	assert.Equal(t, "UTC", res.Timezone)
}

func TestInvalidDateRejected(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	_, err := a.Analyze(context.Background(), nil, Request{Date: "03/02/2026"})
	assert.Error(t, err)
}

func TestSSMLWhenRequested(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)

	res, err := a.Analyze(context.Background(), nil, Request{PreferSSML: true})
	require.NoError(t, err)
	assert.Contains(t, res.SSML, "<speak>")
	assert.Contains(t, res.SSML, "completely free morning")
}

func TestDetailLevels(t *testing.T) {
	events := []window.Event{
		timedEvent("a", "A", time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), 30),
		timedEvent("b", "B", time.Date(2026, 3, 2, 6, 40, 0, 0, time.UTC), 30),
		timedEvent("c", "C", time.Date(2026, 3, 2, 7, 20, 0, 0, time.UTC), 30),
	}

	clock := clockwork.NewFakeClockAt(testNow)
	brief, err := newTestAnalyzer(clock).Analyze(context.Background(), events, Request{DetailLevel: "brief"})
	require.NoError(t, err)
	assert.NotContains(t, brief.SpeechText, "back-to-back")

	detailed, err := newTestAnalyzer(clock).Analyze(context.Background(), events, Request{DetailLevel: "detailed"})
	require.NoError(t, err)
	assert.Contains(t, detailed.SpeechText, "back-to-back")
	assert.Contains(t, detailed.SpeechText, "minutes free at")
}

func TestAnalyzeMemoizesResults(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	a := newTestAnalyzer(clock)
	events := []window.Event{
		timedEvent("evt-1", "Team Sync", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 30),
	}

	first, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	assert.Same(t, first, second, "second call within the TTL is served from cache")

	// A different event set misses the cache.
	events = append(events, timedEvent("evt-2", "Design Review", time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), 30))
	third, err := a.Analyze(context.Background(), events, Request{})
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestMemoryCacheExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	c := NewCache(nil, clock, zerolog.Nop())

	res := &Result{Date: "2026-03-02"}
	c.Set(context.Background(), "k", res)

	got, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Same(t, res, got)

	clock.Advance(cacheTTL + time.Second)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
}
