// Package morning analyzes tomorrow's 6 AM-noon window: meeting density,
// free blocks, back-to-back runs, early starts, and the spoken briefing.
package morning

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bencan1a/calendarBot-sub009/server/prioritizer"
	"github.com/bencan1a/calendarBot-sub009/server/speech"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

const (
	windowStartHour = 6
	windowEndHour   = 12

	maxEventsCap = 50

	minFreeBlockMinutes         = 30
	significantFreeBlockMinutes = 45

	earlyStartHour   = 8
	wakeUpLeadTime   = 90 * time.Minute
	wakeUpFloorHour  = 6
	allDayEquivalent = 0.5
)

// hiddenPatterns mark placeholder or personal entries that never belong in a
// work briefing.
var hiddenPatterns = []string{
	"busy", "free", "phantom", "hidden", "private", "personal",
	"birthday", "holiday", "vacation", "out of office",
}

// nonActionableAllDay marks all-day entries that carry no workload.
var nonActionableAllDay = []string{
	"birthday", "holiday", "vacation", "day off",
	"public holiday", "national holiday", "anniversary",
}

// Request selects the morning to analyze.
type Request struct {
	Date        string // YYYY-MM-DD in the target zone; empty means tomorrow
	Timezone    string
	DetailLevel string // brief, standard, detailed
	PreferSSML  bool
	MaxEvents   int
}

type FreeBlock struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	DurationMinutes   int       `json:"duration_minutes"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
}

type Insight struct {
	Subject         string `json:"subject"`
	StartLocal      string `json:"start_local"`
	DurationMinutes int    `json:"duration_minutes"`
	IsOnlineMeeting bool   `json:"is_online_meeting"`
	Location        string `json:"location,omitempty"`
}

type Result struct {
	Date                    string      `json:"date"`
	Timezone                string      `json:"timezone"`
	TimeframeStart          time.Time   `json:"timeframe_start"`
	TimeframeEnd            time.Time   `json:"timeframe_end"`
	TotalMeetingsEquivalent float64     `json:"total_meetings_equivalent"`
	EarlyStartFlag          bool        `json:"early_start_flag"`
	Density                 string      `json:"density"`
	FreeBlocks              []FreeBlock `json:"free_blocks"`
	BackToBackCount         int         `json:"back_to_back_count"`
	MeetingInsights         []Insight   `json:"meeting_insights"`
	WakeUpRecommendation    string      `json:"wake_up_recommendation_time,omitempty"`
	SpeechText              string      `json:"speech_text"`
	SSML                    string      `json:"ssml,omitempty"`
}

// Analyzer computes morning summaries over the full expanded event horizon,
// memoizing results for five minutes.
type Analyzer struct {
	clock clockwork.Clock
	cache Cache
	log   zerolog.Logger
}

func NewAnalyzer(clock clockwork.Clock, cache Cache, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		clock: clock,
		cache: cache,
		log:   log.With().Str("component", "morning").Logger(),
	}
}

// Analyze runs the full pipeline for req over events. An unknown timezone
// logs a warning and falls back to UTC rather than failing the request.
func (a *Analyzer) Analyze(ctx context.Context, events []window.Event, req Request) (*Result, error) {
	loc := time.UTC
	tzName := "UTC"
	if req.Timezone != "" {
		parsed, err := time.LoadLocation(req.Timezone)
		if err != nil {
			a.log.Warn().Str("timezone", req.Timezone).Msg("unknown timezone, falling back to UTC")
		} else {
			loc = parsed
			tzName = req.Timezone
		}
	}

	if req.MaxEvents <= 0 || req.MaxEvents > maxEventsCap {
		req.MaxEvents = maxEventsCap
	}
	if req.DetailLevel == "" {
		req.DetailLevel = "standard"
	}

	now := a.clock.Now()
	targetDate, err := a.resolveDate(req.Date, now, loc)
	if err != nil {
		return nil, err
	}

	key := cacheKey(events, targetDate, tzName, req.DetailLevel)
	if a.cache != nil {
		if res, ok := a.cache.Get(ctx, key); ok {
			return res, nil
		}
	}

	res := a.compute(events, req, targetDate, tzName, loc, now)
	if a.cache != nil {
		a.cache.Set(ctx, key, res)
	}
	return res, nil
}

func (a *Analyzer) resolveDate(date string, now time.Time, loc *time.Location) (time.Time, error) {
	if date != "" {
		d, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
		}
		return d, nil
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc), nil
}

func (a *Analyzer) compute(events []window.Event, req Request, targetDate time.Time, tzName string, loc *time.Location, now time.Time) *Result {
	windowStart := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), windowStartHour, 0, 0, 0, loc)
	windowEnd := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), windowEndHour, 0, 0, 0, loc)

	allDay, timed := a.filter(events, targetDate, windowStart, windowEnd)
	if len(timed) > req.MaxEvents {
		timed = timed[:req.MaxEvents]
	}

	actionableAllDay := 0
	for _, ev := range allDay {
		if isActionableAllDay(ev.Subject) {
			actionableAllDay++
		}
	}
	timedNonFocus := 0
	for _, ev := range timed {
		if !prioritizer.IsFocusTime(ev.Subject) {
			timedNonFocus++
		}
	}
	equivalents := float64(actionableAllDay)*allDayEquivalent + float64(timedNonFocus)

	res := &Result{
		Date:                    targetDate.Format("2006-01-02"),
		Timezone:                tzName,
		TimeframeStart:          windowStart,
		TimeframeEnd:            windowEnd,
		TotalMeetingsEquivalent: equivalents,
		Density:                 density(equivalents),
		FreeBlocks:              freeBlocks(timed, windowStart, windowEnd, loc),
		BackToBackCount:         prioritizer.BackToBackCount(timed),
	}

	var earliest time.Time
	for _, ev := range timed {
		local := ev.Start.In(loc)
		if earliest.IsZero() || ev.Start.Before(earliest) {
			earliest = ev.Start
		}
		if local.Hour() < earlyStartHour {
			res.EarlyStartFlag = true
		}
	}

	if res.EarlyStartFlag {
		wake := earliest.In(loc).Add(-wakeUpLeadTime)
		floor := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), wakeUpFloorHour, 0, 0, 0, loc)
		if wake.Before(floor) {
			wake = floor
		}
		res.WakeUpRecommendation = speech.ClockTime(wake)
	}

	for _, ev := range timed {
		if prioritizer.IsFocusTime(ev.Subject) {
			continue
		}
		res.MeetingInsights = append(res.MeetingInsights, Insight{
			Subject:         ev.Subject,
			StartLocal:      speech.ClockTime(ev.Start.In(loc)),
			DurationMinutes: int(ev.DurationSeconds / 60),
			IsOnlineMeeting: ev.IsOnlineMeeting,
			Location:        ev.Location,
		})
	}

	res.SpeechText = a.speak(res, req, targetDate, loc, now)
	if req.PreferSSML {
		res.SSML = speech.SSML(res.SpeechText)
	}
	return res
}

// filter drops cancelled and hidden events and keeps those overlapping the
// morning window, split into all-day and timed.
func (a *Analyzer) filter(events []window.Event, targetDate, windowStart, windowEnd time.Time) (allDay, timed []window.Event) {
	for _, ev := range events {
		if ev.Cancelled || isHidden(ev.Subject) {
			continue
		}
		if ev.AllDay {
			d := ev.Start.UTC()
			if d.Year() == targetDate.Year() && d.Month() == targetDate.Month() && d.Day() == targetDate.Day() {
				allDay = append(allDay, ev)
			}
			continue
		}
		if ev.Start.Before(windowEnd) && ev.End().After(windowStart) {
			timed = append(timed, ev)
		}
	}
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].Start.Before(timed[j].Start) })
	return allDay, timed
}

func isHidden(subject string) bool {
	lower := strings.ToLower(subject)
	for _, pat := range hiddenPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func isActionableAllDay(subject string) bool {
	lower := strings.ToLower(subject)
	for _, pat := range nonActionableAllDay {
		if strings.Contains(lower, pat) {
			return false
		}
	}
	return true
}

func density(equivalents float64) string {
	switch {
	case equivalents <= 2:
		return "light"
	case equivalents <= 4:
		return "moderate"
	default:
		return "busy"
	}
}

// freeBlocks walks the morning window and emits every gap of at least 30
// minutes between scheduled events, with a recommended use for the longer
// ones.
func freeBlocks(timed []window.Event, windowStart, windowEnd time.Time, loc *time.Location) []FreeBlock {
	var blocks []FreeBlock
	cursor := windowStart

	emit := func(start, end time.Time) {
		minutes := int(end.Sub(start).Minutes())
		if minutes < minFreeBlockMinutes {
			return
		}
		blocks = append(blocks, FreeBlock{
			Start:             start.In(loc),
			End:               end.In(loc),
			DurationMinutes:   minutes,
			RecommendedAction: recommendedAction(minutes),
		})
	}

	for _, ev := range timed {
		start := ev.Start
		if start.After(cursor) {
			emit(cursor, minTime(start, windowEnd))
		}
		if end := ev.End(); end.After(cursor) {
			cursor = end
		}
	}
	if cursor.Before(windowEnd) {
		emit(cursor, windowEnd)
	}
	return blocks
}

func recommendedAction(minutes int) string {
	switch {
	case minutes >= 120:
		return "deep work session"
	case minutes >= 90:
		return "focused project work"
	case minutes >= significantFreeBlockMinutes:
		return "planning or preparation"
	default:
		return ""
	}
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// speak renders the briefing. Scenario wording the voice tests pin down:
// a free morning and a "very early" start each have fixed phrasing.
func (a *Analyzer) speak(res *Result, req Request, targetDate time.Time, loc *time.Location, now time.Time) string {
	greeting := greetingFor(now.In(loc))
	dayWord := dayPhrase(targetDate, now, loc)

	if res.TotalMeetingsEquivalent == 0 {
		return greeting + " You have a completely free morning " + dayWord +
			" until noon. This is a great opportunity for deep work or personal time."
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("You have %s %s morning.",
		countPhrase(res.TotalMeetingsEquivalent), dayWord))

	if res.EarlyStartFlag && len(res.MeetingInsights) > 0 {
		parts = append(parts, fmt.Sprintf(
			"Your first meeting is at %s, which is a very early start. Consider waking up by %s.",
			res.MeetingInsights[0].StartLocal, res.WakeUpRecommendation))
	} else if res.EarlyStartFlag {
		parts = append(parts, fmt.Sprintf(
			"You have a very early start. Consider waking up by %s.", res.WakeUpRecommendation))
	}

	if req.DetailLevel != "brief" {
		switch res.Density {
		case "busy":
			parts = append(parts, "It's a busy morning, so pace yourself.")
		case "moderate":
			parts = append(parts, "It's a moderately busy morning.")
		}
		if res.BackToBackCount > 0 {
			parts = append(parts, fmt.Sprintf("Heads up, you have %d back-to-back %s.",
				res.BackToBackCount, pluralMeetings(res.BackToBackCount)))
		}
	}

	if req.DetailLevel == "detailed" {
		for _, block := range res.FreeBlocks {
			if block.DurationMinutes < significantFreeBlockMinutes {
				continue
			}
			sentence := fmt.Sprintf("You have %d minutes free at %s",
				block.DurationMinutes, speech.ClockTime(block.Start))
			if block.RecommendedAction != "" {
				sentence += ", good for a " + block.RecommendedAction
			}
			parts = append(parts, sentence+".")
		}
	}

	return greeting + " " + strings.Join(parts, " ")
}

func greetingFor(local time.Time) string {
	switch {
	case local.Hour() < 12:
		return "Good morning."
	case local.Hour() < 18:
		return "Good afternoon."
	default:
		return "Good evening."
	}
}

func dayPhrase(targetDate, now time.Time, loc *time.Location) string {
	local := now.In(loc)
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	if targetDate.Year() == tomorrow.Year() && targetDate.YearDay() == tomorrow.YearDay() {
		return "tomorrow"
	}
	if targetDate.Year() == local.Year() && targetDate.YearDay() == local.YearDay() {
		return "this"
	}
	return "on " + targetDate.Format("Monday")
}

func countPhrase(equivalents float64) string {
	if equivalents == math.Trunc(equivalents) {
		n := int(equivalents)
		return fmt.Sprintf("%d %s", n, pluralMeetings(n))
	}
	return fmt.Sprintf("%.1f meetings", equivalents)
}

func pluralMeetings(n int) string {
	if n == 1 {
		return "meeting"
	}
	return "meetings"
}

// cacheKey hashes the event-id set plus the request shape so any change in
// the known events invalidates the memoized summary.
func cacheKey(events []window.Event, targetDate time.Time, tz, detail string) string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.MeetingID)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("morning:%x:%s:%s:%s", h.Sum64(), targetDate.Format("2006-01-02"), tz, detail)
}
