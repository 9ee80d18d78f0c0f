package main

import (
	"net/http"
	"time"

	"github.com/bencan1a/calendarBot-sub009/server/prioritizer"
	"github.com/bencan1a/calendarBot-sub009/server/speech"
	"github.com/bencan1a/calendarBot-sub009/server/window"
)

// handleNextMeeting answers "what is my next meeting?" with speech markup.
func (a *API) handleNextMeeting(w http.ResponseWriter, r *http.Request) {
	snapshot := a.holder.Snapshot()
	sel := prioritizer.Next(snapshot, a.clock.Now(), a.skips)
	if sel == nil {
		a.writeJSON(w, http.StatusOK, map[string]any{"meeting": nil})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"meeting": a.selectionPayload(sel, true)})
}

// handleTimeUntil answers "how long until my next meeting?".
func (a *API) handleTimeUntil(w http.ResponseWriter, r *http.Request) {
	snapshot := a.holder.Snapshot()
	sel := prioritizer.Next(snapshot, a.clock.Now(), a.skips)
	if sel == nil {
		a.writeJSON(w, http.StatusOK, map[string]any{
			"seconds_until_start": nil,
			"speech_text":         "You have no upcoming meetings.",
		})
		return
	}

	spoken := speech.Duration(sel.SecondsUntil)
	a.writeJSON(w, http.StatusOK, map[string]any{
		"seconds_until_start": sel.SecondsUntil,
		"duration_spoken":     spoken,
		"speech_text":         "Your next meeting is " + spoken + ".",
	})
}

// doneForDay describes the last meeting ending today in the requested zone.
type doneForDay struct {
	HasMeetingsToday        bool   `json:"has_meetings_today"`
	LastMeetingStartISO     string `json:"last_meeting_start_iso,omitempty"`
	LastMeetingEndISO       string `json:"last_meeting_end_iso,omitempty"`
	LastMeetingEndLocalISO  string `json:"last_meeting_end_local_iso,omitempty"`
	lastEnd                 time.Time
	tzKnown                 bool
	loc                     *time.Location
}

// resolveZone parses the tz query parameter, falling back to UTC with a
// warning on an unknown zone.
func (a *API) resolveZone(r *http.Request) (*time.Location, bool) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		a.log.Warn().Str("tz", tz).Msg("unknown timezone, falling back to UTC")
		return time.UTC, false
	}
	return loc, true
}

// computeDoneForDay finds the latest end among today's unskipped meetings.
func (a *API) computeDoneForDay(snapshot []window.Event, now time.Time, loc *time.Location, tzKnown bool) doneForDay {
	result := doneForDay{loc: loc, tzKnown: tzKnown}
	todayY, todayM, todayD := now.In(loc).Date()

	var lastStart, lastEnd time.Time
	for _, ev := range snapshot {
		y, m, d := ev.Start.In(loc).Date()
		if y != todayY || m != todayM || d != todayD {
			continue
		}
		if a.skips != nil && a.skips.IsSkipped(ev.MeetingID) {
			continue
		}
		result.HasMeetingsToday = true
		if end := ev.End(); end.After(lastEnd) {
			lastEnd = end
			lastStart = ev.Start
		}
	}

	if result.HasMeetingsToday {
		result.lastEnd = lastEnd
		result.LastMeetingStartISO = lastStart.UTC().Format(time.RFC3339)
		result.LastMeetingEndISO = lastEnd.UTC().Format(time.RFC3339)
		result.LastMeetingEndLocalISO = lastEnd.In(loc).Format(time.RFC3339)
	}
	return result
}

func (a *API) doneForDaySpeech(d doneForDay, now time.Time) string {
	if !d.HasMeetingsToday {
		return "You have no meetings today. Enjoy your free day!"
	}
	if !now.Before(d.lastEnd) {
		return "You're all done for today!"
	}
	text := "You'll be done at " + speech.ClockTime(d.lastEnd.In(d.loc))
	if !d.tzKnown {
		text += " UTC"
	}
	return text + "."
}

// handleDoneForDay answers "when am I done today?" in the caller's zone.
func (a *API) handleDoneForDay(w http.ResponseWriter, r *http.Request) {
	loc, tzKnown := a.resolveZone(r)
	now := a.clock.Now()
	d := a.computeDoneForDay(a.holder.Snapshot(), now, loc, tzKnown)

	text := a.doneForDaySpeech(d, now)
	a.writeJSON(w, http.StatusOK, map[string]any{
		"has_meetings_today":         d.HasMeetingsToday,
		"last_meeting_start_iso":     emptyToNil(d.LastMeetingStartISO),
		"last_meeting_end_iso":       emptyToNil(d.LastMeetingEndISO),
		"last_meeting_end_local_iso": emptyToNil(d.LastMeetingEndLocalISO),
		"speech_text":                text,
		"ssml":                       speech.SSML(text),
	})
}

// handleLaunchSummary is the Alexa LaunchRequest entry point: it picks the
// presentation based on whether meetings remain today.
func (a *API) handleLaunchSummary(w http.ResponseWriter, r *http.Request) {
	loc, tzKnown := a.resolveZone(r)
	now := a.clock.Now()
	snapshot := a.holder.Snapshot()

	d := a.computeDoneForDay(snapshot, now, loc, tzKnown)
	sel := prioritizer.Next(snapshot, now, a.skips)

	todayY, todayM, todayD := now.In(loc).Date()
	sameDay := func(t time.Time) bool {
		y, m, day := t.In(loc).Date()
		return y == todayY && m == todayM && day == todayD
	}

	var text string
	var nextPayload *meetingPayload

	switch {
	case sel != nil && sameDay(sel.Event.Start):
		// Meetings still remaining today.
		nextPayload = a.selectionPayload(sel, false)
		text = nextPayload.SpeechText + " " + a.doneForDaySpeech(d, now)

	case d.HasMeetingsToday:
		// Today's meetings exist but none remain upcoming.
		text = a.doneForDaySpeech(d, now)

	default:
		// Nothing today: point at the first meeting on a later date.
		var future *prioritizer.Selection
		for _, ev := range snapshot {
			if ev.Start.Before(now) || sameDay(ev.Start) {
				continue
			}
			if prioritizer.IsFocusTime(ev.Subject) {
				continue
			}
			if a.skips != nil && a.skips.IsSkipped(ev.MeetingID) {
				continue
			}
			future = &prioritizer.Selection{Event: ev, SecondsUntil: int64(ev.Start.Sub(now).Seconds())}
			break
		}
		if future != nil {
			nextPayload = a.selectionPayload(future, false)
			text = "No meetings today, you're free until " + future.Event.Subject + " " +
				speech.Duration(future.SecondsUntil) + "."
		} else {
			text = "No meetings today. You have no upcoming meetings scheduled."
		}
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"speech_text":        text,
		"has_meetings_today": d.HasMeetingsToday,
		"next_meeting":       nextPayload,
		"done_for_day": map[string]any{
			"has_meetings_today":   d.HasMeetingsToday,
			"last_meeting_end_iso": emptyToNil(d.LastMeetingEndISO),
		},
		"ssml": speech.SSML(text),
	})
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
