// Package prioritizer picks the "next meeting" out of the event window.
// It is pure logic over a snapshot: no locks, no clock reads, no I/O.
package prioritizer

import (
	"strings"
	"time"

	"github.com/bencan1a/calendarBot-sub009/server/window"
)

// FocusKeywords mark calendar blocks that represent dedicated solo work.
// Such events are invisible to next-event selection and excluded from
// meeting-equivalent counting. Matching is case-insensitive substring.
var FocusKeywords = []string{
	"focus time",
	"focus",
	"deep work",
	"thinking time",
	"planning time",
}

// groupSpan is the window within which simultaneous-ish candidates compete.
const groupSpan = 30 * time.Minute

// backToBackGap is the maximum gap that still counts as back-to-back.
const backToBackGap = 15 * time.Minute

// Category is the coarse business/lunch split used by the tie-break.
type Category int

const (
	Business Category = iota
	Lunch
)

// SkipChecker reports whether a meeting id has an active skip entry.
type SkipChecker interface {
	IsSkipped(id string) bool
}

// Selection is a chosen event plus the floor of seconds until it starts.
type Selection struct {
	Event        window.Event
	SecondsUntil int64
}

// IsFocusTime reports whether subject names a focus block.
func IsFocusTime(subject string) bool {
	lower := strings.ToLower(subject)
	for _, kw := range FocusKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify buckets an event subject. A short subject containing "lunch" is a
// lunch hold; anything else is treated as business.
func Classify(subject string) Category {
	if strings.Contains(strings.ToLower(subject), "lunch") && len(subject) <= 10 {
		return Lunch
	}
	return Business
}

// Next selects the next meeting from events (already sorted ascending by
// start). Past events, focus blocks, and skipped meetings are dropped. When
// several candidates start within 30 minutes of each other, the earliest
// business event wins over any lunch hold. Returns nil when nothing
// qualifies.
func Next(events []window.Event, now time.Time, skips SkipChecker) *Selection {
	var candidates []window.Event
	for _, ev := range events {
		if ev.Start.Before(now) {
			continue
		}
		if IsFocusTime(ev.Subject) {
			continue
		}
		if skips != nil && skips.IsSkipped(ev.MeetingID) {
			continue
		}
		candidates = append(candidates, ev)
	}
	if len(candidates) == 0 {
		return nil
	}

	chosen := candidates[0]
	cutoff := chosen.Start.Add(groupSpan)
	if len(candidates) > 1 && !candidates[1].Start.After(cutoff) {
		for _, ev := range candidates {
			if ev.Start.After(cutoff) {
				break
			}
			if Classify(ev.Subject) == Business {
				chosen = ev
				break
			}
		}
	}

	return &Selection{
		Event:        chosen,
		SecondsUntil: int64(chosen.Start.Sub(now).Seconds()),
	}
}

// BackToBackCount counts consecutive pairs in events (sorted by start) where
// the gap between one end and the next start is under 15 minutes.
func BackToBackCount(events []window.Event) int {
	count := 0
	for i := 1; i < len(events); i++ {
		gap := events[i].Start.Sub(events[i-1].End())
		if gap < backToBackGap {
			count++
		}
	}
	return count
}
