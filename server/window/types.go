package window

import "time"

// Event is a single normalized calendar occurrence. Start is always UTC;
// recurrence expansion happens upstream, so one Event is one occurrence.
type Event struct {
	MeetingID       string    `json:"meeting_id"`
	Subject         string    `json:"subject"`
	Start           time.Time `json:"start"`
	DurationSeconds int64     `json:"duration_seconds"`
	Location        string    `json:"location,omitempty"`
	IsOnlineMeeting bool      `json:"is_online_meeting"`
	RawSource       string    `json:"raw_source"`
	AllDay          bool      `json:"all_day,omitempty"`
	Cancelled       bool      `json:"cancelled,omitempty"`
}

// End returns the derived end instant (start + duration).
func (e Event) End() time.Time {
	return e.Start.Add(time.Duration(e.DurationSeconds) * time.Second)
}

// Normalize coerces Start to UTC and clamps a negative duration to zero.
func (e Event) Normalize() Event {
	e.Start = e.Start.UTC()
	if e.DurationSeconds < 0 {
		e.DurationSeconds = 0
	}
	return e
}
