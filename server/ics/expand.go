package ics

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"
)

// Occurrence is one concrete instance of an event after recurrence
// expansion. Non-recurring events yield exactly one occurrence.
type Occurrence struct {
	RawEvent
	Start time.Time
	End   time.Time
}

// Expand materializes every occurrence of events within [from, from+days).
// Recurring events are expanded with their RRULE; a rule that fails to parse
// drops only that event, logged, never the cycle.
func Expand(events []RawEvent, from time.Time, days int, log zerolog.Logger) []Occurrence {
	horizon := from.AddDate(0, 0, days)

	var out []Occurrence
	for _, ev := range events {
		if ev.RRule == "" {
			out = append(out, Occurrence{RawEvent: ev, Start: ev.Start, End: ev.End})
			continue
		}

		opt, err := rrule.StrToROption(ev.RRule)
		if err != nil {
			log.Warn().Err(err).Str("uid", ev.UID).Str("rrule", ev.RRule).Msg("skipping event with bad recurrence rule")
			continue
		}
		opt.Dtstart = ev.Start.UTC()
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			log.Warn().Err(err).Str("uid", ev.UID).Msg("skipping event with bad recurrence rule")
			continue
		}

		var duration time.Duration
		if ev.HasEnd {
			duration = ev.End.Sub(ev.Start)
		} else if ev.Duration > 0 {
			duration = ev.Duration
		}

		// Include the occurrence currently in progress by starting the
		// expansion one duration back.
		searchFrom := from
		if duration > 0 {
			searchFrom = from.Add(-duration)
		}
		for _, start := range rule.Between(searchFrom, horizon, true) {
			occ := Occurrence{RawEvent: ev, Start: start}
			if duration > 0 {
				occ.End = start.Add(duration)
			}
			out = append(out, occ)
		}
	}
	return out
}
