package ics

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// RawEvent is one VEVENT as read from a feed, before recurrence expansion
// and normalization.
type RawEvent struct {
	UID         string
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	HasEnd      bool
	Duration    time.Duration // explicit DURATION property, if any
	AllDay      bool
	Cancelled   bool
	Online      bool
	RRule       string
}

// ParseError reports unparseable ICS content for one source.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parsing %s: %v", e.Source, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

var onlineMarkers = []string{
	"zoom.us", "meet.google", "teams.microsoft", "webex.com", "gotomeeting",
}

// Parse decodes raw ICS bytes into RawEvents. Events without a start time
// are dropped; everything else is carried through so downstream filters can
// decide.
func Parse(sourceName string, raw []byte) ([]RawEvent, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Source: sourceName, Err: err}
	}

	var events []RawEvent
	for _, ve := range cal.Events() {
		start, err := ve.GetStartAt()
		if err != nil {
			continue
		}

		ev := RawEvent{
			UID:         propValue(ve, ical.ComponentPropertyUniqueId),
			Summary:     propValue(ve, ical.ComponentPropertySummary),
			Location:    propValue(ve, ical.ComponentPropertyLocation),
			Description: propValue(ve, ical.ComponentPropertyDescription),
			Start:       start,
			RRule:       propValue(ve, ical.ComponentPropertyRrule),
		}

		if end, err := ve.GetEndAt(); err == nil && !end.IsZero() {
			ev.End = end
			ev.HasEnd = true
		}
		if d := propValue(ve, ical.ComponentProperty(ical.PropertyDuration)); d != "" {
			if dur, err := parseISODuration(d); err == nil {
				ev.Duration = dur
			}
		}

		if startProp := ve.GetProperty(ical.ComponentPropertyDtStart); startProp != nil {
			if vals, ok := startProp.ICalParameters["VALUE"]; ok {
				for _, v := range vals {
					if v == "DATE" {
						ev.AllDay = true
					}
				}
			}
		}

		ev.Cancelled = strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED")

		haystack := strings.ToLower(ev.Location + " " + ev.Description)
		for _, marker := range onlineMarkers {
			if strings.Contains(haystack, marker) {
				ev.Online = true
				break
			}
		}

		events = append(events, ev)
	}
	return events, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// parseISODuration handles the subset of RFC 5545 DURATION values calendar
// feeds actually emit: [+-]P[nD][T[nH][nM][nS]] and PnW.
func parseISODuration(s string) (time.Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	var num strings.Builder
	inTime := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num.String())
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			num.Reset()
			switch r {
			case 'W':
				total += time.Duration(n) * 7 * 24 * time.Hour
			case 'D':
				total += time.Duration(n) * 24 * time.Hour
			case 'H':
				if !inTime {
					return 0, fmt.Errorf("invalid duration %q", orig)
				}
				total += time.Duration(n) * time.Hour
			case 'M':
				if !inTime {
					return 0, fmt.Errorf("invalid duration %q", orig)
				}
				total += time.Duration(n) * time.Minute
			case 'S':
				if !inTime {
					return 0, fmt.Errorf("invalid duration %q", orig)
				}
				total += time.Duration(n) * time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
		}
	}
	if neg {
		total = -total
	}
	return total, nil
}
