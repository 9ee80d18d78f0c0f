// Package speech renders voice-assistant phrasing: spoken countdowns,
// 12-hour clock times, and optional SSML wrapping.
package speech

import (
	"fmt"
	"strings"
	"time"
)

// Duration turns a seconds-until-start value into spoken English:
// "in 45 seconds", "in 5 minutes", "in 2 hours and 15 minutes".
// Negative values are "in the past".
func Duration(seconds int64) string {
	if seconds < 0 {
		return "in the past"
	}
	if seconds < 60 {
		return fmt.Sprintf("in %d %s", seconds, plural(seconds, "second"))
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("in %d %s", minutes, plural(minutes, "minute"))
	}
	hours := minutes / 60
	rem := minutes % 60
	if rem == 0 {
		return fmt.Sprintf("in %d %s", hours, plural(hours, "hour"))
	}
	return fmt.Sprintf("in %d %s and %d %s", hours, plural(hours, "hour"), rem, plural(rem, "minute"))
}

// ClockTime formats t as a lower-cased 12-hour time, e.g. "5:30 pm".
func ClockTime(t time.Time) string {
	return t.Format("3:04 pm")
}

// SSML wraps plain speech text in a minimal speak envelope, escaping the
// characters SSML reserves.
func SSML(text string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return "<speak>" + r.Replace(text) + "</speak>"
}

func plural(n int64, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
