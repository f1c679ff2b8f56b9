// ABOUTME: Date cutoff helpers for entry range reads and bulk read marking
// ABOUTME: Accepts period names, ISO dates or natural language like "3 days ago"

package timeutil

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var natural = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the most recent Sunday.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// StartOfMonth returns midnight of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// ParsePeriod converts a period name to the start of that period relative
// to now. Supported values: "today", "yesterday", "week", "month".
func ParsePeriod(period string, now time.Time) (time.Time, bool) {
	switch period {
	case "today":
		return StartOfDay(now), true
	case "yesterday":
		return StartOfDay(now).AddDate(0, 0, -1), true
	case "week":
		return StartOfWeek(now), true
	case "month":
		return StartOfMonth(now), true
	default:
		return time.Time{}, false
	}
}

// ParseCutoff parses a period name, a YYYY-MM-DD date, an RFC3339 time or
// an English expression such as "3 days ago" or "last monday".
func ParseCutoff(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, ok := ParsePeriod(s, now); ok {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	// Digit-only strings never fall through to the natural parser.
	if strings.IndexFunc(s, unicode.IsLetter) >= 0 {
		if r, err := natural.Parse(s, now); err == nil && r != nil {
			return r.Time, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q: use today, yesterday, week, month, YYYY-MM-DD, RFC3339 or e.g. \"3 days ago\"", s)
}
