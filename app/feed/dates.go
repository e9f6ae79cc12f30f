package feed

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	rfc822Layouts = []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"Mon, 02 Jan 2006 15:04 -0700",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC822Z,
		time.RFC822,
	}

	localLayouts = []string{
		"02/01/2006 15:04",
		"02/01/2006 15:04:05",
		"2/1/2006 15:04",
		"2/1/2006 15:04:05",
		"02/01/2006",
		"2/1/2006",
	}

	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05.999999999-0700",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
	}

	dateOnlyLayout = "2006-01-02"
)

var nowFunc = time.Now

// ParseTime parses a feed date in UTC. Dates without an offset are read as UTC.
func ParseTime(text string) (time.Time, bool) {
	return ParseTimeIn(text, time.UTC)
}

// ParseTimeIn tries the known layouts in order and returns the first match in
// UTC. Dates without an offset are interpreted in loc.
func ParseTimeIn(text string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	rfc := replaceZulu(s, "+0000")
	for _, layout := range rfc822Layouts {
		if t, err := time.Parse(layout, rfc); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}

	iso := replaceZulu(s, "+00:00")
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, iso, loc); err == nil {
			return t.UTC(), true
		}
	}

	if t, err := time.ParseInLocation(dateOnlyLayout, s, loc); err == nil {
		return t.UTC(), true
	}

	// Slashed dates in these feeds are day-first.
	if t, err := dateparse.ParseIn(s, loc, dateparse.PreferMonthFirst(false)); err == nil {
		return t.UTC(), true
	}

	return time.Time{}, false
}

// NormalizeTime applies the call-site policy on top of ParseTimeIn.
func NormalizeTime(text string, loc *time.Location, policy TimePolicy) *time.Time {
	if t, ok := ParseTimeIn(text, loc); ok {
		return &t
	}
	if policy == SubstituteNow {
		now := nowFunc().UTC()
		return &now
	}
	return nil
}

func replaceZulu(s, offset string) string {
	if strings.HasSuffix(s, "Z") {
		return s[:len(s)-1] + offset
	}
	return s
}
