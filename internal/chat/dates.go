package chat

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Chat exports commonly carry timestamps like
// "Thursday, September 12, 2013 at 3:50:11 PM UTC". Parsing is three-staged:
// generic layouts first, then a cleaned-up retry with the weekday/"at"/"UTC"
// decoration stripped, then an explicit field-by-field match. Failure at all
// stages yields no timestamp, never an error.

var genericLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006 3:04:05 PM",
	"January 2, 2006 15:04:05",
}

var (
	leadingWeekday = regexp.MustCompile(`^[A-Za-z]+,\s*`)
	explicitDate   = regexp.MustCompile(`^[A-Za-z]+, ([A-Za-z]+) (\d{1,2}), (\d{4}) at (\d{1,2}):(\d{2}):(\d{2}) (AM|PM) UTC$`)
)

// ParseTimestamp parses a permissive date string. The second return value
// reports whether a timestamp could be recovered.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	cleaned := leadingWeekday.ReplaceAllString(s, "")
	cleaned = strings.Replace(cleaned, " at ", " ", 1)
	cleaned = strings.TrimSuffix(cleaned, " UTC")
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t.UTC(), true
		}
	}

	return parseExplicit(s)
}

// parseExplicit constructs the timestamp field-by-field from the literal
// "<Weekday>, <Month> <Day>, <Year> at <H>:<MM>:<SS> <AM|PM> UTC" pattern.
func parseExplicit(s string) (time.Time, bool) {
	m := explicitDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := monthByName(m[1])
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second, _ := strconv.Atoi(m[6])
	if m[7] == "PM" && hour != 12 {
		hour += 12
	}
	if m[7] == "AM" && hour == 12 {
		hour = 0
	}
	if day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC), true
}

func monthByName(name string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			return m, true
		}
	}
	return 0, false
}

// parseEpoch interprets a numeric timestamp by magnitude: seconds,
// milliseconds or microseconds since the Unix epoch.
func parseEpoch(v float64) (time.Time, bool) {
	if v <= 0 {
		return time.Time{}, false
	}
	n := int64(v)
	switch {
	case n < 1e11:
		return time.Unix(n, 0).UTC(), true
	case n < 1e14:
		return time.UnixMilli(n).UTC(), true
	case n < 1e17:
		return time.UnixMicro(n).UTC(), true
	default:
		return time.Time{}, false
	}
}
