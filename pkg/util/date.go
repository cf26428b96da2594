package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseDate accepts YYYY-MM-DD (UTC midnight) or RFC3339.
// dateOnly reports whether the input carried no time of day.
func ParseDate(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), true, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
}

// ParseRange parses a [start, end) window. A date-only end covers its whole day.
func ParseRange(start, end string) (time.Time, time.Time, error) {
	from, _, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, dateOnly, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if dateOnly {
		to = to.Add(24 * time.Hour)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %q must not be before start %q", end, start)
	}
	return from, to, nil
}

// ParseInterval converts bar intervals like 1s, 5m, 1h, 4h, 1d, 1w.
func ParseInterval(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return time.Duration(n) * unit, nil
}

