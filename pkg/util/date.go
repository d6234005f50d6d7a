package util

import "time"

// DateLayout is the calendar-date format used in config and query strings.
const DateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FloorMinute drops seconds and below, in UTC.
func FloorMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// EndOfDay returns the last nanosecond of t's UTC day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24*time.Hour - time.Nanosecond)
}

// IsMidnight reports whether t carries no clock time in UTC.
func IsMidnight(t time.Time) bool {
	u := t.UTC()
	return u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0
}
