// Package timeutil truncates unix timestamps to period starts, always in UTC.
package timeutil

import "time"

// TruncateToHour floors a unix timestamp to the start of its hour.
func TruncateToHour(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
}

// TruncateToDay floors a unix timestamp to the start of its day.
func TruncateToDay(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TruncateToWeek floors a unix timestamp to the start of its ISO week
// (Monday 00:00 UTC).
func TruncateToWeek(ts int64) time.Time {
	day := TruncateToDay(ts)
	// time.Weekday numbers Sunday as 0; shift so Monday is the floor.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// TruncateToMonth floors a unix timestamp to the first of its month.
func TruncateToMonth(ts int64) time.Time {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
