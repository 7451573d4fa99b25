package domain

import (
	"fmt"
	"time"
)

// Layouts used on the wire and in cache keys.
const (
	DayLayout       = "2006-01-02"
	MonthLayout     = "2006-01"
	TimestampLayout = "2006-01-02 15:04:05"
)

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay compares calendar days in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return StartOfDay(a, loc).Equal(StartOfDay(b, loc))
}

// SameISOWeek reports whether both instants fall in the same Monday-first ISO week.
func SameISOWeek(a, b time.Time, loc *time.Location) bool {
	ay, aw := StartOfDay(a, loc).ISOWeek()
	by, bw := StartOfDay(b, loc).ISOWeek()
	return ay == by && aw == bw
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// AddDays shifts a midnight date by n calendar days, staying on midnight across DST changes.
func AddDays(day time.Time, n int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, day.Location())
}

// DayKey formats the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return StartOfDay(t, loc).Format(DayLayout)
}

// MonthKey formats the "yyyy-MM" key of t in loc.
func MonthKey(t time.Time, loc *time.Location) string {
	return StartOfDay(t, loc).Format(MonthLayout)
}

// ParseMonthKey returns the first day of the keyed month in loc.
func ParseMonthKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(MonthLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month key %q: %w", key, err)
	}
	return t, nil
}

// MonthBounds returns the first and last day of the month containing t.
func MonthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	day := StartOfDay(t, loc)
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	last := AddDays(first.AddDate(0, 1, 0), -1)
	return first, last
}

// GridBounds extends the month containing t to whole Monday-first weeks.
func GridBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	first, last := MonthBounds(t, loc)
	start := AddDays(first, 1-ISOWeekday(first))
	end := AddDays(last, 7-ISOWeekday(last))
	return start, end
}

// ParseDay accepts "yyyy-MM-dd" or "yyyy-MM-dd HH:mm:ss" (and RFC 3339) and returns midnight in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{DayLayout, TimestampLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return StartOfDay(t, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}
