// Package timeutil provides calendar-day utilities for streak and challenge
// tracking. All progression state is keyed by UTC calendar days: an entry
// recorded at 23:59 and one at 00:01 the next day belong to different days.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// FormatDay is the canonical day-key layout (YYYY-MM-DD).
const FormatDay = "2006-01-02"

// Day truncates a time to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the start of the current UTC day.
func Today() time.Time {
	return Day(time.Now())
}

// DayKey formats a time as a day key (YYYY-MM-DD, UTC).
func DayKey(t time.Time) string {
	return t.UTC().Format(FormatDay)
}

// ParseDayKey parses a day key back into a UTC day start.
func ParseDayKey(key string) (time.Time, error) {
	return time.ParseInLocation(FormatDay, key, time.UTC)
}

// IsSameDay checks whether two times fall on the same UTC calendar day.
func IsSameDay(t1, t2 time.Time) bool {
	a, b := t1.UTC(), t2.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// IsConsecutiveDay checks whether t2 is the calendar day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	return IsSameDay(Day(t1).AddDate(0, 0, 1), t2)
}

// DaysBetween returns the number of whole calendar days from t1 to t2.
// Positive when t2 is after t1, negative when before.
func DaysBetween(t1, t2 time.Time) int {
	a := Day(t1)
	b := Day(t2)
	return int(b.Sub(a).Hours() / 24)
}

// StartOfMonth returns the first day of t's month (UTC).
func StartOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last day of t's month (UTC, day start).
func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, -1)
}

// DayOfMonth returns the 1-based day of month for t (UTC).
func DayOfMonth(t time.Time) int {
	return t.UTC().Day()
}

// WeekOfMonth returns the 1-based week number of t within its month,
// with weeks starting on Monday. The week containing the 1st is week 1.
func WeekOfMonth(t time.Time) int {
	u := t.UTC()
	first := StartOfMonth(u)
	firstWeekday := int(first.Weekday())
	if firstWeekday == 0 {
		firstWeekday = 7 // Sunday
	}
	// Offset of t within a grid that starts on the Monday of week 1.
	offset := u.Day() - 1 + firstWeekday - 1
	return offset/7 + 1
}

// LastNDays returns the N day starts ending with (and including) the day of t,
// ordered oldest first.
func LastNDays(t time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	days := make([]time.Time, 0, n)
	start := Day(t).AddDate(0, 0, -(n - 1))
	for i := 0; i < n; i++ {
		days = append(days, start.AddDate(0, 0, i))
	}
	return days
}
