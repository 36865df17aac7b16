package models

import "time"

// EndOfMonth returns the last calendar day of t's month at midnight UTC.
func EndOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// StartOfMonth returns the first day of t's month at midnight UTC.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// StartOfDay truncates t to midnight UTC of the same calendar date.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PeriodDueDate is the due date of a billing period given a 1-indexed month.
func PeriodDueDate(year, month int) time.Time {
	return EndOfMonth(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))
}

// MonthLabel renders a period as "January 2026".
func MonthLabel(t time.Time) string {
	return t.Format("January 2006")
}

// NextMonth returns the (year, month) following the given one.
func NextMonth(year, month int) (int, int) {
	if month == 12 {
		return year + 1, 1
	}
	return year, month + 1
}
