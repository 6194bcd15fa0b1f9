package tool

import "time"

// StartOfMonthUTC returns the first instant of t's calendar month in UTC.
func StartOfMonthUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// StartOfNextMonthUTC returns the first instant of the month after t's, in UTC.
func StartOfNextMonthUTC(t time.Time) time.Time {
	return StartOfMonthUTC(t).AddDate(0, 1, 0)
}

// MonthKey formats t's UTC month as YYYYMM.
func MonthKey(t time.Time) string {
	return t.UTC().Format("200601")
}
