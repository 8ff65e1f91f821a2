package domain

import "time"

// Window is a trailing range of whole UTC days ending today.
type Window struct {
	Days int
}

// Bounds returns [since, until) for the window evaluated at now.
func (w Window) Bounds(now time.Time) (time.Time, time.Time) {
	today := StartOfDay(now)
	since := today.AddDate(0, 0, -(w.Days - 1))
	return since, today.AddDate(0, 0, 1)
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type DayCount struct {
	Day   time.Time
	Count int
}

// AggregateSnapshot is a disposable summary of audit records over a window.
type AggregateSnapshot struct {
	Window        Window
	Total         int
	Flagged       int
	FlaggedRatio  float64
	ActiveSenders int
	DailySeries   []DayCount
	GeneratedAt   time.Time
}
