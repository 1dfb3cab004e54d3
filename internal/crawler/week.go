package crawler

import "time"

// DateOf returns the calendar date of t as observed in loc, expressed as
// midnight UTC so it compares cleanly with DATE columns.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekStart returns the Monday of t's ISO week as observed in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	day := DateOf(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
