package dispatch

import "time"

// Window returns the query range for a dispatch at now: the local date of
// now in loc through the same day months calendar months later. Days past
// the end of the target month clamp to its last day (Aug 31 + 6 months is
// Feb 28/29).
func Window(now time.Time, loc *time.Location, months int) (from, to time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	to = AddMonthsClamped(from, months)
	return from, to
}

// AddMonthsClamped adds months without spilling into the following month.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	return first.AddDate(0, 0, min(d, last)-1)
}
