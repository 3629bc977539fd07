package cron

import "time"

// searchWindow bounds NextRunTime to roughly one year of minutes.
const searchWindow = 366 * 24 * time.Hour

// Matches reports whether t falls on a minute described by f.
// Fields are evaluated in t's location.
func (f *Fields) Matches(t time.Time) bool {
	if f == nil {
		return false
	}
	return f.has(0, t.Minute()) &&
		f.has(1, t.Hour()) &&
		f.has(2, t.Day()) &&
		f.has(3, int(t.Month())) &&
		f.has(4, int(t.Weekday()))
}

// NextRunTime returns the first minute strictly after from that matches
// expression. ok is false when the expression is invalid or nothing matches
// within a year (for example "0 0 30 2 *").
func NextRunTime(expression string, from time.Time) (next time.Time, ok bool) {
	f := Parse(expression)
	if f == nil {
		return time.Time{}, false
	}
	return f.Next(from)
}

// Next is NextRunTime for already parsed fields.
func (f *Fields) Next(from time.Time) (time.Time, bool) {
	if f == nil {
		return time.Time{}, false
	}

	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(searchWindow)

	for !t.After(limit) {
		if !f.has(3, int(t.Month())) || !f.has(2, t.Day()) || !f.has(4, int(t.Weekday())) {
			t = startOfNextDay(t)
			continue
		}
		if !f.has(1, t.Hour()) {
			t = startOfNextHour(t)
			continue
		}
		if f.has(0, t.Minute()) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}

func startOfNextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

func startOfNextHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour()+1, 0, 0, 0, t.Location())
}
