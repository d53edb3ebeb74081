package pipeline

import "time"

// now is stubbed in tests that exercise day boundaries and approval timeouts.
var now = time.Now

// DayWindow returns the operating day [start, end) containing t in loc. It
// is the single definition of "today" for the submission budget. AddDate
// keeps the window correct across DST changes.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
