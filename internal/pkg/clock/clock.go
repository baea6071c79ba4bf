package clock

import (
	"sync"
	"time"
)

// Clock abstracts wall time so schedulers can be driven deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Fixed is a settable clock for tests and one-shot replays.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// AddDays moves the clock by whole calendar days.
func (f *Fixed) AddDays(days int) {
	f.mu.Lock()
	f.now = f.now.AddDate(0, 0, days)
	f.mu.Unlock()
}

// DateOf truncates t to its calendar date, read in t's own location, and
// returns it as midnight UTC. All billing dates are compared in this form.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns the calendar date of c.Now() in loc.
func Today(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(c.Now().In(loc))
}

// DaysBetween counts calendar days from a to b (negative when b is earlier).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// AddYears adds whole years. Feb 29 lands on Feb 28 in non-leap years
// instead of rolling over into March.
func AddYears(t time.Time, years int) time.Time {
	d := DateOf(t)
	target := d.AddDate(years, 0, 0)
	if target.Day() != d.Day() {
		// rolled over: step back to the last day of the intended month
		target = target.AddDate(0, 0, -target.Day())
	}
	return target
}
