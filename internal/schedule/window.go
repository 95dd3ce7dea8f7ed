package schedule

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Window is a daily interval expressed as offsets from local midnight. Start
// is inclusive and End exclusive; End before Start wraps past midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// Contains reports whether the wall-clock offset of t falls in w.
func (w Window) Contains(t time.Time) bool {
	off := offset(t)
	switch {
	case w.Start == w.End:
		return false
	case w.Start < w.End:
		return off >= w.Start && off < w.End
	default:
		return off >= w.Start || off < w.End
	}
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", clock(w.Start), clock(w.End))
}

// SyncWindow is a recurring moment at which the external sync holds the
// volume. Processing is refused from At-Buffer through At+Buffer inclusive.
type SyncWindow struct {
	At     time.Duration
	Buffer time.Duration
	// Weekdays restricts the sync to certain days; empty means every day.
	Weekdays []time.Weekday
}

// Guards reports whether t falls inside the guarded interval of any
// occurrence of s. Occurrences on the neighbouring days are considered so a
// buffer can straddle midnight.
func (s SyncWindow) Guards(t time.Time) bool {
	midnight := startOfDay(t)
	for _, shift := range []int{-1, 0, 1} {
		dayStart := midnight.AddDate(0, 0, shift)
		if !s.runsOn(dayStart.Weekday()) {
			continue
		}
		at := dayStart.Add(s.At)
		if !t.Before(at.Add(-s.Buffer)) && !t.After(at.Add(s.Buffer)) {
			return true
		}
	}
	return false
}

// Next returns the first sync occurrence at or after t.
func (s SyncWindow) Next(t time.Time) time.Time {
	midnight := startOfDay(t)
	for shift := 0; shift <= 7; shift++ {
		dayStart := midnight.AddDate(0, 0, shift)
		if !s.runsOn(dayStart.Weekday()) {
			continue
		}
		if at := dayStart.Add(s.At); !at.Before(t) {
			return at
		}
	}
	return time.Time{}
}

func (s SyncWindow) runsOn(d time.Weekday) bool {
	if len(s.Weekdays) == 0 {
		return true
	}
	for _, w := range s.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func (s SyncWindow) String() string {
	return fmt.Sprintf("%s±%dm", clock(s.At), int(s.Buffer/time.Minute))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func offset(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}

func clock(d time.Duration) string {
	d = ((d % day) + day) % day
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
