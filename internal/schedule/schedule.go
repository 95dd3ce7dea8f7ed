package schedule

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"photoner/internal/batch"
	"photoner/internal/config"
	"photoner/internal/records"
)

// Calendar holds the windows and profile of one phase.
type Calendar struct {
	Enabled bool
	Windows []Window
	Pauses  []Window
	Profile Profile
}

// active reports whether t is inside one of the phase windows and outside
// every pause window, returning the matching window.
func (c Calendar) active(t time.Time) (Window, bool) {
	if !c.Enabled {
		return Window{}, false
	}
	for _, p := range c.Pauses {
		if p.Contains(t) {
			return Window{}, false
		}
	}
	for _, w := range c.Windows {
		if w.Contains(t) {
			return w, true
		}
	}
	return Window{}, false
}

// Schedule is the full calendar the scheduler decides against.
type Schedule struct {
	Location       *time.Location
	SyncWindows    []SyncWindow
	MaxLoadAverage float64
	Archive        Calendar
	Catchup        Calendar
	Periodic       Calendar
}

// Decide returns the phase for now. Rules are evaluated in order:
// sync guard, load guard, archive (needs archive backlog), catchup (needs
// incoming backlog), periodic (runs even when empty), otherwise idle.
func Decide(now time.Time, s Schedule, st State) Decision {
	if s.Location != nil {
		now = now.In(s.Location)
	}
	for _, sw := range s.SyncWindows {
		if sw.Guards(now) {
			return Decision{Phase: Idle, Reason: ReasonSyncWindow, Detail: sw.String(), At: now}
		}
	}
	if s.MaxLoadAverage > 0 && st.LoadAverage > s.MaxLoadAverage {
		return Decision{
			Phase:  Idle,
			Reason: ReasonSystemBusy,
			Detail: fmt.Sprintf("load %.2f > %.2f", st.LoadAverage, s.MaxLoadAverage),
			At:     now,
		}
	}
	if w, ok := s.Archive.active(now); ok && st.Depth[records.PopulationArchive] > 0 {
		return Decision{Phase: ArchiveProcessing, Profile: s.Archive.Profile, Detail: w.String(), At: now}
	}
	if w, ok := s.Catchup.active(now); ok && st.Depth[records.PopulationIncoming] > 0 {
		return Decision{Phase: CurrentCatchup, Profile: s.Catchup.Profile, Detail: w.String(), At: now}
	}
	if w, ok := s.Periodic.active(now); ok {
		return Decision{Phase: CurrentPeriodic, Profile: s.Periodic.Profile, Detail: w.String(), At: now}
	}
	return Decision{Phase: Idle, Reason: ReasonOutsideWindows, At: now}
}

// NextSync returns the earliest upcoming sync occurrence after now.
func (s Schedule) NextSync(now time.Time) time.Time {
	if s.Location != nil {
		now = now.In(s.Location)
	}
	var next time.Time
	for _, sw := range s.SyncWindows {
		at := sw.Next(now)
		if at.IsZero() {
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next
}

// FromConfig builds the calendar from a validated configuration.
func FromConfig(cfg *config.Config) (Schedule, error) {
	sched := Schedule{
		Location:       cfg.Location(),
		MaxLoadAverage: cfg.Schedule.MaxLoadAverage,
	}
	for i, sw := range cfg.Schedule.SyncWindows {
		at, err := config.ParseClock(sw.Time)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule.sync_windows[%d]: %w", i, err)
		}
		window := SyncWindow{At: at, Buffer: time.Duration(max(sw.BufferMinutes, 0)) * time.Minute}
		for _, name := range sw.Weekdays {
			d, ok := config.ParseWeekday(name)
			if !ok {
				return Schedule{}, fmt.Errorf("schedule.sync_windows[%d]: unknown weekday %q", i, name)
			}
			window.Weekdays = append(window.Weekdays, d)
		}
		sched.SyncWindows = append(sched.SyncWindows, window)
	}

	var err error
	if sched.Archive, err = calendar("archive", cfg.Schedule.Archive, ArchiveProcessing, records.PopulationArchive); err != nil {
		return Schedule{}, err
	}
	if sched.Catchup, err = calendar("catchup", cfg.Schedule.Catchup, CurrentCatchup, records.PopulationIncoming); err != nil {
		return Schedule{}, err
	}
	if sched.Periodic, err = calendar("periodic", cfg.Schedule.Periodic, CurrentPeriodic, records.PopulationIncoming); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

func calendar(name string, phase config.Phase, kind Phase, population records.Population) (Calendar, error) {
	cal := Calendar{
		Enabled: phase.Enabled,
		Profile: Profile{
			Phase:      kind,
			Population: population,
			Order:      batch.OrderFor(population),
			BatchSize:  phase.BatchSize,
			Threads:    phase.Threads,
			MaxRuntime: time.Duration(phase.MaxRuntimeMinutes) * time.Minute,
		},
	}
	parse := func(field string, in []config.Window) ([]Window, error) {
		out := make([]Window, 0, len(in))
		for i, w := range in {
			start, err := config.ParseClock(w.Start)
			if err != nil {
				return nil, fmt.Errorf("schedule.%s.%s[%d].start: %w", name, field, i, err)
			}
			end, err := config.ParseClock(w.End)
			if err != nil {
				return nil, fmt.Errorf("schedule.%s.%s[%d].end: %w", name, field, i, err)
			}
			out = append(out, Window{Start: start, End: end})
		}
		return out, nil
	}
	var err error
	if cal.Windows, err = parse("windows", phase.Windows); err != nil {
		return Calendar{}, err
	}
	if cal.Pauses, err = parse("pause_windows", phase.PauseWindows); err != nil {
		return Calendar{}, err
	}
	return cal, nil
}

var titler = cases.Title(language.English)

// Title renders a phase for human-facing output ("Archive Processing").
func (p Phase) Title() string {
	return titler.String(strings.ReplaceAll(string(p), "_", " "))
}
