// Package schedule computes recurring reset boundaries: the daily reset
// and the session-open boundary, in a configured timezone with a holiday
// calendar. Firing is idempotent per boundary date.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind of boundary.
type Kind string

const (
	Daily        Kind = "daily"
	SessionStart Kind = "session_start"
)

const dateKey = "2006-01-02"

// Schedule names one recurring boundary, e.g. daily@17:00 America/Chicago.
type Schedule struct {
	Name     string
	Kind     Kind
	At       string // "HH:MM" wall clock in TZ
	TZ       string
	Holidays []string // dates in "2006-01-02", skipped entirely
}

func (s Schedule) validate() (*time.Location, int, int, error) {
	loc, err := time.LoadLocation(s.TZ)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("schedule %s: bad timezone %q: %w", s.Name, s.TZ, err)
	}
	hh, mm, err := parseAt(s.At)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("schedule %s: %w", s.Name, err)
	}
	for _, h := range s.Holidays {
		if _, err := time.ParseInLocation(dateKey, h, loc); err != nil {
			return nil, 0, 0, fmt.Errorf("schedule %s: bad holiday %q", s.Name, h)
		}
	}
	return loc, hh, mm, nil
}

func parseAt(at string) (hh, mm int, err error) {
	parts := strings.SplitN(at, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad time %q, want HH:MM", at)
	}
	hh, err = strconv.Atoi(parts[0])
	if err == nil {
		mm, err = strconv.Atoi(parts[1])
	}
	if err != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("bad time %q, want HH:MM", at)
	}
	return hh, mm, nil
}

type entry struct {
	sched     Schedule
	loc       *time.Location
	hh, mm    int
	holidays  map[string]bool
	lastFired string // date key of the last boundary fired (or primed)
	fn        func(name string, boundary time.Time)
}

// skips reports whether the boundary on the given local date is skipped.
// Holidays never fire; session starts additionally skip Saturdays (no
// futures session opens on a Saturday).
func (e *entry) skips(local time.Time) bool {
	if e.holidays[local.Format(dateKey)] {
		return true
	}
	return e.sched.Kind == SessionStart && local.Weekday() == time.Saturday
}

func (e *entry) boundaryOn(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), e.hh, e.mm, 0, 0, e.loc)
}

// lastBoundary returns the most recent non-skipped boundary at or before
// now, searching back at most a couple of weeks.
func (e *entry) lastBoundary(now time.Time) (time.Time, bool) {
	local := now.In(e.loc)
	for i := 0; i < 14; i++ {
		b := e.boundaryOn(local.AddDate(0, 0, -i))
		if b.After(now) || e.skips(b) {
			continue
		}
		return b, true
	}
	return time.Time{}, false
}

// nextBoundary returns the first non-skipped boundary strictly after now.
func (e *entry) nextBoundary(now time.Time) time.Time {
	local := now.In(e.loc)
	for i := 0; i < 30; i++ {
		b := e.boundaryOn(local.AddDate(0, 0, i))
		if !b.After(now) || e.skips(b) {
			continue
		}
		return b
	}
	return time.Time{}
}

// Scheduler owns the schedule set and tracks last-fired boundaries so the
// same boundary never fires twice.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Add registers a schedule. Boundaries already in the past at Add time
// are considered fired: only boundaries crossed while running fire.
// Restart rollover is the store's job (persisted last-reset date), not
// the scheduler's.
func (s *Scheduler) Add(sched Schedule, fn func(name string, boundary time.Time)) error {
	loc, hh, mm, err := sched.validate()
	if err != nil {
		return err
	}

	e := &entry{
		sched:    sched,
		loc:      loc,
		hh:       hh,
		mm:       mm,
		holidays: make(map[string]bool, len(sched.Holidays)),
		fn:       fn,
	}
	for _, h := range sched.Holidays {
		e.holidays[h] = true
	}
	if last, ok := e.lastBoundary(s.now()); ok {
		e.lastFired = last.Format(dateKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[sched.Name]; dup {
		return fmt.Errorf("schedule %s: already registered", sched.Name)
	}
	s.entries[sched.Name] = e
	return nil
}

// NextFire returns the next boundary for a named schedule.
func (s *Scheduler) NextFire(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.nextBoundary(s.now()), true
}

// Due reports whether a boundary has been crossed and not yet fired.
func (s *Scheduler) Due(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	last, ok := e.lastBoundary(now)
	return ok && last.Format(dateKey) != e.lastFired
}

// Tick fires every due schedule exactly once per boundary. Callbacks run
// outside the lock.
func (s *Scheduler) Tick(now time.Time) {
	type due struct {
		fn       func(string, time.Time)
		name     string
		boundary time.Time
	}
	var fires []due

	s.mu.Lock()
	for name, e := range s.entries {
		last, ok := e.lastBoundary(now)
		if !ok || last.Format(dateKey) == e.lastFired {
			continue
		}
		e.lastFired = last.Format(dateKey)
		if e.fn != nil {
			fires = append(fires, due{fn: e.fn, name: name, boundary: last})
		}
	}
	s.mu.Unlock()

	for _, f := range fires {
		f.fn(f.name, f.boundary)
	}
}

// Run drives Tick until the context ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(s.now())
		}
	}
}
