// Package scheduler runs delayed and weekly callbacks. Timers is backed by the
// runtime clock; Manual is driven by hand and fires callbacks synchronously.
package scheduler

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle is never issued.
type Handle uint64

type Clock interface {
	Now() time.Time
}

type Scheduler interface {
	Clock
	After(d time.Duration, fn func()) Handle
	// Cancel is advisory: a callback that has already started still runs.
	Cancel(h Handle)
	WeeklyAt(day time.Weekday, hour int, fn func()) Handle
}

// NextWeekly returns the first day/hour boundary in loc strictly after from.
func NextWeekly(from time.Time, day time.Weekday, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	next = next.AddDate(0, 0, (int(day)-int(local.Weekday())+7)%7)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

type Timers struct {
	mu      sync.Mutex
	next    Handle
	timers  map[Handle]*time.Timer
	loc     *time.Location
	stopped bool
}

func NewTimers(loc *time.Location) *Timers {
	if loc == nil {
		loc = time.UTC
	}
	return &Timers{timers: make(map[Handle]*time.Timer), loc: loc}
}

func (s *Timers) Now() time.Time {
	return time.Now()
}

func (s *Timers) After(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	s.next++
	h := s.next
	s.timers[h] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, alive := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if alive {
			fn()
		}
	})
	return h
}

func (s *Timers) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

func (s *Timers) WeeklyAt(day time.Weekday, hour int, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	s.next++
	h := s.next
	s.armWeekly(h, day, hour, fn)
	return h
}

// armWeekly must be called with s.mu held.
func (s *Timers) armWeekly(h Handle, day time.Weekday, hour int, fn func()) {
	now := time.Now()
	delay := NextWeekly(now, day, hour, s.loc).Sub(now)
	s.timers[h] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, alive := s.timers[h]
		s.mu.Unlock()
		if !alive {
			return
		}
		fn()
		s.mu.Lock()
		if _, alive = s.timers[h]; alive && !s.stopped {
			s.armWeekly(h, day, hour, fn)
		}
		s.mu.Unlock()
	})
}

// Stop cancels every pending callback and refuses new ones.
func (s *Timers) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}
}
