package scheduler

import (
	"sync"
	"time"
)

// Manual is a hand-driven Scheduler for tests. Nothing fires until Advance.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	next Handle
	jobs map[Handle]*manualJob
	loc  *time.Location
}

type manualJob struct {
	at     time.Time
	fn     func()
	weekly bool
	day    time.Weekday
	hour   int
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, jobs: make(map[Handle]*manualJob), loc: time.UTC}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	m.jobs[m.next] = &manualJob{at: m.now.Add(d), fn: fn}
	return m.next
}

func (m *Manual) Cancel(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, h)
}

func (m *Manual) WeeklyAt(day time.Weekday, hour int, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	m.jobs[m.next] = &manualJob{
		at:     NextWeekly(m.now, day, hour, m.loc),
		fn:     fn,
		weekly: true,
		day:    day,
		hour:   hour,
	}
	return m.next
}

// Pending counts callbacks that have not fired or been cancelled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Advance moves the clock forward by d, firing due callbacks in time order on
// the calling goroutine. The clock reads each callback's fire time while it
// runs.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		h, job := m.due(target)
		if job == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = job.at
		if job.weekly {
			job.at = NextWeekly(job.at, job.day, job.hour, m.loc)
		} else {
			delete(m.jobs, h)
		}
		fn := job.fn
		m.mu.Unlock()

		fn()
	}
}

func (m *Manual) due(target time.Time) (Handle, *manualJob) {
	var (
		bestHandle Handle
		best       *manualJob
	)
	for h, job := range m.jobs {
		if job.at.After(target) {
			continue
		}
		if best == nil || job.at.Before(best.at) || (job.at.Equal(best.at) && h < bestHandle) {
			bestHandle, best = h, job
		}
	}
	return bestHandle, best
}
