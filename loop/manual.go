package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by the caller. Posted callbacks
// run on Flush or Advance; timers run when Advance moves the clock past them.
// Manual is not safe for concurrent use.
type Manual struct {
	now    time.Time
	seq    uint64
	timers []*manualTimer
	posted []func()
}

type manualTimer struct {
	when      time.Time
	seq       uint64
	fn        func()
	cancelled bool
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time { return m.now }

// Post implements Scheduler.
func (m *Manual) Post(fn func()) { m.posted = append(m.posted, fn) }

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) Cancel {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{when: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return func() { t.cancelled = true }
}

// Flush runs posted callbacks, including any they post, until none remain.
func (m *Manual) Flush() {
	for len(m.posted) > 0 {
		fn := m.posted[0]
		m.posted = m.posted[1:]
		fn()
	}
}

// Advance moves the clock forward by d, running every timer that falls due
// in chronological order. Posted callbacks are flushed before each timer.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		m.Flush()
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.when
		t.fn()
	}
	m.now = target
	m.Flush()
}

// Pending reports the number of live timers.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	first := m.timers[0]
	if first.when.After(target) {
		return nil
	}
	m.timers = m.timers[1:]
	return first
}
