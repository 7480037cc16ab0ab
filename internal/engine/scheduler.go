package engine

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn once after delay and returns a function that cancels it.
// The engine is single-threaded, so implementations must deliver fn on the
// goroutine that drives the engine (see session.Loop for the timer-backed one).
type Scheduler interface {
	After(delay time.Duration, fn func()) (cancel func())
}

// ManualScheduler is a virtual clock. Nothing runs until Advance or RunAll is
// called, which makes traversal deterministic for tests and headless play.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	at        time.Time
	seq       uint64
	fn        func()
	cancelled bool
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (m *ManualScheduler) After(delay time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	m.seq++
	t := &manualTask{at: m.now.Add(delay), seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, t)
	return func() {
		m.mu.Lock()
		t.cancelled = true
		m.mu.Unlock()
	}
}

// Now is the current virtual time.
func (m *ManualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending counts tasks that have not run or been cancelled.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// next pops the earliest live task due at or before limit. A zero limit
// means no limit.
func (m *ManualScheduler) next(limit time.Time) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.tasks = live
	if len(m.tasks) == 0 {
		return nil
	}
	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at.Equal(m.tasks[j].at) {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].at.Before(m.tasks[j].at)
	})
	t := m.tasks[0]
	if !limit.IsZero() && t.at.After(limit) {
		return nil
	}
	m.tasks = m.tasks[1:]
	if t.at.After(m.now) {
		m.now = t.at
	}
	return t
}

// Advance moves the clock forward by d, running every task that falls due,
// including tasks scheduled by those tasks. It returns how many ran.
func (m *ManualScheduler) Advance(d time.Duration) int {
	limit := m.Now().Add(d)
	ran := 0
	for {
		t := m.next(limit)
		if t == nil {
			break
		}
		t.fn()
		ran++
	}
	m.mu.Lock()
	if limit.After(m.now) {
		m.now = limit
	}
	m.mu.Unlock()
	return ran
}

// RunAll runs tasks in due order, jumping the clock, until none remain.
func (m *ManualScheduler) RunAll() int {
	ran := 0
	for {
		t := m.next(time.Time{})
		if t == nil {
			return ran
		}
		t.fn()
		ran++
	}
}
