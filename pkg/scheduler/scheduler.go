// Package scheduler is the cooperative, single-threaded delayed-callback substrate every time-based
// transition in a match runs on. It is driven explicitly: the owner calls Tick with the current time,
// which makes it trivially deterministic under a simulated clock.
//
// A Scheduler is not safe for concurrent use. It is owned by exactly one event loop.
package scheduler

import (
	"container/heap"
	"time"
)

// Scheduler holds pending timers and the deferred-action queue.
type Scheduler struct {
	now      time.Time
	seq      uint64
	timers   timerHeap
	deferred []func()
}

// New creates a scheduler whose clock starts at start.
func New(start time.Time) *Scheduler {
	return &Scheduler{
		now:      start,
		timers:   make(timerHeap, 0, 16),
		deferred: make([]func(), 0, 16),
	}
}

// Now returns the scheduler clock. While a timer callback runs, Now is that timer's deadline.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// After schedules fn to run once d has elapsed on the scheduler clock. A non-positive d fires on the
// next Tick, or later in the current one when scheduled from a timer callback.
func (s *Scheduler) After(d time.Duration, fn func()) *Handle {
	if d < 0 {
		d = 0
	}
	s.seq++
	h := &Handle{
		s:        s,
		deadline: s.now.Add(d),
		seq:      s.seq,
		fn:       fn,
		index:    -1,
	}
	heap.Push(&s.timers, h)
	return h
}

// Defer queues fn to run at the start of the next Tick. Deferred actions run in FIFO order; an action
// deferred while the queue is being drained runs one tick later.
func (s *Scheduler) Defer(fn func()) {
	s.deferred = append(s.deferred, fn)
}

// Tick advances the clock to now. It first drains the deferred queue, then fires every timer whose
// deadline is at or before now, earliest first, including timers scheduled by callbacks during this
// tick. Going backwards in time is a no-op for the clock.
func (s *Scheduler) Tick(now time.Time) {
	s.drain()

	for len(s.timers) > 0 {
		next := s.timers[0]
		if next.deadline.After(now) {
			break
		}
		heap.Pop(&s.timers)
		if next.deadline.After(s.now) {
			s.now = next.deadline
		}
		fn := next.fn
		next.fn = nil
		fn()
	}

	if now.After(s.now) {
		s.now = now
	}
}

// Advance ticks the scheduler forward by d.
func (s *Scheduler) Advance(d time.Duration) {
	s.Tick(s.now.Add(d))
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	return len(s.timers)
}

// PendingDeferred returns the number of actions waiting for the next tick.
func (s *Scheduler) PendingDeferred() int {
	return len(s.deferred)
}

func (s *Scheduler) drain() {
	if len(s.deferred) == 0 {
		return
	}
	batch := s.deferred
	s.deferred = make([]func(), 0, cap(batch))
	for _, fn := range batch {
		fn()
	}
}

// Handle refers to a single scheduled callback.
type Handle struct {
	s        *Scheduler
	deadline time.Time
	seq      uint64
	fn       func()
	index    int
}

// Cancel removes the timer if it has not fired yet. It reports whether the timer was pending.
func (h *Handle) Cancel() bool {
	if h == nil || h.index < 0 {
		return false
	}
	heap.Remove(&h.s.timers, h.index)
	h.fn = nil
	return true
}

// Pending reports whether the timer is still waiting to fire.
func (h *Handle) Pending() bool {
	return h != nil && h.index >= 0
}

// Deadline returns when the timer fires.
func (h *Handle) Deadline() time.Time {
	return h.deadline
}

// timerHeap orders handles by deadline, then by scheduling order.
type timerHeap []*Handle

var _ heap.Interface = (*timerHeap)(nil)

func (t timerHeap) Len() int { return len(t) }

func (t timerHeap) Less(i, j int) bool {
	if t[i].deadline.Equal(t[j].deadline) {
		return t[i].seq < t[j].seq
	}
	return t[i].deadline.Before(t[j].deadline)
}

func (t timerHeap) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
	t[i].index = i
	t[j].index = j
}

func (t *timerHeap) Push(x any) {
	h := x.(*Handle) //nolint:errcheck // only handles are pushed
	h.index = len(*t)
	*t = append(*t, h)
}

func (t *timerHeap) Pop() any {
	old := *t
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*t = old[:n-1]
	return h
}
