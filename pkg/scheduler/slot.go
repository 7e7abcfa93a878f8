package scheduler

import "time"

// Slot owns at most one live timer. Arming a slot always cancels whatever it held before, so the
// "cancel my own prior handle" step of a transition can't be forgotten.
//
// The zero value is an empty slot.
type Slot struct {
	h *Handle
}

// Arm cancels the slot's pending timer, if any, and schedules fn after d.
func (sl *Slot) Arm(s *Scheduler, d time.Duration, fn func()) {
	sl.Cancel()
	var h *Handle
	h = s.After(d, func() {
		if sl.h == h {
			sl.h = nil
		}
		fn()
	})
	sl.h = h
}

// Cancel stops the slot's pending timer. It reports whether a timer was pending.
func (sl *Slot) Cancel() bool {
	h := sl.h
	sl.h = nil
	return h.Cancel()
}

// Pending reports whether the slot holds a timer that has not fired.
func (sl *Slot) Pending() bool {
	return sl.h.Pending()
}

// Deadline returns the pending timer's deadline and whether one is pending.
func (sl *Slot) Deadline() (time.Time, bool) {
	if !sl.Pending() {
		return time.Time{}, false
	}
	return sl.h.Deadline(), true
}
