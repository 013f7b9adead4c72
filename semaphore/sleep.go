package semaphore

import (
	"github.com/minicoop/kernel/alarm"
	"github.com/minicoop/kernel/sched"
)

// Clock is the minimal surface Sleep needs from the clock/alarm driver:
// registering a one-shot, tick-denominated alarm. Defined here (rather
// than importing package clock) so semaphore doesn't need to know about
// the clock's goroutine/ticker plumbing — only "run this later".
type Clock interface {
	// After registers handler(arg) to fire delayMs milliseconds from now
	// and returns an alarm ID.
	After(delayMs int64, handler alarm.Handler, arg any) alarm.ID
}

// Sleep blocks the calling thread for delayMs milliseconds (spec.md §4.6):
// a private semaphore starts at 0, an alarm registered for delayMs calls V
// on it when it fires (from interrupt context), and the calling thread Ps
// it immediately. The alarm wakes the thread; the private semaphore is
// then discarded.
func Sleep(s *sched.Scheduler, c Clock, delayMs int64) {
	sem := New(s, 0)
	c.After(delayMs, func(arg any) {
		arg.(*Semaphore).V()
	}, sem)
	sem.P()
}
