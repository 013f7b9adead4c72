// Package clock is the periodic clock handler (C12): a goroutine standing
// in for the original's SIGALRM-driven interrupt, draining due alarms and
// then invoking the scheduler's one-shot dispatch decision once per
// period. Grounded on the teacher's main loop structure (eventloop/loop.go
// run()/tick(): drain timers, then run one iteration), generalized to
// spec.md §4.9's three ordered steps.
package clock

import (
	"time"

	"github.com/minicoop/kernel/alarm"
	"github.com/minicoop/kernel/sched"
)

// Clock drives the alarm service and the scheduler's tick-based
// preemption decision from its own goroutine, standing in for the
// original's SIGALRM handler (spec.md §4.9). Unlike that handler, this
// one runs concurrently with minithread goroutines, so every mutation of
// shared state goes through the scheduler's gate — never re-entrantly
// (alarm handlers run outside the gate that drained them; they take it
// again themselves via whatever primitive they call, typically
// semaphore.V).
type Clock struct {
	gate   *sched.Gate
	sched  *sched.Scheduler
	alarms *alarm.Service
	period time.Duration

	tick int64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Clock that will drive s once started, ticking every
// period.
func New(s *sched.Scheduler, period time.Duration) *Clock {
	return &Clock{
		gate:   s.Gate(),
		sched:  s,
		alarms: alarm.New(),
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run starts the periodic ticker loop. It returns once Stop is called;
// run it on its own goroutine.
func (c *Clock) Run() {
	defer close(c.done)
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.onTick()
		case <-c.stop:
			return
		}
	}
}

// Stop halts the ticker loop and waits for Run to return.
func (c *Clock) Stop() {
	close(c.stop)
	<-c.done
}

// Now returns the current absolute tick count.
func (c *Clock) Now() int64 {
	var t int64
	c.gate.Atomically(func() { t = c.tick })
	return t
}

// PendingAlarms reports how many alarms are currently registered.
func (c *Clock) PendingAlarms() int {
	var n int
	c.gate.Atomically(func() { n = c.alarms.Len() })
	return n
}

// After registers handler(arg) to fire at least delayMs milliseconds from
// now (rounded up to whole ticks; always at least one tick away), per
// spec.md §4.4 register_alarm. Implements semaphore.Clock.
func (c *Clock) After(delayMs int64, handler alarm.Handler, arg any) alarm.ID {
	var id alarm.ID
	c.gate.Atomically(func() {
		deadline := c.tick + c.ticksForDelay(delayMs)
		id = c.alarms.Register(deadline, handler, arg)
	})
	return id
}

// Cancel deregisters a pending alarm (spec.md §4.4 deregister_alarm).
func (c *Clock) Cancel(id alarm.ID) bool {
	var ok bool
	c.gate.Atomically(func() { ok = c.alarms.Deregister(id) })
	return ok
}

func (c *Clock) ticksForDelay(delayMs int64) int64 {
	periodMs := c.period.Milliseconds()
	if periodMs <= 0 {
		periodMs = 1
	}
	ticks := (delayMs + periodMs - 1) / periodMs
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// onTick implements spec.md §4.9's three steps: drain due alarms (each
// handler call happens outside the gate that popped it, so a V-calling
// handler can take the gate itself without re-entering a held mutex),
// advance the tick counter, then hand control to the scheduler's one-shot
// dispatch decision.
func (c *Clock) onTick() {
	for {
		var handler alarm.Handler
		var arg any
		var ok bool
		c.gate.Atomically(func() {
			_, handler, arg, ok = c.alarms.PopDue(c.tick)
		})
		if !ok {
			break
		}
		handler(arg)
	}

	c.gate.Atomically(func() { c.tick++ })

	c.sched.Tick()
}
