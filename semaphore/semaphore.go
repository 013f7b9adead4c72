// Package semaphore implements the counting semaphore (C8) that bridges
// thread code and interrupt (clock) context, plus sleep (C9), built on top
// of it. Grounded directly on spec.md §4.5/§4.6: P disables interrupts,
// decrements, and blocks via the scheduler's Stop/Start pair when the
// counter goes negative; V is safe to call from the clock's interrupt
// context because it only ever mutates state under the gate and never
// blocks.
package semaphore

import (
	"github.com/minicoop/kernel/queue"
	"github.com/minicoop/kernel/sched"
)

// Semaphore is a counting semaphore with a FIFO waiter queue. The
// {counter, queue, waiter-state} triple is always mutated under the
// scheduler's gate, so V is safe to call from interrupt (clock) context
// even while a thread is concurrently blocked in P.
type Semaphore struct {
	sched   *sched.Scheduler
	counter int
	waiters *queue.FIFO[*sched.TCB]
}

// New constructs a semaphore with the given initial count.
func New(s *sched.Scheduler, initial int) *Semaphore {
	return &Semaphore{
		sched:   s,
		counter: initial,
		waiters: queue.NewFIFO[*sched.TCB](4),
	}
}

// P decrements the counter; if it goes negative, the calling thread
// enqueues itself on the waiter FIFO and blocks until a matching V wakes
// it (spec.md §4.5). Must not be called from interrupt context.
func (sem *Semaphore) P() {
	self := sem.sched.Self()
	var mustWait bool
	sem.sched.Gate().Atomically(func() {
		sem.counter--
		if sem.counter < 0 {
			mustWait = true
			sem.waiters.PushBack(self)
		}
	})
	if mustWait {
		sem.sched.Stop()
	}
}

// V increments the counter and, if a thread was waiting, wakes the
// longest-waiting one via Start (spec.md §4.5). Safe to call from the
// clock's interrupt context.
func (sem *Semaphore) V() {
	var woken *sched.TCB
	sem.sched.Gate().Atomically(func() {
		sem.counter++
		if sem.counter <= 0 {
			woken, _ = sem.waiters.PopFront()
		}
	})
	if woken != nil {
		sem.sched.Start(woken)
	}
}

// Count returns a snapshot of the current counter value, for tests and
// diagnostics only.
func (sem *Semaphore) Count() int {
	var c int
	sem.sched.Gate().Atomically(func() { c = sem.counter })
	return c
}
