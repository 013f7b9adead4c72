package sched

// runIdle is the body of the dedicated idle thread (C6). It never goes
// through Fork/runTCB: idle is not a user thread, and its dispatch logic
// is special-cased (it is the scheduler's last resort, never itself a
// member of a ready level, so it must hand off the CPU by dequeuing
// directly rather than by calling Yield/Stop).
//
// idle starts parked: it does not race Bootstrap or pre-Bootstrap Forks
// by eagerly dequeuing on its own. The first signal on its resume channel
// always comes from Bootstrap's own afterStateChangeLocked fallback (if
// nothing was Ready yet) or, once current == idle, from whoever next
// calls Start/Fork while idle.idling is true.
func (s *Scheduler) runIdle() {
	self := s.idle
	for {
		<-self.resume

		var next *TCB
		s.gate.Atomically(func() {
			if t, ok := s.dequeueReadyLocked(); ok {
				next = t
				return
			}
			self.idling = true
		})

		if next == nil {
			// Nothing appeared between being dispatched and now; keep
			// spinning the park/check cycle (spec.md §3/§4.2 "busy-wait
			// until its own state becomes Running" — reinterpreted here
			// as a blocking receive instead of a literal CPU spin).
			continue
		}

		s.gate.Atomically(func() {
			self.idling = false
			self.state = Ready
			s.current = next
			next.state = Running
			s.quantumRemaining = s.quanta[next.level]
		})
		next.resume <- struct{}{}
	}
}

// runReaper is the body of the dedicated reaper thread (C6). The spec
// describes it blocking on a semaphore that cleanup signals once per
// finishing thread; here it blocks on the same resume-channel primitive
// every TCB uses, draining the finished queue on each wake rather than
// requiring a one-signal-per-TCB count — a coalesced wake is harmless
// because the queue, not the channel, is the source of truth for what's
// pending.
func (s *Scheduler) runReaper() {
	self := s.reaper
	for {
		var t *TCB
		s.gate.Atomically(func() {
			t, _ = s.reaperQueue.PopFront()
		})
		if t == nil {
			<-self.resume
			continue
		}
		s.free(t)
	}
}

// free drops the kernel's last references to a finished TCB so its
// goroutine (already returned) and its resume channel become garbage.
// There is no manual stack arena to release (see TCB's doc comment) —
// freeing here is purely about breaking the reference the scheduler held.
func (s *Scheduler) free(t *TCB) {
	t.entry = nil
	t.arg = nil
}

func (s *Scheduler) wakeReaperLocked() {
	nonBlockingSend(s.reaper.resume)
}
