package sched

import (
	"time"

	"github.com/minicoop/kernel/queue"
)

// Config holds the tunables for a Scheduler: per-level quanta (in ticks)
// and the freq_count cumulative percentage thresholds that pick the
// starting level for each scheduling decision (spec.md §3, §4.2).
//
// len(Quanta) and len(Thresholds) must match; Thresholds must be strictly
// increasing and end at 100.
type Config struct {
	Quanta     []int
	Thresholds []int
}

// DefaultConfig is the four-level feedback ladder spec.md §4.2 describes
// by example: level 0 gets the shortest quantum and the most scheduling
// weight, level 3 the longest quantum and the least.
func DefaultConfig() Config {
	return Config{
		Quanta:     []int{1, 2, 4, 8},
		Thresholds: []int{50, 75, 90, 100},
	}
}

// Scheduler is the multi-level feedback scheduler (C5) plus the dedicated
// idle and reaper threads (C6), all guarded by one Gate (C1).
type Scheduler struct {
	gate *Gate

	numLevels  int
	quanta     []int
	thresholds []int

	levels      *queue.Levels[*TCB]
	reaperQueue *queue.FIFO[*TCB]

	nextID    int64
	freqCount int

	current          *TCB
	quantumRemaining int

	idle   *TCB
	reaper *TCB

	dispatchHook func(time.Duration)
}

// SetDispatchHook installs fn to be called, while the gate is still held,
// with the wall-clock time spent inside each scheduling decision; fn must
// therefore not take the gate itself. Used by the
// kernel package's optional metrics; nil (the default) disables
// measurement entirely.
func (s *Scheduler) SetDispatchHook(fn func(time.Duration)) {
	s.gate.Atomically(func() { s.dispatchHook = fn })
}

// New constructs a Scheduler and starts its idle and reaper threads. Call
// Bootstrap once, after any initial Fork calls, to begin execution.
func New(cfg Config) *Scheduler {
	if len(cfg.Quanta) == 0 {
		cfg = DefaultConfig()
	}
	s := &Scheduler{
		gate:        NewGate(),
		numLevels:   len(cfg.Quanta),
		quanta:      append([]int(nil), cfg.Quanta...),
		thresholds:  append([]int(nil), cfg.Thresholds...),
		levels:      queue.NewLevels[*TCB](len(cfg.Quanta)),
		reaperQueue: queue.NewFIFO[*TCB](8),
	}

	s.idle = s.newTCB(nil, nil, "idle")
	s.reaper = s.newTCB(nil, nil, "reaper")

	go s.runIdle()
	go s.runReaper()

	return s
}

func (s *Scheduler) newTCB(entry func(arg any), arg any, name string) *TCB {
	s.nextID++
	return &TCB{
		id:     s.nextID,
		state:  Waiting,
		resume: make(chan struct{}, 1),
		entry:  entry,
		arg:    arg,
		name:   name,
	}
}

// Fork creates a new TCB running entry(arg) on its own goroutine, enqueues
// it Ready at level 0, and returns it (spec.md §4.1 "fork").
func (s *Scheduler) Fork(entry func(arg any), arg any, name string) *TCB {
	var t *TCB
	s.gate.Atomically(func() {
		t = s.newTCB(entry, arg, name)
	})

	go s.runTCB(t)
	s.Start(t)
	return t
}

// Start transitions t to Ready and enqueues it at level 0, waking the
// idle thread if it is presently spinning. A no-op if t is already
// Ready or Running (spec.md §4.1).
func (s *Scheduler) Start(t *TCB) {
	var wakeIdle bool
	s.gate.Atomically(func() {
		if t.state == Ready || t.state == Running {
			return
		}
		t.state = Ready
		t.level = 0
		s.levels.PushBack(0, t)
		wakeIdle = s.idle.idling
	})
	if wakeIdle {
		nonBlockingSend(s.idle.resume)
	}
}

// Gate returns the scheduler's shared critical section. Other kernel
// packages (semaphore, alarm-driving clock code, ports, sockets) use the
// same gate so that scheduler state and their own state are always
// mutated as one atomic unit, matching spec.md's single interrupt-disable
// domain.
func (s *Scheduler) Gate() *Gate { return s.gate }

// LevelDepths reports the number of Ready TCBs queued at each feedback
// level, for introspection/metrics use.
func (s *Scheduler) LevelDepths() []int {
	depths := make([]int, s.numLevels)
	s.gate.Atomically(func() {
		for lvl := range depths {
			depths[lvl] = s.levels.Len(lvl)
		}
	})
	return depths
}

// ReaperDepth reports how many Finished TCBs are queued awaiting reaping.
func (s *Scheduler) ReaperDepth() int {
	var n int
	s.gate.Atomically(func() { n = s.reaperQueue.Len() })
	return n
}

// Self returns the currently Running TCB, or nil before Bootstrap.
func (s *Scheduler) Self() *TCB {
	var t *TCB
	s.gate.Atomically(func() { t = s.current })
	return t
}

// Yield invokes the scheduler (spec.md §4.1): the caller remains Running
// if none of the Context switch rule's three conditions (quantum
// exhausted, not Running, bootstrap) hold.
func (s *Scheduler) Yield() {
	self := s.Self()
	if self == nil {
		return
	}
	s.invokeScheduler(self, Running)
}

// Stop transitions the current TCB Running→Waiting and invokes the
// scheduler. The only way back to Ready is another thread calling Start
// on this TCB (spec.md §4.1).
func (s *Scheduler) Stop() {
	self := s.Self()
	if self == nil {
		return
	}
	s.invokeScheduler(self, Waiting)
}

// Bootstrap performs the very first scheduling decision (Context switch
// rule condition iii, spec.md §4.2: "no TCB is currently running"). Call
// once, after any initial Fork calls that should run before idle takes
// over; it does not block the calling goroutine.
func (s *Scheduler) Bootstrap() {
	var next *TCB
	s.gate.Atomically(func() {
		next, _ = s.afterStateChangeLocked(nil)
	})
	if next != nil {
		next.resume <- struct{}{}
	}
}

// Tick is the clock's (C12) one-shot scheduling decision, invoked once
// per period after alarms drain and the tick counter advances. It
// implements the quantum-exhaustion half of the Context switch rule;
// the demoted-or-not outcome is decided and recorded here under the
// gate even though, per SPEC_FULL.md §4.2's documented concurrency
// caveat, the demoted thread's own goroutine only notices at its next
// kernel call.
func (s *Scheduler) Tick() {
	var self, next *TCB
	var switched bool
	s.gate.Atomically(func() {
		self = s.current
		if self == nil || self == s.idle {
			return
		}
		s.quantumRemaining--
		next, switched = s.afterStateChangeLocked(self)
	})
	if switched && next != nil && next != self {
		next.resume <- struct{}{}
	}
}

func (s *Scheduler) runTCB(t *TCB) {
	<-t.resume
	t.entry(t.arg)
	s.finish(t)
}

func (s *Scheduler) finish(t *TCB) {
	var next *TCB
	s.gate.Atomically(func() {
		t.state = Finished
		next, _ = s.afterStateChangeLocked(t)
	})
	if next != nil && next != t {
		next.resume <- struct{}{}
	}
}

// invokeScheduler implements the shared Yield/Stop path: set self's
// proposed state, apply the Context switch rule, and either return
// immediately (no switch) or hand off and park until redispatched.
func (s *Scheduler) invokeScheduler(self *TCB, proposed State) {
	var next *TCB
	var switched bool
	s.gate.Atomically(func() {
		self.state = proposed
		next, switched = s.afterStateChangeLocked(self)
	})
	if !switched {
		return
	}
	if next != self {
		next.resume <- struct{}{}
	}
	<-self.resume
}

// afterStateChangeLocked is the Context switch rule (spec.md §4.2). Must
// run under the gate. outgoing is nil only at Bootstrap; otherwise its
// .state already reflects the caller's proposed transition. Returns the
// TCB to dispatch next (idle as a last resort — idle is never itself a
// member of outgoing's levels, so this never infinite-loops back to
// outgoing).
func (s *Scheduler) afterStateChangeLocked(outgoing *TCB) (next *TCB, switched bool) {
	if s.dispatchHook != nil {
		start := time.Now()
		defer func() { s.dispatchHook(time.Since(start)) }()
	}

	quantumExpired := outgoing != nil && s.quantumRemaining <= 0
	mustSwitch := outgoing == nil || quantumExpired || outgoing.state != Running
	if !mustSwitch {
		return nil, false
	}

	if outgoing != nil {
		switch outgoing.state {
		case Finished:
			s.reaperQueue.PushBack(outgoing)
			s.wakeReaperLocked()
		case Waiting:
			// already parked by the caller (semaphore/alarm/sleep logic)
		default: // Running or Ready: demote one level and requeue
			if !outgoing.idling {
				lvl := outgoing.level + 1
				if lvl >= s.numLevels {
					lvl = s.numLevels - 1
				}
				outgoing.level = lvl
				outgoing.state = Ready
				s.levels.PushBack(lvl, outgoing)
			}
		}
	}

	next = s.pickNextLocked()
	s.current = next
	if next != nil {
		next.state = Running
		s.quantumRemaining = s.quanta[next.level]
	}
	return next, true
}

// nextStartLevelLocked picks the starting level for a dequeue scan using
// the freq_count cumulative-threshold scheme (spec.md §4.2), advancing
// freq_count modulo 100 on every call.
func (s *Scheduler) nextStartLevelLocked() int {
	c := s.freqCount
	s.freqCount = (s.freqCount + 1) % 100
	for lvl, threshold := range s.thresholds {
		if c < threshold {
			return lvl
		}
	}
	return s.numLevels - 1
}

// dequeueReadyLocked applies the starting-level pick and the wrap-around
// dequeue scan (spec.md §4.2), with no idle fallback.
func (s *Scheduler) dequeueReadyLocked() (*TCB, bool) {
	start := s.nextStartLevelLocked()
	t, _, ok := s.levels.DequeueFrom(start)
	return t, ok
}

// pickNextLocked is dequeueReadyLocked with an idle fallback, for callers
// that need *some* TCB to hand the CPU to even when nothing is Ready.
func (s *Scheduler) pickNextLocked() *TCB {
	if t, ok := s.dequeueReadyLocked(); ok {
		return t
	}
	return s.idle
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
