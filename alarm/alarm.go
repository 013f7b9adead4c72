// Package alarm is the alarm/timer service (C7): a deadline-ordered
// min-heap of pending alarms, drained by the clock handler once per tick.
//
// Modeled on the teacher's timerHeap (eventloop/loop.go): a container/heap
// of {when, task} pairs popped while the earliest entry is due. We add a
// monotonic sequence number as a tiebreak (two alarms registered for the
// same tick fire in registration order) and, unlike the teacher's
// fire-and-forget timers, real cancellation: deregister actually removes a
// pending alarm rather than leaving a stub (spec.md Open Question §9.1).
package alarm

import "container/heap"

// ID identifies a registered alarm for later deregistration.
type ID uint64

// Handler is invoked once an alarm's deadline has been reached. The
// service never calls it itself: PopDue hands it back, and the caller
// invokes it. The clock handler does so after releasing the gate it
// popped the alarm under, so a handler may take the gate itself (e.g. via
// semaphore.V).
type Handler func(arg any)

type entry struct {
	id       ID
	deadline int64 // absolute tick count
	seq      uint64
	handler  Handler
	arg      any
	index    int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service is a deadline-ordered alarm queue. Not safe for concurrent use;
// callers serialize access the same way every other kernel component does,
// under a *sched.Gate.
type Service struct {
	h       entryHeap
	byID    map[ID]*entry
	nextID  ID
	nextSeq uint64
}

// New returns an empty alarm service.
func New() *Service {
	return &Service{byID: make(map[ID]*entry)}
}

// Register schedules handler(arg) to run when the tick counter reaches
// deadline (an absolute tick, spec.md §4.4 "register_alarm"). Returns an
// ID usable with Deregister.
func (s *Service) Register(deadline int64, handler Handler, arg any) ID {
	s.nextID++
	id := s.nextID
	s.nextSeq++
	e := &entry{id: id, deadline: deadline, seq: s.nextSeq, handler: handler, arg: arg}
	heap.Push(&s.h, e)
	s.byID[id] = e
	return id
}

// Deregister removes a pending alarm before it fires. Reports whether it
// was still pending (false if it had already fired or never existed).
func (s *Service) Deregister(id ID) bool {
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.h, e.index)
	delete(s.byID, id)
	return true
}

// Len reports the number of pending alarms.
func (s *Service) Len() int { return len(s.h) }

// PopDue removes and returns the earliest alarm if its deadline is <= now
// (spec.md §4.4 "pop_due"). Callers are expected to loop PopDue until it
// returns false, draining every alarm due at or before now in deadline
// order, invoking each returned handler(arg) as it goes.
func (s *Service) PopDue(now int64) (deadline int64, handler Handler, arg any, ok bool) {
	if len(s.h) == 0 || s.h[0].deadline > now {
		return 0, nil, nil, false
	}
	e := heap.Pop(&s.h).(*entry)
	delete(s.byID, e.id)
	return e.deadline, e.handler, e.arg, true
}
