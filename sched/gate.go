// Package sched is the thread execution substrate: the interrupt gate
// (C1), the stack-switch primitive (C2), the thread control block and its
// lifecycle (C4), the multi-level feedback scheduler (C5), and the
// dedicated idle and reaper threads (C6).
//
// The spec groups these five components together as "the hard parts
// because they jointly define the concurrency model" (spec.md §1); they
// are kept in one package here for the same reason the teacher keeps its
// event loop's state machine, registry, and ingress queues together in a
// single eventloop package — they are one cohesive concern with a single
// shared critical section, and splitting them across packages would force
// either an import cycle or a public API wider than the concern warrants.
package sched

import "sync"

// Gate is the interrupt gate (C1): the single critical section guarding
// every mutation of scheduler, alarm, semaphore, and port/socket state.
//
// Acquiring the gate is "disabling interrupts"; releasing it restores
// delivery. Unlike the classic single-threaded C implementation (where
// set_interrupt_level is a plain flag, because the whole program really is
// single-threaded under a SIGALRM handler), our clock driver runs on its
// own goroutine genuinely concurrently with whichever minithread is
// running, so the gate must also provide real mutual exclusion — a
// sync.Mutex under the hood, while keeping the spec's "prior level"
// save/restore calling convention on top of it.
type Gate struct {
	mu      sync.Mutex
	enabled bool
}

// NewGate returns an enabled (interrupts-deliverable) gate.
func NewGate() *Gate {
	return &Gate{enabled: true}
}

// Disable acquires the critical section and returns the interrupt level
// that was in effect beforehand, for the caller to restore via SetLevel.
func (g *Gate) Disable() (prior bool) {
	g.mu.Lock()
	prior = g.enabled
	g.enabled = false
	return prior
}

// SetLevel restores interrupt delivery to level and releases the critical
// section. Every call to Disable must be paired with exactly one SetLevel,
// on every exit path (normal return or panic via defer).
func (g *Gate) SetLevel(level bool) {
	g.enabled = level
	g.mu.Unlock()
}

// Atomically runs fn with interrupts disabled, always restoring the prior
// level afterward — the scoped save/restore spec.md §2 calls for.
func (g *Gate) Atomically(fn func()) {
	prior := g.Disable()
	defer g.SetLevel(prior)
	fn()
}

// Enabled reports whether interrupt delivery is currently permitted.
// Reading this outside Atomically is advisory only (e.g. for logging);
// the mutex, not this bool, is what provides the actual exclusion.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}
