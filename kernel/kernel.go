// Package kernel is the top-level facade: it wires the scheduler, clock,
// datagram (miniport) and reliable-socket (minisocket) layers over a
// caller-supplied transport into the single entry point spec.md §6
// describes as the kernel's public API surface.
package kernel

import (
	"time"

	"github.com/minicoop/kernel/clock"
	"github.com/minicoop/kernel/klog"
	"github.com/minicoop/kernel/miniport"
	"github.com/minicoop/kernel/minisocket"
	"github.com/minicoop/kernel/sched"
	"github.com/minicoop/kernel/semaphore"
	"github.com/minicoop/kernel/transport"
	"github.com/minicoop/kernel/wire"
)

// Kernel bundles every running component Bootstrap wires together.
type Kernel struct {
	Scheduler *sched.Scheduler
	Clock     *clock.Clock
	Datagram  *miniport.Manager
	Socket    *minisocket.Manager
	Transport transport.Transport

	dispatch *dispatchMonitor
	started  bool
}

// Bootstrap constructs and wires a Kernel per spec.md §4: a scheduler
// (C5) with its idle and reaper threads (C6) guarded by one gate (C1), a
// periodic clock driving the alarm service (C12/C7), and the datagram
// and reliable-socket layers sharing one transport via transport.Demux.
// It does not start the scheduler's bootstrap thread or the clock — call
// Start for that, so the caller can Fork its own initial threads first
// (spec.md §4.2: "the bootstrap/idle split... the first thread is
// created by the caller before the scheduler ever dispatches").
func Bootstrap(opts ...Option) (*Kernel, error) {
	cfg := resolveOptions(opts)
	if cfg.xport == nil {
		return nil, ErrNoTransport
	}
	if cfg.logWriter != nil {
		klog.SetGlobal(klog.New(cfg.logWriter))
	}

	s := sched.New(cfg.schedConfig)
	clk := clock.New(s, time.Duration(cfg.clockTickMs)*time.Millisecond)

	dgram := miniport.NewManager(s, cfg.xport)
	sock := minisocket.NewManager(s, clk, cfg.xport)

	cfg.xport.SetReceiver(transport.Demux(map[wire.Protocol]transport.ReceiveFunc{
		wire.ProtocolDatagram: dgram.OnPacket,
		wire.ProtocolReliable: sock.OnPacket,
	}))

	dispatch := newDispatchMonitor()
	s.SetDispatchHook(dispatch.record)

	return &Kernel{
		Scheduler: s,
		Clock:     clk,
		Datagram:  dgram,
		Socket:    sock,
		Transport: cfg.xport,
		dispatch:  dispatch,
	}, nil
}

// Start begins the clock and makes the scheduler's first scheduling
// decision (spec.md §4.2's Bootstrap): it does not block the caller —
// the chosen thread (or idle, if none was forked first) resumes on its
// own goroutine. Fork and Start any initial threads before calling
// Start.
func (k *Kernel) Start() error {
	if k.started {
		return ErrAlreadyStarted
	}
	k.started = true
	go k.Clock.Run()
	k.Scheduler.Bootstrap()
	return nil
}

// Fork creates a new thread (spec.md §4.3 thread_fork) and starts it
// runnable (spec.md §4.4 thread_start), matching the common case where
// callers don't need the two steps split.
func (k *Kernel) Fork(entry func(arg any), arg any, name string) {
	t := k.Scheduler.Fork(entry, arg, name)
	k.Scheduler.Start(t)
}

// NewSemaphore creates a counting semaphore initialized to initial
// (spec.md §4.5 semaphore_create/semaphore_initialize).
func (k *Kernel) NewSemaphore(initial int) *semaphore.Semaphore {
	return semaphore.New(k.Scheduler, initial)
}

// Sleep blocks the calling thread for at least delayMs milliseconds
// (spec.md §4.6 thread_sleep_with_timeout), composed from the alarm
// service and a private semaphore exactly as spec.md §4.9 describes.
func (k *Kernel) Sleep(delayMs int64) {
	semaphore.Sleep(k.Scheduler, k.Clock, delayMs)
}

// Shutdown halts the periodic clock, stopping further preemption and
// alarm delivery (spec.md §4.2's Non-goals explicitly exclude a formal
// host shutdown sequence for the scheduler itself — Stop is a per-thread
// primitive a thread calls on itself, not a kernel-wide one). This is
// the test-harness convenience instead — see WaitQuiesced in
// shutdown.go.
func (k *Kernel) Shutdown() {
	k.Clock.Stop()
}
