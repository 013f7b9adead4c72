package kernel

import (
	"context"
	"time"
)

// Quiesced reports whether every feedback level and the reaper queue are
// currently empty — no thread is waiting in a ready queue or for reaping.
// The currently running thread is not considered. Test harnesses use
// this to know a workload has finished without needing a fixed sleep.
func (k *Kernel) Quiesced() bool {
	for _, n := range k.Scheduler.LevelDepths() {
		if n != 0 {
			return false
		}
	}
	return k.Scheduler.ReaperDepth() == 0
}

// WaitQuiesced polls Quiesced until it's true or ctx is done, the
// cooperative-cancellation convenience this module's single-process
// design needs in place of the teacher's host-facing AbortController
// (spec.md's Non-goals exclude a formal shutdown sequence; this exists
// purely so tests don't need a fixed sleep before asserting on results).
func (k *Kernel) WaitQuiesced(ctx context.Context, pollEvery time.Duration) error {
	if pollEvery <= 0 {
		pollEvery = time.Millisecond
	}
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		if k.Quiesced() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
