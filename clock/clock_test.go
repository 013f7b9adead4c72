package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicoop/kernel/sched"
)

func TestAfterFiresHandlerOnSchedule(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	c := New(s, 5*time.Millisecond)
	go c.Run()
	defer c.Stop()

	fired := make(chan struct{})
	c.After(20, func(arg any) { close(fired) }, nil)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("alarm never fired")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	c := New(s, 5*time.Millisecond)
	go c.Run()
	defer c.Stop()

	id := c.After(50, func(arg any) { t.Error("cancelled alarm fired") }, nil)
	require.True(t, c.Cancel(id))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.Cancel(id))
}

func TestThreeAlarmsFireInDeadlineOrder(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	c := New(s, 5*time.Millisecond)
	go c.Run()
	defer c.Stop()

	var order []string
	done := make(chan struct{})
	var n int
	mark := func(name string) func(arg any) {
		return func(arg any) {
			order = append(order, name)
			n++
			if n == 3 {
				close(done)
			}
		}
	}

	c.After(60, mark("c"), nil)
	c.After(20, mark("a"), nil)
	c.After(40, mark("b"), nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all alarms fired")
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTicksForDelayRoundsUpToWholeTicks(t *testing.T) {
	c := &Clock{period: 10 * time.Millisecond}
	assert.Equal(t, int64(1), c.ticksForDelay(1))
	assert.Equal(t, int64(1), c.ticksForDelay(10))
	assert.Equal(t, int64(2), c.ticksForDelay(11))
	assert.Equal(t, int64(5), c.ticksForDelay(50))
}

// TestOnTickDrainsAlarmsBeforeAdvancingTick pins down spec.md §4.9's
// step order (drain due alarms, then advance the tick, then dispatch):
// an alarm registered for exactly the next tick must not fire until
// onTick's drain pass observes that tick has actually arrived, i.e. not
// on the same onTick call that also performs the increment making it
// due.
func TestOnTickDrainsAlarmsBeforeAdvancingTick(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	c := New(s, time.Millisecond)

	var firedAtTick int64
	c.After(1, func(arg any) { firedAtTick = c.tick }, nil)

	c.onTick() // tick 0 -> 1: alarm (deadline 1) not yet due when drained
	assert.Equal(t, int64(0), firedAtTick)
	assert.Equal(t, int64(1), c.Now())

	c.onTick() // tick 1 -> 2: drain observes tick==1, deadline==1 fires
	assert.Equal(t, int64(1), firedAtTick)
}

func TestPendingAlarmsReflectsOutstandingCount(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	c := New(s, 5*time.Millisecond)

	c.After(1000, func(arg any) {}, nil)
	c.After(2000, func(arg any) {}, nil)
	assert.Equal(t, 2, c.PendingAlarms())
}
