package semaphore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicoop/kernel/alarm"
	"github.com/minicoop/kernel/sched"
)

func TestPBlocksUntilV(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	sem := New(s, 0)

	var order []string
	var mu sync.Mutex
	done := make(chan struct{})

	s.Fork(func(arg any) {
		sem.P()
		mu.Lock()
		order = append(order, "consumer")
		mu.Unlock()
		close(done)
	}, nil, "consumer")

	s.Fork(func(arg any) {
		mu.Lock()
		order = append(order, "producer")
		mu.Unlock()
		sem.V()
	}, nil, "producer")

	s.Bootstrap()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer never woke")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"producer", "consumer"}, order)
}

func TestVFromOutsideAnyThreadWakesWaiter(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	sem := New(s, 0)

	woke := make(chan struct{})
	s.Fork(func(arg any) {
		sem.P()
		close(woke)
	}, nil, "waiter")
	s.Bootstrap()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-woke:
		t.Fatal("woke before V")
	default:
	}

	// V called from this goroutine stands in for the clock's interrupt
	// context, exactly as spec.md §4.5 requires it to be safe to do.
	sem.V()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after V")
	}
}

func TestFIFOOrderAmongWaiters(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	sem := New(s, 0)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		n := i
		s.Fork(func(arg any) {
			sem.P()
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}, nil, "waiter")
	}
	s.Bootstrap()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		sem.V()
		time.Sleep(10 * time.Millisecond)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all waiters woke")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

type fakeClock struct {
	mu     sync.Mutex
	timers []func()
}

func (c *fakeClock) After(delayMs int64, handler alarm.Handler, arg any) alarm.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, func() { handler(arg) })
	return alarm.ID(len(c.timers))
}

func (c *fakeClock) fireAll() {
	c.mu.Lock()
	timers := append([]func(){}, c.timers...)
	c.timers = nil
	c.mu.Unlock()
	for _, fn := range timers {
		fn()
	}
}

func TestSleepWakesViaAlarm(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	fc := &fakeClock{}

	asleep := make(chan struct{})
	awake := make(chan struct{})
	s.Fork(func(arg any) {
		close(asleep)
		Sleep(s, fc, 50)
		close(awake)
	}, nil, "sleeper")
	s.Bootstrap()

	require.Eventually(t, func() bool {
		select {
		case <-asleep:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	select {
	case <-awake:
		t.Fatal("woke before the alarm fired")
	default:
	}

	fc.fireAll()

	select {
	case <-awake:
	case <-time.After(time.Second):
		t.Fatal("never woke after the alarm fired")
	}
}
