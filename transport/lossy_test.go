package transport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicoop/kernel/wire"
)

func TestLossyDeliversWithoutDrop(t *testing.T) {
	net := NewNetwork()
	a := net.NewLossy(wire.Address{1}, 0, 1)
	b := net.NewLossy(wire.Address{2}, 0, 2)

	received := make(chan []byte, 1)
	b.SetReceiver(func(from wire.Address, header, payload []byte) {
		received <- payload
	})

	n, err := a.Send(wire.Address{2}, []byte{0xAA}, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, len("hello"), n)

	select {
	case payload := <-received:
		assert.Equal(t, "hello", string(payload))
	case <-time.After(time.Second):
		t.Fatal("payload never delivered")
	}
}

func TestLossyDropRateOneDropsEverything(t *testing.T) {
	net := NewNetwork()
	a := net.NewLossy(wire.Address{1}, 1.0, 1)
	b := net.NewLossy(wire.Address{2}, 0, 2)

	var count int32
	b.SetReceiver(func(from wire.Address, header, payload []byte) {
		atomic.AddInt32(&count, 1)
	})

	for i := 0; i < 10; i++ {
		_, err := a.Send(wire.Address{2}, []byte{0xAA}, []byte("x"))
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestLossySendToUnknownAddressIsSilentlyDropped(t *testing.T) {
	net := NewNetwork()
	a := net.NewLossy(wire.Address{1}, 0, 1)

	n, err := a.Send(wire.Address{99}, nil, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLossyCloseRejectsFurtherSends(t *testing.T) {
	net := NewNetwork()
	a := net.NewLossy(wire.Address{1}, 0, 1)
	require.NoError(t, a.Close())

	_, err := a.Send(wire.Address{2}, nil, []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLossyIsDeterministicForAFixedSeed(t *testing.T) {
	const trials = 50
	runOnce := func() []bool {
		net := NewNetwork()
		a := net.NewLossy(wire.Address{1}, 0.3, 7)
		b := net.NewLossy(wire.Address{2}, 0, 8)

		delivered := make([]bool, trials)
		var mu sync.Mutex
		b.SetReceiver(func(from wire.Address, header, payload []byte) {
			mu.Lock()
			delivered[int(payload[0])] = true
			mu.Unlock()
		})
		for i := 0; i < trials; i++ {
			_, _ = a.Send(wire.Address{2}, nil, []byte{byte(i)})
		}
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), delivered...)
	}

	first := runOnce()
	second := runOnce()
	assert.Equal(t, first, second)

	var deliveredCount int
	for _, ok := range first {
		if ok {
			deliveredCount++
		}
	}
	assert.Greater(t, deliveredCount, 0)
	assert.Less(t, deliveredCount, trials)
}
