package miniport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicoop/kernel/sched"
	"github.com/minicoop/kernel/transport"
	"github.com/minicoop/kernel/wire"
)

func TestCreateUnboundIsIdempotent(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()
	xport := net.NewLossy(wire.Address{1}, 0, 1)
	m := NewManager(s, xport)

	p1, err := m.CreateUnbound(100)
	require.NoError(t, err)
	p2, err := m.CreateUnbound(100)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestCreateUnboundRejectsOutOfRange(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()
	xport := net.NewLossy(wire.Address{1}, 0, 1)
	m := NewManager(s, xport)

	_, err := m.CreateUnbound(lastUnboundPort + 1)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestSendReceiveRoundTrip(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()

	xportA := net.NewLossy(wire.Address{1}, 0, 1)
	xportB := net.NewLossy(wire.Address{2}, 0, 2)

	mA := NewManager(s, xportA)
	mB := NewManager(s, xportB)
	xportB.SetReceiver(mB.OnPacket)

	portA, err := mA.CreateUnbound(10)
	require.NoError(t, err)
	portB, err := mB.CreateUnbound(20)
	require.NoError(t, err)

	done := make(chan struct{})
	s.Fork(func(arg any) {
		_, payload, err := mB.Receive(portB)
		require.NoError(t, err)
		assert.Equal(t, "hi", string(payload))
		close(done)
	}, nil, "receiver")
	s.Bootstrap()

	time.Sleep(20 * time.Millisecond)
	target := &BoundPort{number: 20, addr: wire.Address{2}}
	_, err = mA.Send(portA, target, []byte("hi"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message never received")
	}
}

func TestReceiveMaterializesReplyBoundPort(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()

	xportA := net.NewLossy(wire.Address{1}, 0, 1)
	xportB := net.NewLossy(wire.Address{2}, 0, 2)

	mA := NewManager(s, xportA)
	mB := NewManager(s, xportB)
	xportB.SetReceiver(mB.OnPacket)

	portA, err := mA.CreateUnbound(10)
	require.NoError(t, err)
	portB, err := mB.CreateUnbound(20)
	require.NoError(t, err)

	reply := make(chan *BoundPort, 1)
	s.Fork(func(arg any) {
		from, _, err := mB.Receive(portB)
		require.NoError(t, err)
		reply <- from
	}, nil, "receiver")
	s.Bootstrap()
	time.Sleep(20 * time.Millisecond)

	target := &BoundPort{number: 20, addr: wire.Address{2}}
	_, err = mA.Send(portA, target, []byte("x"))
	require.NoError(t, err)

	select {
	case from := <-reply:
		assert.Equal(t, 10, from.Number())
		assert.Equal(t, wire.Address{1}, from.addr)
	case <-time.After(time.Second):
		t.Fatal("reply port never materialized")
	}
}

func TestCreateBoundRotatesAndRejectsWhenFull(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()
	xport := net.NewLossy(wire.Address{1}, 0, 1)
	m := NewManager(s, xport)

	first, err := m.CreateBound(wire.Address{2})
	require.NoError(t, err)
	assert.Equal(t, firstBoundPort, first.Number())

	second, err := m.CreateBound(wire.Address{2})
	require.NoError(t, err)
	assert.Equal(t, firstBoundPort+1, second.Number())

	for i := firstBoundPort + 2; i <= lastBoundPort; i++ {
		_, err := m.CreateBound(wire.Address{2})
		require.NoError(t, err)
	}
	_, err = m.CreateBound(wire.Address{2})
	assert.ErrorIs(t, err, ErrNoMorePorts)
}

func TestDestroyUnboundFreesTheNumber(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()
	xport := net.NewLossy(wire.Address{1}, 0, 1)
	m := NewManager(s, xport)

	p1, err := m.CreateUnbound(5)
	require.NoError(t, err)
	m.DestroyUnbound(p1)

	p2, err := m.CreateUnbound(5)
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
}

func TestSendRejectsPayloadLargerThanMaxPacketSize(t *testing.T) {
	s := sched.New(sched.DefaultConfig())
	net := transport.NewNetwork()
	xport := net.NewLossy(wire.Address{1}, 0, 1)
	m := NewManager(s, xport)

	local, err := m.CreateUnbound(10)
	require.NoError(t, err)
	target := &BoundPort{number: 20, addr: wire.Address{2}}

	_, err = m.Send(local, target, make([]byte, wire.MaxPacketSize))
	assert.NoError(t, err)

	_, err = m.Send(local, target, make([]byte, wire.MaxPacketSize+1))
	assert.ErrorIs(t, err, ErrInvalidParams)
}
