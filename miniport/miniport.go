// Package miniport is the unreliable datagram layer (C10): unbound
// (listening) ports 0..32767 and bound (sending) ports 32768..65535, each
// unbound port owning a mailbox (a semaphore-gated FIFO of received
// payloads). Grounded directly on spec.md §4.7.
package miniport

import (
	"errors"

	"github.com/minicoop/kernel/queue"
	"github.com/minicoop/kernel/sched"
	"github.com/minicoop/kernel/semaphore"
	"github.com/minicoop/kernel/transport"
	"github.com/minicoop/kernel/wire"
)

const (
	firstUnboundPort = 0
	lastUnboundPort  = 32767
	firstBoundPort   = 32768
	lastBoundPort    = 65535
)

var (
	ErrInvalidParams = errors.New("miniport: invalid params")
	ErrNoMorePorts   = errors.New("miniport: no free bound port")
)

type message struct {
	from    wire.Address
	srcPort uint16
	payload []byte
}

// UnboundPort is a local listening endpoint with its own mailbox.
type UnboundPort struct {
	number int
	mgr    *Manager

	mailbox *semaphore.Semaphore
	msgs    *queue.FIFO[message]
}

// BoundPort is a sender-side endpoint: an address+port pair identifying
// where replies should go.
type BoundPort struct {
	number int
	addr   wire.Address
}

// Number returns the port number.
func (p *UnboundPort) Number() int { return p.number }

// Number returns the port number.
func (p *BoundPort) Number() int { return p.number }

// Manager owns the unbound/bound port tables and wires packet arrival
// from a transport into the right mailbox.
type Manager struct {
	sched *sched.Scheduler
	xport transport.Transport

	unbound map[int]*UnboundPort

	nextBoundIdx int
	bound        map[int]*BoundPort
}

// NewManager constructs a Manager over xport. OnPacket must be wired as
// (or into) xport's receiver by the caller — typically via
// transport.Demux, since a reliable-socket Manager may share the same
// transport and the two are told apart by the wire protocol byte
// (spec.md §4.7 "Packet arrival (called by transport in interrupt
// context)").
func NewManager(s *sched.Scheduler, xport transport.Transport) *Manager {
	return &Manager{
		sched:        s,
		xport:        xport,
		unbound:      make(map[int]*UnboundPort),
		bound:        make(map[int]*BoundPort),
		nextBoundIdx: firstBoundPort,
	}
}

// CreateUnbound creates (or returns the existing) unbound port at pn
// (spec.md §8: "create_unbound(pn) called twice returns the same port
// object").
func (m *Manager) CreateUnbound(pn int) (*UnboundPort, error) {
	if pn < firstUnboundPort || pn > lastUnboundPort {
		return nil, ErrInvalidParams
	}
	var p *UnboundPort
	m.sched.Gate().Atomically(func() {
		if existing, ok := m.unbound[pn]; ok {
			p = existing
			return
		}
		p = &UnboundPort{
			number:  pn,
			mgr:     m,
			mailbox: semaphore.New(m.sched, 0),
			msgs:    queue.NewFIFO[message](4),
		}
		m.unbound[pn] = p
	})
	return p, nil
}

// CreateBound allocates a bound port targeting addr, rotating over the
// bound range and skipping in-use numbers (spec.md §4.8's client port
// allocation rule applies equally here, per spec.md §4.7).
func (m *Manager) CreateBound(addr wire.Address) (*BoundPort, error) {
	var p *BoundPort
	var err error
	m.sched.Gate().Atomically(func() {
		start := m.nextBoundIdx
		idx := start
		for {
			if _, inUse := m.bound[idx]; !inUse {
				p = &BoundPort{number: idx, addr: addr}
				m.bound[idx] = p
				m.nextBoundIdx = idx + 1
				if m.nextBoundIdx > lastBoundPort {
					m.nextBoundIdx = firstBoundPort
				}
				return
			}
			idx++
			if idx > lastBoundPort {
				idx = firstBoundPort
			}
			if idx == start {
				err = ErrNoMorePorts
				return
			}
		}
	})
	return p, err
}

// DestroyUnbound removes an unbound port, making its number available
// again.
func (m *Manager) DestroyUnbound(p *UnboundPort) {
	m.sched.Gate().Atomically(func() {
		delete(m.unbound, p.number)
	})
}

// DestroyBound releases a bound port number.
func (m *Manager) DestroyBound(p *BoundPort) {
	m.sched.Gate().Atomically(func() {
		delete(m.bound, p.number)
	})
}

// Send constructs a datagram header and hands {header, payload} to the
// transport (spec.md §4.7 "send").
func (m *Manager) Send(local *UnboundPort, dest *BoundPort, payload []byte) (int, error) {
	if len(payload) > wire.MaxPacketSize {
		return 0, ErrInvalidParams
	}
	h := wire.DatagramHeader{
		Protocol: wire.ProtocolDatagram,
		SrcAddr:  m.xport.LocalAddress(),
		SrcPort:  uint16(local.number),
		DestAddr: dest.addr,
		DestPort: uint16(dest.number),
	}
	return m.xport.Send(dest.addr, h.Pack(), payload)
}

// Receive blocks (via P on the mailbox semaphore) until a message
// arrives, dequeues it, and materializes a fresh bound port targeting the
// sender's address+port (spec.md §4.7 "receive") — a reply-target
// descriptor, not an allocation from this process's own bound-port
// range, so it is never tracked in the bound-port table.
func (m *Manager) Receive(local *UnboundPort) (*BoundPort, []byte, error) {
	local.mailbox.P()

	var msg message
	m.sched.Gate().Atomically(func() {
		msg, _ = local.msgs.PopFront()
	})

	bound := &BoundPort{number: int(msg.srcPort), addr: msg.from}
	return bound, msg.payload, nil
}

// OnPacket is the transport's packet-arrival callback (spec.md §4.7):
// parse header, look up the destination unbound port, enqueue and V if
// present, else drop silently.
func (m *Manager) OnPacket(from wire.Address, header, payload []byte) {
	dh, ok := wire.UnpackDatagramHeader(header)
	if !ok {
		return
	}

	var p *UnboundPort
	m.sched.Gate().Atomically(func() {
		p = m.unbound[int(dh.DestPort)]
		if p == nil {
			return
		}
		p.msgs.PushBack(message{from: from, srcPort: dh.SrcPort, payload: payload})
	})
	if p != nil {
		p.mailbox.V()
	}
}
