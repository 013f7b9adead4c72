// Package minisocket is the reliable, connection-oriented socket layer
// (C11): a stop-and-wait state machine with exponential-backoff
// retransmit, built on top of the alarm service, the semaphore, and the
// datagram wire format. Grounded directly on spec.md §4.8, following its
// explicit resolution of the source's two divergent implementations in
// favor of "the utils version (with real semaphores/alarms and proper
// header unpacking)" (spec.md Open Questions §9.3).
package minisocket

import (
	"github.com/minicoop/kernel/alarm"
	"github.com/minicoop/kernel/clock"
	"github.com/minicoop/kernel/queue"
	"github.com/minicoop/kernel/sched"
	"github.com/minicoop/kernel/semaphore"
	"github.com/minicoop/kernel/transport"
	"github.com/minicoop/kernel/wire"
)

// State is a socket's position in the state machine (spec.md §4.8).
type State int32

const (
	StateOpenServer State = iota
	StateHandshaking
	StateOpenConnection
	StateConnectionClosing
	StateConnectionClosed
)

func (s State) String() string {
	switch s {
	case StateOpenServer:
		return "OpenServer"
	case StateHandshaking:
		return "Handshaking"
	case StateOpenConnection:
		return "OpenConnection"
	case StateConnectionClosing:
		return "ConnectionClosing"
	case StateConnectionClosed:
		return "ConnectionClosed"
	default:
		return "Unknown"
	}
}

const (
	firstUnboundPort = 0
	lastUnboundPort  = 32767
	firstClientPort  = 32768
	lastClientPort   = 65535

	initialTimeoutMs = 100
	maxSendAttempts  = 7 // initial + 6 retries, ~12.7s bounded wait

	// closeGraceMs is how long ConnectionClosing waits before the socket
	// transitions to ConnectionClosed and releases its port. The spec
	// does not pin a number ("a grace period"). 2 s is shorter than the
	// full retransmit backoff window (~12.7 s); the FIN itself is sent once
	// and is not retransmitted.
	closeGraceMs = 2000
)

// Socket is one end of a reliable connection.
type Socket struct {
	mgr *Manager

	localPort int
	peerAddr  wire.Address
	peerPort  int

	state State

	nextSeq      uint32 // next seq number this side will use
	lastAccepted uint32 // last in-order seq accepted from the peer
	haveAccepted bool   // whether lastAccepted is meaningful yet

	// awaiting{Type,Active} describe the single in-flight reliable send
	// this socket may be blocked on (spec.md §4.8: sends are serialized
	// by the caller, so there is never more than one at a time).
	awaitingType    wire.MessageType
	awaitingActive  bool
	ackReceived     bool
	pendingAlarm    alarm.ID
	hasPendingAlarm bool
	ackSem          *semaphore.Semaphore

	recvQueue *queue.FIFO[[]byte]
	recvSem   *semaphore.Semaphore

	closeAlarm alarm.ID
}

// State returns a snapshot of the socket's current state.
func (s *Socket) State() State {
	var st State
	s.mgr.sched.Gate().Atomically(func() { st = s.state })
	return st
}

// Manager owns every socket's shared port table and wires reliable-header
// packets arriving on a transport into the right socket's state machine.
type Manager struct {
	sched *sched.Scheduler
	clk   *clock.Clock
	xport transport.Transport

	byPort map[int]*Socket

	nextClientPortIdx int
}

// NewManager constructs a Manager over xport. OnPacket must be wired as
// (or into) xport's receiver by the caller — see miniport.NewManager's
// doc comment on transport.Demux for why.
func NewManager(s *sched.Scheduler, clk *clock.Clock, xport transport.Transport) *Manager {
	return &Manager{
		sched:             s,
		clk:               clk,
		xport:             xport,
		byPort:            make(map[int]*Socket),
		nextClientPortIdx: firstClientPort,
	}
}

func (m *Manager) newSocket(localPort int) *Socket {
	return &Socket{
		mgr:       m,
		localPort: localPort,
		ackSem:    semaphore.New(m.sched, 0),
		recvQueue: queue.NewFIFO[[]byte](4),
		recvSem:   semaphore.New(m.sched, 0),
	}
}

// ServerCreate listens for an incoming handshake on pn (spec.md §4.8).
func (m *Manager) ServerCreate(pn int) (*Socket, error) {
	if pn < firstUnboundPort || pn > lastUnboundPort {
		return nil, ErrInvalidParams
	}
	var sock *Socket
	var err error
	m.sched.Gate().Atomically(func() {
		if _, inUse := m.byPort[pn]; inUse {
			err = ErrPortInUse
			return
		}
		sock = m.newSocket(pn)
		sock.state = StateOpenServer
		m.byPort[pn] = sock
	})
	return sock, err
}

// ClientCreate allocates an ephemeral local port (rotating over the
// client range, per spec.md §4.8's allocation rule) and drives the
// three-way handshake against (addr, pn): send SYN, await SYNACK (with
// the same backoff as data sends), send ACK once.
func (m *Manager) ClientCreate(addr wire.Address, pn int) (*Socket, error) {
	if pn < firstUnboundPort || pn > lastUnboundPort {
		return nil, ErrInvalidParams
	}

	var sock *Socket
	var err error
	m.sched.Gate().Atomically(func() {
		localPort, ok := m.allocateClientPortLocked()
		if !ok {
			err = ErrNoMoreSockets
			return
		}
		sock = m.newSocket(localPort)
		sock.state = StateHandshaking
		sock.peerAddr = addr
		sock.peerPort = pn
		m.byPort[localPort] = sock
	})
	if err != nil {
		return nil, err
	}

	seq := sock.allocSeq()
	if _, err := m.sendWithRetry(sock, wire.MsgSYN, wire.MsgSYNACK, seq, nil); err != nil {
		m.sched.Gate().Atomically(func() { delete(m.byPort, sock.localPort) })
		return nil, err
	}

	m.sendControl(sock, wire.MsgACK, seq)
	m.sched.Gate().Atomically(func() { sock.state = StateOpenConnection })
	return sock, nil
}

// allocateClientPortLocked implements spec.md §4.8's client port
// allocation: "scan from current_client_port_index forward to 65535,
// wrap to 32768, scan up to previous index; return 0 if fully occupied."
// Must run under the gate.
func (m *Manager) allocateClientPortLocked() (int, bool) {
	start := m.nextClientPortIdx
	idx := start
	for {
		if _, inUse := m.byPort[idx]; !inUse {
			m.nextClientPortIdx = idx + 1
			if m.nextClientPortIdx > lastClientPort {
				m.nextClientPortIdx = firstClientPort
			}
			return idx, true
		}
		idx++
		if idx > lastClientPort {
			idx = firstClientPort
		}
		if idx == start {
			return 0, false
		}
	}
}

// ActiveSockets reports how many sockets this Manager currently tracks
// (every state except ConnectionClosed, which releases its port).
func (m *Manager) ActiveSockets() int {
	var n int
	m.sched.Gate().Atomically(func() { n = len(m.byPort) })
	return n
}

func (s *Socket) allocSeq() uint32 {
	var seq uint32
	s.mgr.sched.Gate().Atomically(func() {
		s.nextSeq++
		seq = s.nextSeq
	})
	return seq
}
