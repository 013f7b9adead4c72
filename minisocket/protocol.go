package minisocket

import (
	"github.com/minicoop/kernel/alarm"
	"github.com/minicoop/kernel/semaphore"
	"github.com/minicoop/kernel/wire"
)

// header builds a ReliableHeader for sock addressed to its peer.
func (m *Manager) header(sock *Socket, msgType wire.MessageType, seq uint32) wire.ReliableHeader {
	var ack uint32
	m.sched.Gate().Atomically(func() {
		if sock.haveAccepted {
			ack = sock.lastAccepted
		}
	})
	return wire.ReliableHeader{
		DatagramHeader: wire.DatagramHeader{
			Protocol: wire.ProtocolReliable,
			SrcAddr:  m.xport.LocalAddress(),
			SrcPort:  uint16(sock.localPort),
			DestAddr: sock.peerAddr,
			DestPort: uint16(sock.peerPort),
		},
		MessageType: msgType,
		Seq:         seq,
		Ack:         ack,
	}
}

// sendControl sends a one-shot packet with no retransmit wait (spec.md
// §4.8: "Control packets... that do not require an ACK are sent once
// without waiting").
func (m *Manager) sendControl(sock *Socket, msgType wire.MessageType, seq uint32) {
	h := m.header(sock, msgType, seq)
	_, _ = m.xport.Send(sock.peerAddr, h.Pack(), nil)
}

// sendWithRetry implements spec.md §4.8's stop-and-wait retransmit: send,
// then wait on the socket's ack semaphore with a pending timeout alarm;
// on wake, check whether the expected reply arrived (ackReceived, set by
// OnPacket) or the socket started closing; otherwise double the timeout
// and retry, up to maxSendAttempts.
func (m *Manager) sendWithRetry(sock *Socket, msgType, expectType wire.MessageType, seq uint32, payload []byte) (int, error) {
	timeout := int64(initialTimeoutMs)
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		m.sched.Gate().Atomically(func() {
			sock.ackReceived = false
			sock.awaitingType = expectType
			sock.awaitingActive = true
		})

		h := m.header(sock, msgType, seq)
		if _, err := m.xport.Send(sock.peerAddr, h.Pack(), payload); err != nil {
			// transient transport error counts as a failed attempt
			// (spec.md §7): fall through to the timeout/backoff path
			// rather than returning immediately.
		}

		alarmID := m.clk.After(timeout, func(arg any) {
			arg.(*semaphore.Semaphore).V()
		}, sock.ackSem)
		m.sched.Gate().Atomically(func() {
			sock.pendingAlarm = alarmID
			sock.hasPendingAlarm = true
		})

		sock.ackSem.P()

		var received, closing bool
		m.sched.Gate().Atomically(func() {
			received = sock.ackReceived
			closing = sock.state == StateConnectionClosing || sock.state == StateConnectionClosed
			sock.awaitingActive = false
			sock.hasPendingAlarm = false
		})

		if received {
			m.clk.Cancel(alarmID)
			return len(payload), nil
		}
		m.clk.Cancel(alarmID) // no-op if it already fired
		if closing {
			return 0, ErrConnectionClosed
		}
		timeout *= 2
	}
	return 0, ErrTimeout
}

// Send submits payload as one DATA message, retransmitting with backoff
// until acknowledged or the attempt budget is exhausted (spec.md §4.8).
func (sock *Socket) Send(payload []byte) (int, error) {
	if len(payload) > wire.MaxPacketSize {
		return 0, ErrInvalidParams
	}
	if sock.State() == StateConnectionClosing || sock.State() == StateConnectionClosed {
		return 0, ErrConnectionClosed
	}
	seq := sock.allocSeq()
	return sock.mgr.sendWithRetry(sock, wire.MsgDATA, wire.MsgACK, seq, payload)
}

// Receive blocks until one in-order DATA payload is available.
func (sock *Socket) Receive() ([]byte, error) {
	if sock.State() == StateConnectionClosing || sock.State() == StateConnectionClosed {
		return nil, ErrConnectionClosed
	}
	sock.recvSem.P()
	var payload []byte
	var ok bool
	sock.mgr.sched.Gate().Atomically(func() {
		payload, ok = sock.recvQueue.PopFront()
	})
	if !ok {
		return nil, ErrReceiveError
	}
	return payload, nil
}

// Close transitions the socket to ConnectionClosing, sends a FIN once,
// and arms an alarm that finalizes the close after a grace period
// (spec.md §4.8). Always completes; safe to call more than once.
func (sock *Socket) Close() {
	m := sock.mgr
	var alreadyClosing bool
	m.sched.Gate().Atomically(func() {
		if sock.state == StateConnectionClosing || sock.state == StateConnectionClosed {
			alreadyClosing = true
			return
		}
		sock.state = StateConnectionClosing
	})
	if alreadyClosing {
		return
	}

	m.sendControl(sock, wire.MsgFIN, sock.allocSeq())

	// Wake anything blocked in P on this socket's semaphores so an
	// in-flight send/receive observes ConnectionClosing promptly instead
	// of waiting out a full timeout.
	sock.ackSem.V()
	sock.recvSem.V()

	sock.closeAlarm = m.clk.After(closeGraceMs, func(arg any) {
		s := arg.(*Socket)
		s.mgr.finishClose(s)
	}, sock)
}

func (m *Manager) finishClose(sock *Socket) {
	m.sched.Gate().Atomically(func() {
		sock.state = StateConnectionClosed
		delete(m.byPort, sock.localPort)
	})
}

// OnPacket is the transport's packet-arrival callback for reliable
// headers (spec.md §4.7's callback mechanism, applied to the reliable
// layer): look up the destination socket by port and hand off to its
// state machine.
func (m *Manager) OnPacket(from wire.Address, header, payload []byte) {
	rh, ok := wire.UnpackReliableHeader(header)
	if !ok {
		return
	}
	var sock *Socket
	m.sched.Gate().Atomically(func() { sock = m.byPort[int(rh.DestPort)] })
	if sock == nil {
		return
	}
	m.handlePacket(sock, from, rh, payload)
}

func (m *Manager) handlePacket(sock *Socket, from wire.Address, rh wire.ReliableHeader, payload []byte) {
	var (
		matched       bool
		alarmToCancel alarm.ID
		hasAlarm      bool
	)

	m.sched.Gate().Atomically(func() {
		if sock.awaitingActive && rh.MessageType == sock.awaitingType {
			matched = true
			sock.ackReceived = true
			if sock.hasPendingAlarm {
				alarmToCancel = sock.pendingAlarm
				hasAlarm = true
				sock.hasPendingAlarm = false
			}
		}
	})

	if matched {
		if hasAlarm {
			m.clk.Cancel(alarmToCancel)
		}
		sock.ackSem.V()
		// A matched SYN's ACK also needs server-side bookkeeping below
		// (accepting the connection), so fall through for SYN/ACK only
		// when this socket is the server side of a still-handshaking
		// connection.
		if sock.State() != StateHandshaking || rh.MessageType != wire.MsgACK {
			return
		}
	}

	switch rh.MessageType {
	case wire.MsgSYN:
		m.acceptSYN(sock, from, rh)
	case wire.MsgACK:
		m.acceptFinalACK(sock, rh)
	case wire.MsgDATA:
		m.acceptData(sock, rh, payload)
	case wire.MsgFIN:
		m.acceptFIN(sock, rh)
	}
}

// acceptSYN handles an incoming SYN on a server socket, moving it from
// OpenServer to Handshaking and replying with a backoff-retried SYNACK
// awaiting the client's final ACK (spec.md §4.8 state machine).
func (m *Manager) acceptSYN(sock *Socket, from wire.Address, rh wire.ReliableHeader) {
	var proceed bool
	m.sched.Gate().Atomically(func() {
		if sock.state != StateOpenServer {
			return
		}
		sock.state = StateHandshaking
		sock.peerAddr = from
		sock.peerPort = int(rh.SrcPort)
		sock.lastAccepted = rh.Seq
		sock.haveAccepted = true
		proceed = true
	})
	if !proceed {
		return
	}

	seq := sock.allocSeq()
	// sendWithRetry blocks on sock.ackSem.P(), which looks up and parks
	// whatever TCB the scheduler currently considers Self() — it must
	// therefore run as its own tracked TCB (spec.md §4.4 thread_fork),
	// not a bare goroutine, or it would park an unrelated running thread.
	t := m.sched.Fork(func(arg any) {
		_, err := m.sendWithRetry(sock, wire.MsgSYNACK, wire.MsgACK, seq, nil)
		m.sched.Gate().Atomically(func() {
			if err != nil {
				sock.state = StateOpenServer // retry exhausted: back to listening
				sock.peerAddr = wire.Address{}
				sock.peerPort = 0
				return
			}
			sock.state = StateOpenConnection
		})
	}, nil, "accept")
	m.sched.Start(t)
}

// acceptFinalACK completes the server-side handshake once the client's
// final ACK arrives; handlePacket's generic "matched" path already woke
// the SYNACK waiter, so this only needs to run when that branch didn't
// already finalize the transition (e.g. a duplicate ACK replay).
func (m *Manager) acceptFinalACK(sock *Socket, rh wire.ReliableHeader) {
	m.sched.Gate().Atomically(func() {
		if sock.state == StateHandshaking {
			sock.state = StateOpenConnection
		}
	})
}

// acceptData delivers an in-order DATA payload and ACKs it; duplicates
// (seq <= last accepted) are ACKed but not delivered (spec.md §4.8).
func (m *Manager) acceptData(sock *Socket, rh wire.ReliableHeader, payload []byte) {
	var duplicate bool
	m.sched.Gate().Atomically(func() {
		if sock.haveAccepted && rh.Seq <= sock.lastAccepted {
			duplicate = true
			return
		}
		sock.lastAccepted = rh.Seq
		sock.haveAccepted = true
		sock.recvQueue.PushBack(append([]byte(nil), payload...))
	})
	m.sendControl(sock, wire.MsgACK, rh.Seq)
	if !duplicate {
		sock.recvSem.V()
	}
}

// acceptFIN moves a peer-initiated close into ConnectionClosing, mirroring
// the local Close() path (spec.md §4.8: "close / peer FIN -->
// ConnectionClosing").
func (m *Manager) acceptFIN(sock *Socket, rh wire.ReliableHeader) {
	var shouldClose bool
	m.sched.Gate().Atomically(func() {
		if sock.state == StateOpenConnection {
			sock.state = StateConnectionClosing
			shouldClose = true
		}
	})
	if shouldClose {
		sock.ackSem.V()
		sock.recvSem.V()
		sock.closeAlarm = sock.mgr.clk.After(closeGraceMs, func(arg any) {
			s := arg.(*Socket)
			s.mgr.finishClose(s)
		}, sock)
	}
}
