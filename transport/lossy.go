package transport

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/minicoop/kernel/wire"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// Network is a shared in-memory medium a set of Lossy transports attach
// to, keyed by address — standing in for the spec's "best-effort packet
// transport" host interface without any real sockets, so tests can inject
// deterministic packet loss (spec.md §8 retransmit scenario).
type Network struct {
	mu        sync.Mutex
	endpoints map[wire.Address]*Lossy
}

// NewNetwork returns an empty shared medium.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[wire.Address]*Lossy)}
}

// Lossy is an in-memory Transport attached to a Network, with a
// configurable, deterministic packet-drop rate — used to exercise
// retransmit/backoff behavior without a real, flaky network.
type Lossy struct {
	net  *Network
	addr wire.Address

	mu       sync.Mutex
	rx       ReceiveFunc
	rnd      *rand.Rand
	dropRate float64
	closed   bool
}

// NewLossy registers a new endpoint at addr on net, with the given
// packet-drop probability in [0,1] (1 drops every packet) and a deterministic seed (tests should
// pass a fixed seed for reproducibility).
func (n *Network) NewLossy(addr wire.Address, dropRate float64, seed int64) *Lossy {
	l := &Lossy{
		net:      n,
		addr:     addr,
		rnd:      rand.New(rand.NewSource(seed)),
		dropRate: dropRate,
	}
	n.mu.Lock()
	n.endpoints[addr] = l
	n.mu.Unlock()
	return l
}

func (l *Lossy) LocalAddress() wire.Address { return l.addr }

func (l *Lossy) SetReceiver(fn ReceiveFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rx = fn
}

// Send looks up dest in the shared network and, unless this send is
// randomly dropped, delivers {header, payload} asynchronously on a new
// goroutine (to match the real transport's asynchronous delivery and
// avoid the sender and receiver's gates deadlocking against each other).
func (l *Lossy) Send(dest wire.Address, header, payload []byte) (int, error) {
	l.mu.Lock()
	closed := l.closed
	drop := l.rnd.Float64() < l.dropRate
	l.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if drop {
		return len(payload), nil // spec.md §6: losses are silent, not errors
	}

	l.net.mu.Lock()
	target := l.net.endpoints[dest]
	l.net.mu.Unlock()
	if target == nil {
		return len(payload), nil // no such endpoint: dropped, not an error
	}

	headerCopy := append([]byte(nil), header...)
	payloadCopy := append([]byte(nil), payload...)
	go func() {
		target.mu.Lock()
		rx := target.rx
		closed := target.closed
		target.mu.Unlock()
		if closed || rx == nil {
			return
		}
		rx(l.addr, headerCopy, payloadCopy)
	}()

	return len(payload), nil
}

func (l *Lossy) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.net.mu.Lock()
	delete(l.net.endpoints, l.addr)
	l.net.mu.Unlock()
	return nil
}
