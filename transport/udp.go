package transport

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/minicoop/kernel/klog"
	"github.com/minicoop/kernel/wire"
)

// UDP is a Transport backed by a real net.PacketConn ("udp" network).
// Readiness is handled entirely by the Go runtime's integrated netpoller
// — there is no epoll/kqueue poller to hand-roll here (see DESIGN.md's
// dropped-dependency entry for golang.org/x/sys).
type UDP struct {
	conn net.PacketConn
	addr wire.Address

	mu sync.RWMutex
	rx ReceiveFunc

	log klog.Logger

	closeOnce sync.Once
	closeErr  error
}

// ListenUDP opens a UDP socket on laddr (e.g. ":9000") and starts its
// receive loop in the background. The returned transport's LocalAddress
// encodes the local IPv4 address and port; AddressToUDP/AddressFromUDP convert between wire.Address and
// net.UDPAddr for peers reachable over loopback/LAN IPv4.
func ListenUDP(laddr string) (*UDP, error) {
	conn, err := net.ListenPacket("udp", laddr)
	if err != nil {
		return nil, err
	}
	u := &UDP{
		conn: conn,
		addr: AddressFromUDP(conn.LocalAddr().(*net.UDPAddr)),
		log:  klog.Global(),
	}
	go u.readLoop()
	return u, nil
}

// AddressFromUDP packs a *net.UDPAddr's IPv4 + port into a wire.Address.
func AddressFromUDP(a *net.UDPAddr) wire.Address {
	var out wire.Address
	ip4 := a.IP.To4()
	if ip4 != nil {
		copy(out[:4], ip4)
	}
	binary.BigEndian.PutUint16(out[6:8], uint16(a.Port))
	return out
}

// AddressToUDP unpacks a wire.Address back into a *net.UDPAddr.
func AddressToUDP(a wire.Address) *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.IPv4(a[0], a[1], a[2], a[3]),
		Port: int(binary.BigEndian.Uint16(a[6:8])),
	}
}

func (u *UDP) LocalAddress() wire.Address { return u.addr }

func (u *UDP) SetReceiver(fn ReceiveFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rx = fn
}

// Send writes header+payload as a single UDP datagram to dest. Returns
// len(payload) on success, matching spec.md §6's "bytes_sent_or_error"
// contract of counting payload bytes accepted, not wire bytes.
func (u *UDP) Send(dest wire.Address, header, payload []byte) (int, error) {
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)
	_, err := u.conn.WriteTo(buf, AddressToUDP(dest))
	if err != nil {
		return 0, err
	}
	return len(payload), nil
}

func (u *UDP) Close() error {
	u.closeOnce.Do(func() { u.closeErr = u.conn.Close() })
	return u.closeErr
}

func (u *UDP) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := u.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Warning().Err(err).Log("transport: udp read error")
			continue
		}
		u.dispatch(buf[:n], from)
	}
}

func (u *UDP) dispatch(packet []byte, from net.Addr) {
	dh, ok := wire.UnpackDatagramHeader(packet)
	if !ok {
		return
	}
	headerLen := wire.DatagramHeaderLen
	if dh.Protocol == wire.ProtocolReliable {
		headerLen = wire.ReliableHeaderLen
	}
	if len(packet) < headerLen {
		return
	}

	u.mu.RLock()
	rx := u.rx
	u.mu.RUnlock()
	if rx == nil {
		return
	}

	srcAddr := dh.SrcAddr
	if udpFrom, ok := from.(*net.UDPAddr); ok {
		srcAddr = AddressFromUDP(udpFrom)
	}
	rx(srcAddr, packet[:headerLen], packet[headerLen:])
}
