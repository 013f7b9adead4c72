// Package transport is the best-effort packet transport (spec.md §6):
// "send(dest_addr, header_bytes, header_len, payload, len) →
// bytes_sent_or_error; receive dispatch is a callback the core
// registers." The core (miniport/minisocket) never sees sockets or
// goroutines directly — only this interface — so the real UDP
// implementation and the in-memory Lossy test double are interchangeable.
package transport

import "github.com/minicoop/kernel/wire"

// ReceiveFunc is the callback the core registers to be notified of an
// inbound packet: header bytes followed by payload bytes, already
// split (spec.md §4.7 "packet arrival... parse header").
type ReceiveFunc func(from wire.Address, header, payload []byte)

// Demux returns a ReceiveFunc that peeks the wire protocol byte (the
// first byte of every header, shared by DatagramHeader and
// ReliableHeader) and forwards to the matching handler, letting the
// datagram (miniport) and reliable-socket (minisocket) layers share one
// underlying Transport and one registered receiver.
func Demux(handlers map[wire.Protocol]ReceiveFunc) ReceiveFunc {
	return func(from wire.Address, header, payload []byte) {
		if len(header) == 0 {
			return
		}
		fn, ok := handlers[wire.Protocol(header[0])]
		if !ok {
			return
		}
		fn(from, header, payload)
	}
}

// Transport is the best-effort packet sink/source every datagram and
// socket send ultimately goes through.
type Transport interface {
	// Send hands {header, payload} to the network, best-effort. Returns
	// the number of payload bytes accepted, or an error.
	Send(dest wire.Address, header, payload []byte) (int, error)

	// SetReceiver registers the callback invoked for every inbound
	// packet addressed to this transport. Only one receiver at a time;
	// a later call replaces the former.
	SetReceiver(fn ReceiveFunc)

	// LocalAddress returns this transport's own address.
	LocalAddress() wire.Address

	// Close releases any underlying resources.
	Close() error
}
