// Package wire implements the on-the-wire header formats (spec.md §6):
// big-endian, fixed-layout datagram and reliable headers, plus the opaque
// Address type they embed. Pack/unpack round-trips by construction
// (encoding/binary into/out of a fixed-size array), matching spec.md §8's
// round-trip invariant directly rather than needing a test to discover it.
package wire

import "encoding/binary"

// Protocol identifies the payload carried after a header.
type Protocol uint8

const (
	ProtocolDatagram Protocol = iota
	ProtocolReliable
)

// Message types carried in a ReliableHeader (spec.md §4.8).
type MessageType uint8

const (
	MsgSYN MessageType = iota
	MsgSYNACK
	MsgACK
	MsgDATA
	MsgFIN
)

func (m MessageType) String() string {
	switch m {
	case MsgSYN:
		return "SYN"
	case MsgSYNACK:
		return "SYNACK"
	case MsgACK:
		return "ACK"
	case MsgDATA:
		return "DATA"
	case MsgFIN:
		return "FIN"
	default:
		return "UNKNOWN"
	}
}

// Address is the opaque 8-byte host address the spec's host platform
// interface carries (spec.md §6 "Address type: opaque, with my_address,
// copy, blankify operations"). In this module it is backed by a 4-byte
// IPv4 address + 2-byte port, zero-padded, since the real transport below
// is UDP — but nothing above this package interprets its bytes.
type Address [8]byte

// Blankify resets an address to its zero value in place (spec.md §6
// "blankify").
func (a *Address) Blankify() { *a = Address{} }

// Copy returns a value copy of a (spec.md §6 "copy"; Address is already a
// plain array so Go's assignment semantics give this for free — exposed
// as a method for parity with the spec's explicit operation list).
func (a Address) Copy() Address { return a }

// MaxPacketSize is the largest payload a single send may carry (spec.md
// §8: "payload len = MAX_NETWORK_PACKET_SIZE succeeds; len = MAX+1 is
// rejected with InvalidParams"), grounded on original_source/minimsg.c's
// `len > MAX_NETWORK_PACKET_SIZE` boundary check.
const MaxPacketSize = 4096

// DatagramHeaderLen is the fixed wire size of a DatagramHeader.
const DatagramHeaderLen = 1 + 8 + 2 + 8 + 2

// ReliableHeaderLen is the fixed wire size of a ReliableHeader.
const ReliableHeaderLen = DatagramHeaderLen + 1 + 4 + 4

// DatagramHeader is the unreliable datagram layer's header (spec.md §6):
// protocol(1), source_address(8), source_port(2), destination_address(8),
// destination_port(2).
type DatagramHeader struct {
	Protocol Protocol
	SrcAddr  Address
	SrcPort  uint16
	DestAddr Address
	DestPort uint16
}

// Pack encodes h into its fixed big-endian wire layout.
func (h DatagramHeader) Pack() []byte {
	b := make([]byte, DatagramHeaderLen)
	h.packInto(b)
	return b
}

func (h DatagramHeader) packInto(b []byte) {
	b[0] = byte(h.Protocol)
	copy(b[1:9], h.SrcAddr[:])
	binary.BigEndian.PutUint16(b[9:11], h.SrcPort)
	copy(b[11:19], h.DestAddr[:])
	binary.BigEndian.PutUint16(b[19:21], h.DestPort)
}

// UnpackDatagramHeader decodes a DatagramHeader from its fixed wire
// layout. ok is false if b is too short.
func UnpackDatagramHeader(b []byte) (h DatagramHeader, ok bool) {
	if len(b) < DatagramHeaderLen {
		return h, false
	}
	h.Protocol = Protocol(b[0])
	copy(h.SrcAddr[:], b[1:9])
	h.SrcPort = binary.BigEndian.Uint16(b[9:11])
	copy(h.DestAddr[:], b[11:19])
	h.DestPort = binary.BigEndian.Uint16(b[19:21])
	return h, true
}

// ReliableHeader extends DatagramHeader with the reliable socket layer's
// message_type(1), seq(4), ack(4) (spec.md §6).
type ReliableHeader struct {
	DatagramHeader
	MessageType MessageType
	Seq         uint32
	Ack         uint32
}

// Pack encodes h into its fixed big-endian wire layout.
func (h ReliableHeader) Pack() []byte {
	b := make([]byte, ReliableHeaderLen)
	h.DatagramHeader.packInto(b[:DatagramHeaderLen])
	b[DatagramHeaderLen] = byte(h.MessageType)
	binary.BigEndian.PutUint32(b[DatagramHeaderLen+1:DatagramHeaderLen+5], h.Seq)
	binary.BigEndian.PutUint32(b[DatagramHeaderLen+5:DatagramHeaderLen+9], h.Ack)
	return b
}

// UnpackReliableHeader decodes a ReliableHeader from its fixed wire
// layout. ok is false if b is too short.
func UnpackReliableHeader(b []byte) (h ReliableHeader, ok bool) {
	if len(b) < ReliableHeaderLen {
		return h, false
	}
	dh, ok := UnpackDatagramHeader(b[:DatagramHeaderLen])
	if !ok {
		return h, false
	}
	h.DatagramHeader = dh
	h.MessageType = MessageType(b[DatagramHeaderLen])
	h.Seq = binary.BigEndian.Uint32(b[DatagramHeaderLen+1 : DatagramHeaderLen+5])
	h.Ack = binary.BigEndian.Uint32(b[DatagramHeaderLen+5 : DatagramHeaderLen+9])
	return h, true
}
