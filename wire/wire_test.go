package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatagramHeaderRoundTrip(t *testing.T) {
	h := DatagramHeader{
		Protocol: ProtocolDatagram,
		SrcAddr:  Address{1, 2, 3, 4, 5, 6, 7, 8},
		SrcPort:  1234,
		DestAddr: Address{8, 7, 6, 5, 4, 3, 2, 1},
		DestPort: 5678,
	}
	b := h.Pack()
	require.Len(t, b, DatagramHeaderLen)

	got, ok := UnpackDatagramHeader(b)
	require.True(t, ok)
	assert.Equal(t, h, got)
}

func TestReliableHeaderRoundTrip(t *testing.T) {
	h := ReliableHeader{
		DatagramHeader: DatagramHeader{
			Protocol: ProtocolReliable,
			SrcAddr:  Address{9, 9, 9, 9, 9, 9, 9, 9},
			SrcPort:  1,
			DestAddr: Address{0, 0, 0, 0, 0, 0, 0, 1},
			DestPort: 2,
		},
		MessageType: MsgDATA,
		Seq:         42,
		Ack:         41,
	}
	b := h.Pack()
	require.Len(t, b, ReliableHeaderLen)

	got, ok := UnpackReliableHeader(b)
	require.True(t, ok)
	assert.Equal(t, h, got)
}

func TestUnpackRejectsTooShortBuffers(t *testing.T) {
	_, ok := UnpackDatagramHeader(make([]byte, DatagramHeaderLen-1))
	assert.False(t, ok)

	_, ok = UnpackReliableHeader(make([]byte, ReliableHeaderLen-1))
	assert.False(t, ok)
}

func TestBlankifyResetsInPlace(t *testing.T) {
	a := Address{1, 2, 3, 4, 5, 6, 7, 8}
	a.Blankify()
	assert.Equal(t, Address{}, a)
}

func TestCopyIsIndependent(t *testing.T) {
	a := Address{1, 2, 3, 4, 5, 6, 7, 8}
	b := a.Copy()
	b[0] = 0xFF
	assert.NotEqual(t, a, b)
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "SYN", MsgSYN.String())
	assert.Equal(t, "SYNACK", MsgSYNACK.String())
	assert.Equal(t, "ACK", MsgACK.String())
	assert.Equal(t, "DATA", MsgDATA.String())
	assert.Equal(t, "FIN", MsgFIN.String())
	assert.Equal(t, "UNKNOWN", MessageType(99).String())
}
