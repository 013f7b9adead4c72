package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minicoop/kernel/wire"
)

func TestDemuxRoutesByProtocolByte(t *testing.T) {
	var gotDatagram, gotReliable bool
	fn := Demux(map[wire.Protocol]ReceiveFunc{
		wire.ProtocolDatagram: func(from wire.Address, header, payload []byte) { gotDatagram = true },
		wire.ProtocolReliable: func(from wire.Address, header, payload []byte) { gotReliable = true },
	})

	fn(wire.Address{}, []byte{byte(wire.ProtocolDatagram)}, nil)
	assert.True(t, gotDatagram)
	assert.False(t, gotReliable)

	fn(wire.Address{}, []byte{byte(wire.ProtocolReliable)}, nil)
	assert.True(t, gotReliable)
}

func TestDemuxIgnoresUnknownProtocolAndEmptyHeader(t *testing.T) {
	called := false
	fn := Demux(map[wire.Protocol]ReceiveFunc{
		wire.ProtocolDatagram: func(from wire.Address, header, payload []byte) { called = true },
	})

	fn(wire.Address{}, []byte{99}, nil)
	assert.False(t, called)

	fn(wire.Address{}, nil, nil)
	assert.False(t, called)
}
