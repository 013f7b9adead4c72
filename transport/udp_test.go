package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minicoop/kernel/wire"
)

func TestUDPRoundTrip(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 1)
	b.SetReceiver(func(from wire.Address, header, payload []byte) {
		received <- payload
	})

	h := wire.DatagramHeader{
		Protocol: wire.ProtocolDatagram,
		SrcAddr:  a.LocalAddress(),
		SrcPort:  1,
		DestAddr: b.LocalAddress(),
		DestPort: 2,
	}
	n, err := a.Send(b.LocalAddress(), h.Pack(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	select {
	case payload := <-received:
		assert.Equal(t, "ping", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("payload never arrived over loopback UDP")
	}
}

func TestAddressUDPRoundTrip(t *testing.T) {
	udpAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
	addr := AddressFromUDP(udpAddr)
	back := AddressToUDP(addr)
	assert.True(t, back.IP.Equal(udpAddr.IP.To4()))
	assert.Equal(t, udpAddr.Port, back.Port)
}

func TestUDPCloseIsIdempotent(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	// second Close must stay idempotent (sync.Once)
	require.NoError(t, a.Close())
}
