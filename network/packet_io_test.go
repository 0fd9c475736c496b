package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermq/embermq/encoding"
)

func TestPacketConnWriteAndReadRoundTrip(t *testing.T) {
	clientNet, serverNet := net.Pipe()
	defer clientNet.Close()
	defer serverNet.Close()

	client := NewPacketConn(NewConnection(clientNet, "client", nil))
	server := NewPacketConn(NewConnection(serverNet, "server", nil))

	done := make(chan error, 1)
	go func() {
		done <- client.WritePacket(&encoding.PingreqPacket{})
	}()

	pkt, err := server.ReadPacket()
	require.NoError(t, err)
	require.NoError(t, <-done)

	_, ok := pkt.(*encoding.PingreqPacket)
	assert.True(t, ok)
}

func TestNewDefaultConnackSetsExpectedProperties(t *testing.T) {
	connack, err := NewDefaultConnack(encoding.ReasonSuccess, true)
	require.NoError(t, err)

	assert.True(t, connack.SessionPresent)
	assert.Equal(t, encoding.ReasonSuccess, connack.ReasonCode)

	prop := connack.Properties.GetProperty(encoding.PropReceiveMaximum)
	require.NotNil(t, prop)
	assert.Equal(t, uint16(65535), prop.Value)

	prop = connack.Properties.GetProperty(encoding.PropMaximumQoS)
	require.NotNil(t, prop)
	assert.Equal(t, byte(2), prop.Value)
}
