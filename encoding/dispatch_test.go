package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacketDispatchesByType(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		check  func(t *testing.T, pkt Packet)
	}{
		{
			name: "CONNECT",
			packet: &ConnectPacket{
				ProtocolName: "MQTT", ProtocolVersion: ProtocolVersion50,
				CleanStart: true, KeepAlive: 30, ClientID: "client-1",
			},
			check: func(t *testing.T, pkt Packet) {
				_, ok := pkt.(*ConnectPacket)
				assert.True(t, ok)
			},
		},
		{
			name:   "PINGREQ",
			packet: &PingreqPacket{},
			check: func(t *testing.T, pkt Packet) {
				_, ok := pkt.(*PingreqPacket)
				assert.True(t, ok)
			},
		},
		{
			name:   "PINGRESP",
			packet: &PingrespPacket{},
			check: func(t *testing.T, pkt Packet) {
				_, ok := pkt.(*PingrespPacket)
				assert.True(t, ok)
			},
		},
		{
			name:   "DISCONNECT",
			packet: &DisconnectPacket{ReasonCode: ReasonSuccess},
			check: func(t *testing.T, pkt Packet) {
				_, ok := pkt.(*DisconnectPacket)
				assert.True(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.packet.Encode(&buf))

			parsed, err := ParsePacket(&buf)
			require.NoError(t, err)
			tt.check(t, parsed)
		})
	}
}

func TestParsePacketRejectsReservedType(t *testing.T) {
	// A fixed header byte with type nibble 0x0 (reserved) and no remaining
	// length is not a valid control packet type.
	buf := bytes.NewBuffer([]byte{0x00, 0x00})
	_, err := ParsePacket(buf)
	assert.ErrorIs(t, err, ErrInvalidReservedType)
}
