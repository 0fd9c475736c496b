package network

import (
	"bufio"
	"sync"

	"github.com/embermq/embermq/encoding"
)

// PacketConn wraps a Connection with buffered MQTT v5 packet framing, so
// callers read and write whole control packets instead of raw bytes.
type PacketConn struct {
	conn *Connection
	r    *bufio.Reader
	wmu  sync.Mutex
}

// NewPacketConn wraps conn for packet-level I/O.
func NewPacketConn(conn *Connection) *PacketConn {
	return &PacketConn{conn: conn, r: bufio.NewReader(conn)}
}

// ReadPacket blocks until it can decode one full control packet from the
// connection, or returns the underlying read/decode error.
func (p *PacketConn) ReadPacket() (encoding.Packet, error) {
	return encoding.ParsePacket(p.r)
}

// WritePacket encodes and writes pkt, serializing concurrent writers so a
// PUBLISH and a PINGRESP from different goroutines never interleave bytes.
func (p *PacketConn) WritePacket(pkt encoding.Packet) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return pkt.Encode(p.conn)
}

// Connection returns the wrapped connection.
func (p *PacketConn) Connection() *Connection { return p.conn }

// NewDefaultConnack builds a CONNACK with the server-side property defaults
// EmberMQ advertises when a CONNECT omits them. ParseConnectPacket never
// injects defaults during decode, so construction time is where callers are
// expected to fill them in, keeping decode pure and the policy decision in
// the broker.
func NewDefaultConnack(reasonCode encoding.ReasonCode, sessionPresent bool) (*encoding.ConnackPacket, error) {
	var props encoding.Properties
	defaults := []encoding.Property{
		{ID: encoding.PropSessionExpiryInterval, Value: uint32(0)},
		{ID: encoding.PropReceiveMaximum, Value: uint16(65535)},
		{ID: encoding.PropMaximumQoS, Value: byte(2)},
		{ID: encoding.PropRetainAvailable, Value: byte(1)},
		{ID: encoding.PropTopicAliasMaximum, Value: uint16(0)},
		{ID: encoding.PropWildcardSubscriptionAvailable, Value: byte(1)},
		{ID: encoding.PropSubscriptionIdentifierAvailable, Value: byte(1)},
		{ID: encoding.PropSharedSubscriptionAvailable, Value: byte(1)},
	}
	for _, prop := range defaults {
		if err := props.AddProperty(prop.ID, prop.Value); err != nil {
			return nil, err
		}
	}

	return &encoding.ConnackPacket{
		SessionPresent: sessionPresent,
		ReasonCode:     reasonCode,
		Properties:     props,
	}, nil
}
