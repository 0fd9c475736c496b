// Command embermq-cli connects to an EmberMQ broker, completes the MQTT v5
// CONNECT handshake and exits, printing the server's CONNACK.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/embermq/embermq/encoding"
	"github.com/embermq/embermq/network"
	"github.com/embermq/embermq/pkg/logger"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8888", "broker address")
	clientID := flag.String("client-id", "embermq-cli", "MQTT client identifier")
	flag.Parse()

	log := logger.NewSlogLogger(slog.LevelInfo, os.Stdout)
	slog.SetDefault(log.Logger())

	netConn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		slog.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	conn := network.NewConnection(netConn, "cli", &network.ConnectionConfig{})
	pc := network.NewPacketConn(conn)
	defer conn.Close()

	connect := &encoding.ConnectPacket{
		ProtocolName:    "MQTT",
		ProtocolVersion: encoding.ProtocolVersion50,
		CleanStart:      true,
		KeepAlive:       60,
		ClientID:        *clientID,
	}
	if err := pc.WritePacket(connect); err != nil {
		slog.Error("failed to send connect", "error", err)
		os.Exit(1)
	}

	pkt, err := pc.ReadPacket()
	if err != nil {
		slog.Error("failed to read connack", "error", err)
		os.Exit(1)
	}

	connack, ok := pkt.(*encoding.ConnackPacket)
	if !ok {
		slog.Error("unexpected packet from broker")
		os.Exit(1)
	}
	fmt.Printf("connected: reason=%d session_present=%v\n", connack.ReasonCode, connack.SessionPresent)
}
