package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/embermq/embermq/encoding"
)

// ErrBrokerAtCapacity is returned when a connection arrives while the
// broker is already serving MaxInFlight connections.
var ErrBrokerAtCapacity = errors.New("broker: at capacity")

// BrokerConfig bounds concurrency and shutdown timing for a Broker.
type BrokerConfig struct {
	Listener        *ListenerConfig
	Pool            *PoolConfig
	MaxInFlight     int
	ShutdownTimeout time.Duration
}

// DefaultBrokerConfig mirrors the 250-connection semaphore and 30s graceful
// shutdown window used by the demo deployment.
func DefaultBrokerConfig(addr string) *BrokerConfig {
	return &BrokerConfig{
		Listener:        DefaultListenerConfig(addr),
		Pool:            DefaultPoolConfig(),
		MaxInFlight:     250,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Broker accepts MQTT v5 connections, answers the CONNECT handshake and
// keepalive traffic, and decodes PUBLISH/SUBSCRIBE/UNSUBSCRIBE far enough to
// validate their structure. It does not route messages between clients:
// topic matching and QoS delivery state machines are out of scope.
//
// Concurrency is bounded by a semaphore, not by counting accepted sockets:
// the Listener's own MaxConnections already rejects past a hard cap, while
// Broker's MaxInFlight additionally bounds how many connections are served
// at once (a permit is held until the connection's serve loop returns).
// Transient Accept errors are backed off by the Listener.
type Broker struct {
	listener *Listener
	pool     *Pool
	dm       *DisconnectManager
	shutdown *GracefulShutdown

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewBroker builds a Broker from cfg. A nil cfg is an error; use
// DefaultBrokerConfig to obtain sane defaults first.
func NewBroker(cfg *BrokerConfig) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("broker: nil config")
	}

	pool, err := NewPool(cfg.Pool)
	if err != nil {
		return nil, fmt.Errorf("broker: create pool: %w", err)
	}

	listener, err := NewListener(cfg.Listener, pool)
	if err != nil {
		return nil, fmt.Errorf("broker: create listener: %w", err)
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 250
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	dm := NewDisconnectManager(shutdownTimeout)
	b := &Broker{
		listener: listener,
		pool:     pool,
		dm:       dm,
		shutdown: NewGracefulShutdown(pool, dm, shutdownTimeout),
		sem:      make(chan struct{}, maxInFlight),
	}
	listener.OnConnection(b.handle)
	return b, nil
}

// Start begins accepting connections. It returns once the listener socket
// is bound; accepting happens on a background goroutine.
func (b *Broker) Start() error { return b.listener.Start() }

// Addr returns the broker's bound address, or nil before Start.
func (b *Broker) Addr() net.Addr { return b.listener.Addr() }

// Stats reports accept/reject counters from the underlying listener.
func (b *Broker) Stats() ListenerStats { return b.listener.Stats() }

// Shutdown closes every pooled connection through the DisconnectManager
// (its handlers receive reason ServerShuttingDown; the Broker registers
// none, so no DISCONNECT packet is written to clients), stops accepting new
// connections, and waits for the connection handlers to return or ctx to
// expire.
func (b *Broker) Shutdown(ctx context.Context) error {
	slog.Info("broker: shutting down", "address", b.Addr())
	shutdownErr := b.shutdown.Shutdown(ctx)

	if err := b.listener.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	return shutdownErr
}

func (b *Broker) handle(conn *Connection) error {
	select {
	case b.sem <- struct{}{}:
	default:
		slog.Warn("broker: rejecting connection at capacity", "conn", conn.ID())
		return ErrBrokerAtCapacity
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()
		defer b.pool.Remove(conn.ID())
		b.serve(conn)
	}()
	return nil
}

func (b *Broker) serve(conn *Connection) {
	pc := NewPacketConn(conn)
	defer conn.Close()

	slog.Info("broker: connection accepted", "conn", conn.ID(), "remote", conn.RemoteAddr())

	for {
		pkt, err := pc.ReadPacket()
		if err != nil {
			slog.Debug("broker: connection closed", "conn", conn.ID(), "error", err)
			return
		}

		switch p := pkt.(type) {
		case *encoding.ConnectPacket:
			connack, err := NewDefaultConnack(encoding.ReasonSuccess, false)
			if err != nil {
				slog.Error("broker: build connack", "conn", conn.ID(), "error", err)
				return
			}
			if err := pc.WritePacket(connack); err != nil {
				return
			}
			slog.Info("broker: client connected", "conn", conn.ID(), "client_id", p.ClientID)

		case *encoding.PingreqPacket:
			if err := pc.WritePacket(&encoding.PingrespPacket{}); err != nil {
				return
			}

		case *encoding.PublishPacket:
			// ParsePublishPacket already enforced the property allow-list;
			// the topic name is not checked for wildcards. Fan-out to
			// subscribers is a non-goal.

		case *encoding.SubscribePacket:
			// ParseSubscribePacket already enforced the property allow-list
			// and the reserved subscription option bits; topic filter syntax
			// is not checked. Building the subscription tree is a non-goal.

		case *encoding.UnsubscribePacket:
			// Structurally valid by construction; removing from a
			// subscription tree is a non-goal.

		case *encoding.DisconnectPacket:
			return
		}
	}
}
