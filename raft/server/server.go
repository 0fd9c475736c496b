// Package server wires a raft.Node, its Driver and a PeerTransport into a
// single run loop, and exposes a raft/client.Client façade over it. This is
// the glue the original design left to its async runtime; here it is an
// explicit, inspectable type.
package server

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/embermq/embermq/raft"
	"github.com/embermq/embermq/raft/client"
	"github.com/embermq/embermq/raft/store"
)

const (
	tickInterval  = 100 * time.Millisecond
	channelBuffer = 256
)

// Server drives a single Raft node: it ticks its logical clock, forwards
// messages to and from its PeerTransport, and answers client.Client
// requests by round-tripping them through the node as ClientRequest events.
type Server struct {
	mu   sync.Mutex
	node *raft.Node

	transport raft.PeerTransport
	driver    *raft.Driver
	nodeOut   chan raft.Message
	stateCh   chan raft.Instruction
	requests  chan client.Call

	pending map[string]chan client.Result
	nextID  uint64
}

// New builds a Server for node id, replicating log and driving state
// through transport. state is applied as committed entries are replayed
// and as new entries commit.
func New(id string, peers []string, log *raft.Log, state raft.State, transport raft.PeerTransport) (*Server, error) {
	nodeOut := make(chan raft.Message, channelBuffer)
	stateCh := make(chan raft.Instruction, channelBuffer)

	node, err := raft.NewNode(id, peers, log, nodeOut, stateCh)
	if err != nil {
		return nil, err
	}

	driver := raft.NewDriver(stateCh, nodeOut)
	if log.CommitIndex() > state.AppliedIndex() {
		slog.Info("replaying log entries", "from", state.AppliedIndex()+1, "to", log.CommitIndex())
		entries, err := log.Scan(store.Between(state.AppliedIndex()+1, log.CommitIndex()))
		if err != nil {
			return nil, err
		}
		if err := driver.Replay(state, entries); err != nil {
			return nil, err
		}
	}

	return &Server{
		node:      node,
		transport: transport,
		driver:    driver,
		nodeOut:   nodeOut,
		stateCh:   stateCh,
		requests:  make(chan client.Call, channelBuffer),
		pending:   make(map[string]chan client.Result),
	}, nil
}

// Client returns a façade for submitting requests to this server.
func (s *Server) Client() *client.Client {
	return client.New(s.requests)
}

// Run drives the node until ctx is canceled.
func (s *Server) Run(ctx context.Context, state raft.State) error {
	driverDone := make(chan error, 1)
	go func() { driverDone <- s.driver.Drive(ctx, state) }()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return <-driverDone

		case <-ticker.C:
			if err := s.step(func(n *raft.Node) (*raft.Node, error) { return n.Tick() }); err != nil {
				return err
			}

		case msg, ok := <-s.transport.Receive():
			if !ok {
				return nil
			}
			if err := s.step(func(n *raft.Node) (*raft.Node, error) { return n.Step(msg) }); err != nil {
				return err
			}

		case msg := <-s.nodeOut:
			s.route(msg)

		case call := <-s.requests:
			s.submit(call)
		}
	}
}

func (s *Server) step(f func(*raft.Node) (*raft.Node, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := f(s.node)
	if err != nil {
		return err
	}
	s.node = next
	return nil
}

// route delivers a message emitted by the node to its destination: the
// transport for peers, or the pending-request table for a client response.
func (s *Server) route(msg raft.Message) {
	switch msg.To.Kind {
	case raft.AddressClient:
		s.resolve(msg)
	case raft.AddressLocal:
		if err := s.step(func(n *raft.Node) (*raft.Node, error) { return n.Step(msg) }); err != nil {
			slog.Error("raft node halted", "error", err)
		}
	default:
		if err := s.transport.Send(msg); err != nil {
			slog.Warn("failed to send raft message", "to", msg.To, "error", err)
		}
	}
}

func (s *Server) resolve(msg raft.Message) {
	id := string(msg.Event.ID)
	ch, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	ch <- client.Result{Response: msg.Event.Response, Err: msg.Event.Err}
}

// submit turns a client Call into a ClientRequest event addressed to the
// local node.
func (s *Server) submit(call client.Call) {
	s.mu.Lock()
	s.nextID++
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, s.nextID)
	s.mu.Unlock()

	s.pending[string(id)] = call.Response

	msg := raft.Message{
		From: raft.ToClient,
		To:   raft.ToLocal,
		Event: raft.Event{
			Kind:    raft.EventClientRequest,
			ID:      id,
			Request: call.Request,
		},
	}
	if err := s.step(func(n *raft.Node) (*raft.Node, error) { return n.Step(msg) }); err != nil {
		slog.Error("raft node halted", "error", err)
	}
}
