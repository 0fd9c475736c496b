package raft

// PeerTransport delivers Raft messages between nodes in a cluster. It is
// the seam the original design left implicit in its in-process channel;
// exposing it as an interface lets a real cluster swap in a network
// transport without touching the node state machine.
type PeerTransport interface {
	// Send delivers msg to the peer or peers addressed by msg.To.
	Send(msg Message) error
	// Receive returns a channel of messages addressed to this node.
	Receive() <-chan Message
	// Close releases any resources held by the transport.
	Close() error
}

// LocalTransport is an in-process PeerTransport backed by a shared
// registry of per-node channels, used for single-process clusters and
// tests.
type LocalTransport struct {
	self     string
	registry *LocalRegistry
	inbox    chan Message
}

// LocalRegistry wires together the LocalTransports of every node in a
// single-process cluster.
type LocalRegistry struct {
	nodes map[string]chan Message
}

// NewLocalRegistry creates an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{nodes: make(map[string]chan Message)}
}

// Register creates and returns a LocalTransport for the named node.
func (r *LocalRegistry) Register(id string, inboxSize int) *LocalTransport {
	inbox := make(chan Message, inboxSize)
	r.nodes[id] = inbox
	return &LocalTransport{self: id, registry: r, inbox: inbox}
}

func (t *LocalTransport) Send(msg Message) error {
	switch msg.To.Kind {
	case AddressPeers:
		for id, inbox := range t.registry.nodes {
			if id == t.self {
				continue
			}
			inbox <- msg
		}
	case AddressPeer:
		inbox, ok := t.registry.nodes[msg.To.Peer]
		if !ok {
			return NewInternalError("unknown peer %s", msg.To.Peer)
		}
		inbox <- msg
	default:
		t.inbox <- msg
	}
	return nil
}

func (t *LocalTransport) Receive() <-chan Message { return t.inbox }

func (t *LocalTransport) Close() error {
	close(t.inbox)
	return nil
}

var _ PeerTransport = (*LocalTransport)(nil)
