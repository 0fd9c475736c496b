package raft

import (
	"log/slog"
	"math/rand/v2"
)

const (
	// HeartbeatInterval is the number of ticks between leader heartbeats.
	HeartbeatInterval = 1
	// ElectionTimeoutMin is the minimum election timeout, in ticks.
	ElectionTimeoutMin = 8 * HeartbeatInterval
	// ElectionTimeoutMax is the maximum election timeout, in ticks.
	ElectionTimeoutMax = 15 * HeartbeatInterval
)

// RoleKind discriminates the three shapes a Node can take.
type RoleKind int

const (
	RoleFollower RoleKind = iota
	RoleCandidate
	RoleLeader
)

func (r RoleKind) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Status reports the observable state of a Node, returned to clients.
type Status struct {
	Server        string
	Leader        string
	Term          uint64
	NodeLastIndex map[string]uint64
	CommitIndex   uint64
	ApplyIndex    uint64
	Storage       string
	StorageSize   uint64
}

// followerState holds Follower-only fields.
type followerState struct {
	leader            string
	hasLeader         bool
	leaderSeenTicks   uint64
	leaderSeenTimeout uint64
	votedFor          string
	hasVotedFor       bool
}

// candidateState holds Candidate-only fields.
type candidateState struct {
	electionTicks   uint64
	electionTimeout uint64
	votes           uint64
}

// leaderState holds Leader-only fields.
type leaderState struct {
	heartbeatTicks uint64
	peerNextIndex  map[string]uint64
	peerLastIndex  map[string]uint64
}

func randomElectionTimeout() uint64 {
	return uint64(ElectionTimeoutMin + rand.IntN(ElectionTimeoutMax-ElectionTimeoutMin))
}

func newFollowerState(leader string, hasLeader bool, votedFor string, hasVotedFor bool) *followerState {
	return &followerState{
		leader:            leader,
		hasLeader:         hasLeader,
		votedFor:          votedFor,
		hasVotedFor:       hasVotedFor,
		leaderSeenTimeout: randomElectionTimeout(),
	}
}

func newCandidateState() *candidateState {
	return &candidateState{votes: 1, electionTimeout: randomElectionTimeout()}
}

func newLeaderState(peers []string, lastIndex uint64) *leaderState {
	s := &leaderState{
		peerNextIndex: make(map[string]uint64, len(peers)),
		peerLastIndex: make(map[string]uint64, len(peers)),
	}
	for _, peer := range peers {
		s.peerNextIndex[peer] = lastIndex + 1
		s.peerLastIndex[peer] = 0
	}
	return s
}

// queuedRequest is a client request received while the node had no known
// leader to forward it to.
type queuedRequest struct {
	from  Address
	event Event
}

// Node is the local Raft node state machine: Follower, Candidate or Leader,
// sharing a common envelope. Exactly one of the role-specific state fields
// is populated at a time, selected by Role.
type Node struct {
	ID    string
	Peers []string
	Term  uint64
	Log   *Log

	nodeTx  chan<- Message
	stateTx chan<- Instruction

	queuedReqs  []queuedRequest
	proxiedReqs map[string]Address

	Role      RoleKind
	follower  *followerState
	candidate *candidateState
	leader    *leaderState
}

// NewNode creates a new Raft node starting as a follower, or immediately as
// leader if it has no peers.
func NewNode(id string, peers []string, log *Log, nodeTx chan<- Message, stateTx chan<- Instruction) (*Node, error) {
	term, votedFor, err := log.LoadTerm()
	if err != nil {
		return nil, err
	}

	n := &Node{
		ID:          id,
		Peers:       peers,
		Term:        term,
		Log:         log,
		nodeTx:      nodeTx,
		stateTx:     stateTx,
		proxiedReqs: make(map[string]Address),
		Role:        RoleFollower,
		follower:    newFollowerState("", false, votedFor, votedFor != ""),
	}

	if len(peers) == 0 {
		slog.Info("no peers specified, starting as leader")
		return n.becomeLeader()
	}
	return n, nil
}

func (n *Node) becomeFollower(leader *followerState) *Node {
	next := *n
	next.Role = RoleFollower
	next.follower = leader
	next.candidate = nil
	next.leader = nil
	return &next
}

func (n *Node) becomeCandidate() *Node {
	next := *n
	next.Role = RoleCandidate
	next.follower = nil
	next.candidate = newCandidateState()
	next.leader = nil
	return &next
}

func (n *Node) becomeLeaderRole() *Node {
	next := *n
	next.Role = RoleLeader
	next.follower = nil
	next.candidate = nil
	next.leader = newLeaderState(next.Peers, next.Log.LastIndex())
	return &next
}

// becomeLeader flips the node into the leader role, announces it with a
// heartbeat and appends the term's no-op entry. Used both for a peer-less
// node at startup and for a candidate that just won an election; the
// candidate path additionally aborts any requests it had proxied while it
// was a follower, since those requests should now be served locally.
func (n *Node) becomeLeader() (*Node, error) {
	node := n.becomeLeaderRole()
	if err := node.send(ToPeers, Event{Kind: EventHeartbeat, CommitIndex: node.Log.CommitIndex(), CommitTerm: node.Log.CommitTerm()}); err != nil {
		return nil, err
	}
	if _, err := node.append(nil); err != nil {
		return nil, err
	}
	return node, nil
}

// abortProxied tells every client whose request we proxied to another node
// that the operation was aborted, typically due to a leader change.
func (n *Node) abortProxied() error {
	proxied := n.proxiedReqs
	n.proxiedReqs = make(map[string]Address)
	for id, address := range proxied {
		if err := n.send(address, Event{Kind: EventClientResponse, ID: []byte(id), Err: ErrAbort}); err != nil {
			return err
		}
	}
	return nil
}

// forwardQueued forwards every request queued while we had no leader.
func (n *Node) forwardQueued(leader Address) error {
	queued := n.queuedReqs
	n.queuedReqs = nil
	for _, q := range queued {
		if q.event.Kind != EventClientRequest {
			continue
		}
		from := q.from
		if from.Kind == AddressClient {
			from = ToLocal
		}
		n.proxiedReqs[string(q.event.ID)] = q.from
		if n.nodeTx != nil {
			n.nodeTx <- Message{From: from, To: leader, Term: 0, Event: q.event}
		}
	}
	return nil
}

// quorum returns the number of votes needed to win an election or commit an
// entry, including the local node's own vote.
func (n *Node) quorum() uint64 {
	return uint64(len(n.Peers)+1)/2 + 1
}

func (n *Node) send(to Address, event Event) error {
	msg := Message{Term: n.Term, From: ToLocal, To: to, Event: event}
	slog.Debug("sending raft message", "to", to, "event", event.Kind)
	if n.nodeTx != nil {
		n.nodeTx <- msg
	}
	return nil
}

// validate rejects messages with an invalid sender, recipient or stale term.
func (n *Node) validate(msg Message) error {
	switch msg.From.Kind {
	case AddressPeers:
		return NewInternalError("message from broadcast address")
	case AddressLocal:
		return NewInternalError("message from local node")
	case AddressClient:
		if msg.Event.Kind != EventClientRequest {
			return NewInternalError("non-request message from client")
		}
	}

	if msg.Term < n.Term && msg.Event.Kind != EventClientRequest && msg.Event.Kind != EventClientResponse {
		return NewInternalError("message from past term %d", msg.Term)
	}

	switch msg.To.Kind {
	case AddressPeer:
		if msg.To.Peer != n.ID {
			return NewInternalError("received message for other node %s", msg.To.Peer)
		}
	case AddressClient:
		return NewInternalError("received message for client")
	}
	return nil
}

// Step processes an incoming message, returning the node's possibly new
// role.
func (n *Node) Step(msg Message) (*Node, error) {
	slog.Debug("stepping raft node", "event", msg.Event.Kind, "from", msg.From)
	switch n.Role {
	case RoleFollower:
		return n.stepFollower(msg)
	case RoleCandidate:
		return n.stepCandidate(msg)
	case RoleLeader:
		return n.stepLeader(msg)
	default:
		return n, NewInternalError("unknown role")
	}
}

// Tick advances the node's logical clock by one tick.
func (n *Node) Tick() (*Node, error) {
	switch n.Role {
	case RoleFollower:
		return n.tickFollower()
	case RoleCandidate:
		return n.tickCandidate()
	case RoleLeader:
		return n.tickLeader()
	default:
		return n, NewInternalError("unknown role")
	}
}
