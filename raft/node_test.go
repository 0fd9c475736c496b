package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermq/embermq/raft/store"
)

func newTestNode(t *testing.T, id string, peers []string) (*Node, chan Message, chan Instruction) {
	t.Helper()
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	nodeTx := make(chan Message, 64)
	stateTx := make(chan Instruction, 64)
	node, err := NewNode(id, peers, log, nodeTx, stateTx)
	require.NoError(t, err)
	return node, nodeTx, stateTx
}

func TestNewNodeWithNoPeersBecomesLeader(t *testing.T) {
	node, nodeTx, _ := newTestNode(t, "solo", nil)
	assert.Equal(t, RoleLeader, node.Role)

	// Becoming leader sends a heartbeat and appends a no-op entry.
	msg := <-nodeTx
	assert.Equal(t, EventHeartbeat, msg.Event.Kind)
	assert.Equal(t, uint64(1), node.Log.LastIndex())
}

func TestNewNodeWithPeersStartsAsFollower(t *testing.T) {
	node, _, _ := newTestNode(t, "n1", []string{"n2", "n3"})
	assert.Equal(t, RoleFollower, node.Role)
}

func TestQuorum(t *testing.T) {
	node, _, _ := newTestNode(t, "n1", []string{"n2", "n3", "n4"})
	assert.Equal(t, uint64(3), node.quorum())

	solo, _, _ := newTestNode(t, "solo", nil)
	assert.Equal(t, uint64(1), solo.quorum())
}

func TestLeaderCommitsMutationWithoutPeers(t *testing.T) {
	node, nodeTx, stateTx := newTestNode(t, "solo", nil)
	<-nodeTx // drain the startup heartbeat

	next, err := node.Step(Message{
		From: ToClient,
		To:   ToLocal,
		Event: Event{
			Kind:    EventClientRequest,
			ID:      []byte("req-1"),
			Request: Request{Kind: RequestMutate, Command: []byte("x=1")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), next.Log.LastIndex())
	assert.Equal(t, uint64(2), next.Log.CommitIndex())

	instr := <-stateTx
	assert.Equal(t, InstructionNotify, instr.Kind)
	assert.Equal(t, []byte("req-1"), instr.ID)

	// Commit applies every newly-committed entry in order: the no-op entry
	// appended on becoming leader, then this mutation.
	instr = <-stateTx
	assert.Equal(t, InstructionApply, instr.Kind)
	assert.Equal(t, uint64(1), instr.Entry.Index)

	instr = <-stateTx
	assert.Equal(t, InstructionApply, instr.Kind)
	assert.Equal(t, uint64(2), instr.Entry.Index)
}

func TestFollowerRejectsReplicateWithMismatchedBase(t *testing.T) {
	node, nodeTx, _ := newTestNode(t, "follower1", []string{"leader1"})

	// Discover the leader via a heartbeat first.
	next, err := node.Step(Message{
		Term: 1,
		From: ToPeer("leader1"),
		To:   ToLocal,
		Event: Event{Kind: EventHeartbeat, CommitIndex: 0, CommitTerm: 0},
	})
	require.NoError(t, err)
	<-nodeTx // ConfirmLeader reply

	next, err = next.Step(Message{
		Term: 1,
		From: ToPeer("leader1"),
		To:   ToLocal,
		Event: Event{
			Kind:      EventReplicateEntries,
			BaseIndex: 5,
			BaseTerm:  1,
			Entries:   nil,
		},
	})
	require.NoError(t, err)

	reply := <-nodeTx
	assert.Equal(t, EventRejectEntries, reply.Event.Kind)
	assert.Equal(t, ToPeer("leader1"), reply.To)
}

func TestValidateRejectsMessageFromBroadcastAddress(t *testing.T) {
	node, _, _ := newTestNode(t, "n1", []string{"n2"})
	err := node.validate(Message{From: ToPeers, To: ToLocal})
	assert.Error(t, err)
}

func TestValidateRejectsMessageForOtherPeer(t *testing.T) {
	node, _, _ := newTestNode(t, "n1", []string{"n2"})
	err := node.validate(Message{From: ToPeer("n2"), To: ToPeer("n3"), Term: 0})
	assert.Error(t, err)
}
