package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTransportBroadcastsToPeers(t *testing.T) {
	registry := NewLocalRegistry()
	n1 := registry.Register("n1", 4)
	n2 := registry.Register("n2", 4)
	n3 := registry.Register("n3", 4)

	require.NoError(t, n1.Send(Message{From: ToPeer("n1"), To: ToPeers, Event: Event{Kind: EventHeartbeat}}))

	msg := <-n2.Receive()
	assert.Equal(t, EventHeartbeat, msg.Event.Kind)
	msg = <-n3.Receive()
	assert.Equal(t, EventHeartbeat, msg.Event.Kind)

	select {
	case <-n1.Receive():
		t.Fatal("broadcast should not loop back to sender")
	default:
	}
}

func TestLocalTransportSendsToSpecificPeer(t *testing.T) {
	registry := NewLocalRegistry()
	n1 := registry.Register("n1", 4)
	n2 := registry.Register("n2", 4)

	require.NoError(t, n1.Send(Message{From: ToPeer("n1"), To: ToPeer("n2"), Event: Event{Kind: EventSolicitVote}}))

	msg := <-n2.Receive()
	assert.Equal(t, EventSolicitVote, msg.Event.Kind)
}

func TestLocalTransportRejectsUnknownPeer(t *testing.T) {
	registry := NewLocalRegistry()
	n1 := registry.Register("n1", 4)

	err := n1.Send(Message{From: ToPeer("n1"), To: ToPeer("ghost"), Event: Event{Kind: EventHeartbeat}})
	assert.Error(t, err)
}

func TestLocalTransportLoopsBackLocalAddress(t *testing.T) {
	registry := NewLocalRegistry()
	n1 := registry.Register("n1", 4)

	require.NoError(t, n1.Send(Message{From: ToClient, To: ToLocal, Event: Event{Kind: EventClientRequest}}))

	msg := <-n1.Receive()
	assert.Equal(t, EventClientRequest, msg.Event.Kind)
}
