package raft

import (
	"log/slog"
	"sort"

	"github.com/embermq/embermq/raft/store"
)

// append appends a command to the log under the leader's term and
// replicates it to every peer, returning the new entry's index.
func (n *Node) append(command []byte) (uint64, error) {
	entry, err := n.Log.Append(n.Term, command)
	if err != nil {
		return 0, err
	}
	for _, peer := range n.Peers {
		if err := n.replicate(peer); err != nil {
			return 0, err
		}
	}
	return entry.Index, nil
}

// commit advances the commit index to the highest index replicated on a
// quorum of nodes (including itself) within the current term.
func (n *Node) commit() (uint64, error) {
	lastIndexes := make([]uint64, 0, len(n.leader.peerLastIndex)+1)
	lastIndexes = append(lastIndexes, n.Log.LastIndex())
	for _, idx := range n.leader.peerLastIndex {
		lastIndexes = append(lastIndexes, idx)
	}
	sort.Slice(lastIndexes, func(i, j int) bool { return lastIndexes[i] > lastIndexes[j] })
	quorumIndex := lastIndexes[n.quorum()-1]

	if quorumIndex > n.Log.CommitIndex() {
		entry, err := n.Log.Get(quorumIndex)
		if err != nil {
			return 0, err
		}
		if entry != nil && entry.Term == n.Term {
			oldCommitIndex := n.Log.CommitIndex()
			if _, err := n.Log.Commit(quorumIndex); err != nil {
				return 0, err
			}
			entries, err := n.Log.Scan(store.Between(oldCommitIndex+1, n.Log.CommitIndex()))
			if err != nil {
				return 0, err
			}
			for _, e := range entries {
				n.stateTx <- Instruction{Kind: InstructionApply, Entry: e}
			}
		}
	}
	return n.Log.CommitIndex(), nil
}

// replicate sends the peer every entry it is missing, or a heartbeat-style
// empty batch if it is already current.
func (n *Node) replicate(peer string) error {
	peerNext, ok := n.leader.peerNextIndex[peer]
	if !ok {
		return NewInternalError("unknown peer %s", peer)
	}
	var baseIndex uint64
	if peerNext > 0 {
		baseIndex = peerNext - 1
	}
	var baseTerm uint64
	if baseIndex > 0 {
		base, err := n.Log.Get(baseIndex)
		if err != nil {
			return err
		}
		if base == nil {
			return NewInternalError("missing base entry %d", baseIndex)
		}
		baseTerm = base.Term
	}
	entries, err := n.Log.Scan(store.From(peerNext))
	if err != nil {
		return err
	}
	slog.Debug("replicating entries", "count", len(entries), "base_index", baseIndex, "peer", peer)
	return n.send(ToPeer(peer), Event{Kind: EventReplicateEntries, BaseIndex: baseIndex, BaseTerm: baseTerm, Entries: entries})
}

func (n *Node) becomeFollowerFromLeader(term uint64, leader string) (*Node, error) {
	slog.Info("discovered new leader, following", "leader", leader, "term", term)
	n.Term = term
	if err := n.Log.SaveTerm(term, ""); err != nil {
		return nil, err
	}
	n.stateTx <- Instruction{Kind: InstructionAbort}
	return n.becomeFollower(newFollowerState(leader, true, "", false)), nil
}

func (n *Node) stepLeader(msg Message) (*Node, error) {
	if err := n.validate(msg); err != nil {
		slog.Warn("ignoring invalid message", "error", err)
		return n, nil
	}
	if msg.Term > n.Term && msg.From.Kind == AddressPeer {
		next, err := n.becomeFollowerFromLeader(msg.Term, msg.From.Peer)
		if err != nil {
			return nil, err
		}
		return next.Step(msg)
	}

	switch msg.Event.Kind {
	case EventConfirmLeader:
		if msg.From.Kind == AddressPeer {
			n.stateTx <- Instruction{Kind: InstructionVote, Term: msg.Term, Index: msg.Event.CommitIndex, Address: msg.From}
			if !msg.Event.HasCommitted {
				if err := n.replicate(msg.From.Peer); err != nil {
					return nil, err
				}
			}
		}

	case EventAcceptEntries:
		if msg.From.Kind == AddressPeer {
			n.leader.peerLastIndex[msg.From.Peer] = msg.Event.LastIndex
			n.leader.peerNextIndex[msg.From.Peer] = msg.Event.LastIndex + 1
		}
		if _, err := n.commit(); err != nil {
			return nil, err
		}

	case EventRejectEntries:
		if msg.From.Kind == AddressPeer {
			if next, ok := n.leader.peerNextIndex[msg.From.Peer]; ok && next > 1 {
				n.leader.peerNextIndex[msg.From.Peer] = next - 1
			}
			if err := n.replicate(msg.From.Peer); err != nil {
				return nil, err
			}
		}

	case EventClientRequest:
		switch msg.Event.Request.Kind {
		case RequestQuery:
			n.stateTx <- Instruction{
				Kind: InstructionQuery, ID: msg.Event.ID, Address: msg.From,
				Command: msg.Event.Request.Command, Term: n.Term,
				Index: n.Log.CommitIndex(), Quorum: n.quorum(),
			}
			n.stateTx <- Instruction{Kind: InstructionVote, Term: n.Term, Index: n.Log.CommitIndex(), Address: ToLocal}
			if len(n.Peers) > 0 {
				if err := n.send(ToPeers, Event{Kind: EventHeartbeat, CommitIndex: n.Log.CommitIndex(), CommitTerm: n.Log.CommitTerm()}); err != nil {
					return nil, err
				}
			}

		case RequestMutate:
			index, err := n.append(msg.Event.Request.Command)
			if err != nil {
				return nil, err
			}
			n.stateTx <- Instruction{Kind: InstructionNotify, ID: msg.Event.ID, Address: msg.From, Index: index}
			if len(n.Peers) == 0 {
				if _, err := n.commit(); err != nil {
					return nil, err
				}
			}

		case RequestStatus:
			status := &Status{
				Server:        n.ID,
				Leader:        n.ID,
				Term:          n.Term,
				NodeLastIndex: make(map[string]uint64, len(n.leader.peerLastIndex)+1),
				CommitIndex:   n.Log.CommitIndex(),
				Storage:       n.Log.store.String(),
				StorageSize:   n.Log.store.Size(),
			}
			for peer, idx := range n.leader.peerLastIndex {
				status.NodeLastIndex[peer] = idx
			}
			status.NodeLastIndex[n.ID] = n.Log.LastIndex()
			n.stateTx <- Instruction{Kind: InstructionStatus, ID: msg.Event.ID, Address: msg.From, Status: status}
		}

	case EventClientResponse:
		event := msg.Event
		if event.Response.Kind == ResponseStatus && event.Err == nil {
			event.Response.Status.Server = n.ID
		}
		if err := n.send(ToClient, event); err != nil {
			return nil, err
		}

	case EventSolicitVote, EventGrantVote:
		// Typically stray votes from an election we already won; ignore.

	case EventHeartbeat, EventReplicateEntries:
		slog.Warn("received unexpected message", "event", msg.Event.Kind)
	}
	return n, nil
}

func (n *Node) tickLeader() (*Node, error) {
	if len(n.Peers) > 0 {
		n.leader.heartbeatTicks++
		if n.leader.heartbeatTicks >= HeartbeatInterval {
			n.leader.heartbeatTicks = 0
			if err := n.send(ToPeers, Event{Kind: EventHeartbeat, CommitIndex: n.Log.CommitIndex(), CommitTerm: n.Log.CommitTerm()}); err != nil {
				return nil, err
			}
		}
	}
	return n, nil
}
