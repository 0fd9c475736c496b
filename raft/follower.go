package raft

import (
	"log/slog"

	"github.com/embermq/embermq/raft/store"
)

// becomeCandidateFromFollower starts a new election, incrementing the term
// and soliciting votes from every peer.
func (n *Node) becomeCandidateFromFollower() (*Node, error) {
	slog.Info("starting election", "term", n.Term+1)
	node := n.becomeCandidate()
	node.Term++
	if err := node.Log.SaveTerm(node.Term, ""); err != nil {
		return nil, err
	}
	if err := node.send(ToPeers, Event{Kind: EventSolicitVote, LastIndex: node.Log.LastIndex(), LastTerm: node.Log.LastTerm()}); err != nil {
		return nil, err
	}
	return node, nil
}

func (n *Node) becomeFollowerOf(leader string, term uint64) (*Node, error) {
	votedFor, hasVotedFor := "", false
	if term > n.Term {
		slog.Info("discovered new term, following leader", "term", term, "leader", leader)
		n.Term = term
		if err := n.Log.SaveTerm(term, ""); err != nil {
			return nil, err
		}
	} else {
		slog.Info("discovered leader, following", "leader", leader)
		if n.follower != nil {
			votedFor, hasVotedFor = n.follower.votedFor, n.follower.hasVotedFor
		}
	}
	node := n.becomeFollower(newFollowerState(leader, true, votedFor, hasVotedFor))
	if err := node.abortProxied(); err != nil {
		return nil, err
	}
	if err := node.forwardQueued(ToPeer(leader)); err != nil {
		return nil, err
	}
	return node, nil
}

func (n *Node) isLeader(from Address) bool {
	return n.follower != nil && n.follower.hasLeader && from.Kind == AddressPeer && from.Peer == n.follower.leader
}

func (n *Node) stepFollower(msg Message) (*Node, error) {
	if err := n.validate(msg); err != nil {
		slog.Warn("ignoring invalid message", "error", err)
		return n, nil
	}
	if msg.From.Kind == AddressPeer {
		if msg.Term > n.Term || !n.follower.hasLeader {
			next, err := n.becomeFollowerOf(msg.From.Peer, msg.Term)
			if err != nil {
				return nil, err
			}
			return next.Step(msg)
		}
	}
	if n.isLeader(msg.From) {
		n.follower.leaderSeenTicks = 0
	}

	switch msg.Event.Kind {
	case EventHeartbeat:
		if n.isLeader(msg.From) {
			hasCommitted, err := n.Log.Has(msg.Event.CommitIndex, msg.Event.CommitTerm)
			if err != nil {
				return nil, err
			}
			if hasCommitted && msg.Event.CommitIndex > n.Log.CommitIndex() {
				oldCommitIndex := n.Log.CommitIndex()
				if _, err := n.Log.Commit(msg.Event.CommitIndex); err != nil {
					return nil, err
				}
				entries, err := n.Log.Scan(store.Between(oldCommitIndex+1, msg.Event.CommitIndex))
				if err != nil {
					return nil, err
				}
				for _, entry := range entries {
					n.stateTx <- Instruction{Kind: InstructionApply, Entry: entry}
				}
			}
			if err := n.send(msg.From, Event{Kind: EventConfirmLeader, CommitIndex: msg.Event.CommitIndex, HasCommitted: hasCommitted}); err != nil {
				return nil, err
			}
		}

	case EventSolicitVote:
		if n.follower.hasVotedFor && !(msg.From.Kind == AddressPeer && msg.From.Peer == n.follower.votedFor) {
			return n, nil
		}
		if msg.Event.LastTerm < n.Log.LastTerm() {
			return n, nil
		}
		if msg.Event.LastTerm == n.Log.LastTerm() && msg.Event.LastIndex < n.Log.LastIndex() {
			return n, nil
		}
		if msg.From.Kind == AddressPeer {
			slog.Info("voting for candidate", "candidate", msg.From.Peer, "term", n.Term)
			if err := n.send(ToPeer(msg.From.Peer), Event{Kind: EventGrantVote}); err != nil {
				return nil, err
			}
			if err := n.Log.SaveTerm(n.Term, msg.From.Peer); err != nil {
				return nil, err
			}
			n.follower.votedFor, n.follower.hasVotedFor = msg.From.Peer, true
		}

	case EventReplicateEntries:
		if n.isLeader(msg.From) {
			if msg.Event.BaseIndex > 0 {
				has, err := n.Log.Has(msg.Event.BaseIndex, msg.Event.BaseTerm)
				if err != nil {
					return nil, err
				}
				if !has {
					slog.Debug("rejecting log entries", "base_index", msg.Event.BaseIndex)
					if err := n.send(msg.From, Event{Kind: EventRejectEntries}); err != nil {
						return nil, err
					}
					break
				}
			}
			lastIndex, err := n.Log.Splice(msg.Event.Entries)
			if err != nil {
				return nil, err
			}
			if err := n.send(msg.From, Event{Kind: EventAcceptEntries, LastIndex: lastIndex}); err != nil {
				return nil, err
			}
		}

	case EventClientRequest:
		if n.follower.hasLeader {
			n.proxiedReqs[string(msg.Event.ID)] = msg.From
			if err := n.send(ToPeer(n.follower.leader), msg.Event); err != nil {
				return nil, err
			}
		} else {
			n.queuedReqs = append(n.queuedReqs, queuedRequest{from: msg.From, event: msg.Event})
		}

	case EventClientResponse:
		event := msg.Event
		if event.Response.Kind == ResponseStatus && event.Err == nil {
			event.Response.Status.Server = n.ID
		}
		delete(n.proxiedReqs, string(event.ID))
		if err := n.send(ToClient, event); err != nil {
			return nil, err
		}

	case EventGrantVote:
		// A follower that already voted may still see late votes for a
		// candidacy it once ran; nothing to do.

	case EventConfirmLeader, EventAcceptEntries, EventRejectEntries:
		slog.Warn("received unexpected message", "event", msg.Event.Kind)
	}
	return n, nil
}

func (n *Node) tickFollower() (*Node, error) {
	n.follower.leaderSeenTicks++
	if n.follower.leaderSeenTicks >= n.follower.leaderSeenTimeout {
		return n.becomeCandidateFromFollower()
	}
	return n, nil
}
