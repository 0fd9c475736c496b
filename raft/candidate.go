package raft

import "log/slog"

func (n *Node) stepCandidate(msg Message) (*Node, error) {
	if err := n.validate(msg); err != nil {
		slog.Warn("ignoring invalid message", "error", err)
		return n, nil
	}
	if msg.Term > n.Term && msg.From.Kind == AddressPeer {
		next, err := n.becomeFollowerOf(msg.From.Peer, msg.Term)
		if err != nil {
			return nil, err
		}
		return next.Step(msg)
	}

	switch msg.Event.Kind {
	case EventHeartbeat:
		if msg.From.Kind == AddressPeer {
			next, err := n.becomeFollowerOf(msg.From.Peer, msg.Term)
			if err != nil {
				return nil, err
			}
			return next.Step(msg)
		}

	case EventGrantVote:
		slog.Debug("received vote", "term", n.Term, "from", msg.From)
		n.candidate.votes++
		if n.candidate.votes >= n.quorum() {
			queued := n.queuedReqs
			n.queuedReqs = nil
			node, err := n.becomeLeader()
			if err != nil {
				return nil, err
			}
			if err := node.abortProxied(); err != nil {
				return nil, err
			}
			for _, q := range queued {
				node, err = node.Step(Message{From: q.from, To: ToLocal, Term: 0, Event: q.event})
				if err != nil {
					return nil, err
				}
			}
			return node, nil
		}

	case EventClientRequest:
		n.queuedReqs = append(n.queuedReqs, queuedRequest{from: msg.From, event: msg.Event})

	case EventClientResponse:
		event := msg.Event
		if event.Response.Kind == ResponseStatus && event.Err == nil {
			event.Response.Status.Server = n.ID
		}
		delete(n.proxiedReqs, string(event.ID))
		if err := n.send(ToClient, event); err != nil {
			return nil, err
		}

	case EventSolicitVote:
		// Another candidate is also campaigning; ignore.

	case EventConfirmLeader, EventReplicateEntries, EventAcceptEntries, EventRejectEntries:
		slog.Warn("received unexpected message", "event", msg.Event.Kind)
	}
	return n, nil
}

func (n *Node) tickCandidate() (*Node, error) {
	n.candidate.electionTicks++
	if n.candidate.electionTicks >= n.candidate.electionTimeout {
		slog.Info("election timed out, starting new election", "term", n.Term+1)
		n.Term++
		if err := n.Log.SaveTerm(n.Term, ""); err != nil {
			return nil, err
		}
		n.candidate = newCandidateState()
		if err := n.send(ToPeers, Event{Kind: EventSolicitVote, LastIndex: n.Log.LastIndex(), LastTerm: n.Log.LastTerm()}); err != nil {
			return nil, err
		}
	}
	return n, nil
}
