package raft

import (
	"context"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
)

// State is the interface a Raft-managed state machine must implement. The
// driver applies committed log entries to it and answers client queries
// against it.
type State interface {
	// AppliedIndex returns the last log index applied to the state machine,
	// used to resume replay after a restart.
	AppliedIndex() uint64
	// Mutate applies a committed command. Any error other than ErrAbort is
	// treated as internal and halts the driver; ErrAbort is forwarded to the
	// waiting caller without halting.
	Mutate(index uint64, command []byte) ([]byte, error)
	// Query reads the state machine. Any error other than ErrAbort is
	// treated as internal and halts the driver; ErrAbort is forwarded to the
	// waiting caller without halting.
	Query(command []byte) ([]byte, error)
}

// InstructionKind discriminates the variants of Instruction.
type InstructionKind int

const (
	InstructionAbort InstructionKind = iota
	InstructionApply
	InstructionNotify
	InstructionQuery
	InstructionStatus
	InstructionVote
)

// Instruction is sent from a Node to its Driver to request state machine
// work or client notification.
type Instruction struct {
	Kind InstructionKind

	Entry   Entry   // Apply
	ID      []byte  // Notify, Query, Status
	Address Address // Notify, Query, Status, Vote
	Index   uint64  // Notify, Query, Vote
	Command []byte  // Query
	Term    uint64  // Query, Vote
	Quorum  uint64  // Query
	Status  *Status // Status
}

type notifyEntry struct {
	address Address
	id      []byte
}

type pendingQuery struct {
	id      []byte
	term    uint64
	address Address
	command []byte
	quorum  uint64
	votes   map[string]bool
}

// Driver drives a State machine, applying committed entries from stateRx's
// Instruction stream and returning results as messages on nodeTx.
type Driver struct {
	stateRx      <-chan Instruction
	nodeTx       chan<- Message
	appliedIndex uint64
	notify       map[uint64]notifyEntry
	queries      map[uint64]map[string]*pendingQuery
}

// NewDriver builds a Driver reading instructions from stateRx and writing
// resulting messages to nodeTx.
func NewDriver(stateRx <-chan Instruction, nodeTx chan<- Message) *Driver {
	return &Driver{
		stateRx: stateRx,
		nodeTx:  nodeTx,
		notify:  make(map[uint64]notifyEntry),
		queries: make(map[uint64]map[string]*pendingQuery),
	}
}

// Replay synchronously applies a batch of entries for initial state machine
// sync, used when the log has committed entries the state machine has not
// yet applied.
func (d *Driver) Replay(state State, entries []Entry) error {
	for _, entry := range entries {
		slog.Debug("replaying log entry", "index", entry.Index)
		if entry.Command != nil {
			if _, err := state.Mutate(entry.Index, entry.Command); err != nil && !errors.Is(err, ErrAbort) {
				return err
			}
		}
		d.appliedIndex = entry.Index
	}
	return nil
}

// Drive runs the driver loop until ctx is canceled or the instruction
// channel closes.
func (d *Driver) Drive(ctx context.Context, state State) error {
	slog.Debug("starting state machine driver")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("stopping state machine driver")
			return nil
		case instr, ok := <-d.stateRx:
			if !ok {
				slog.Debug("stopping state machine driver")
				return nil
			}
			if err := d.execute(instr, state); err != nil {
				slog.Error("halting state machine driver", "error", err)
				return err
			}
		}
	}
}

func (d *Driver) execute(i Instruction, state State) error {
	switch i.Kind {
	case InstructionAbort:
		d.notifyAbort()
		d.queryAbort()

	case InstructionApply:
		if i.Entry.Command != nil {
			result, err := state.Mutate(i.Entry.Index, i.Entry.Command)
			if err != nil && !errors.Is(err, ErrAbort) {
				return err
			}
			d.notifyApplied(i.Entry.Index, result, err)
		}
		d.appliedIndex = i.Entry.Index
		return d.queryExecute(state)

	case InstructionNotify:
		if i.Index > state.AppliedIndex() {
			d.notify[i.Index] = notifyEntry{address: i.Address, id: i.ID}
		} else {
			d.send(i.Address, Event{Kind: EventClientResponse, ID: i.ID, Err: ErrAbort})
		}

	case InstructionQuery:
		byID, ok := d.queries[i.Index]
		if !ok {
			byID = make(map[string]*pendingQuery)
			d.queries[i.Index] = byID
		}
		byID[string(i.ID)] = &pendingQuery{
			id: i.ID, term: i.Term, address: i.Address, command: i.Command,
			quorum: i.Quorum, votes: make(map[string]bool),
		}

	case InstructionStatus:
		status := *i.Status
		status.ApplyIndex = state.AppliedIndex()
		d.send(i.Address, Event{Kind: EventClientResponse, ID: i.ID, Response: Response{Kind: ResponseStatus, Status: status}})

	case InstructionVote:
		d.queryVote(i.Term, i.Index, i.Address)
		return d.queryExecute(state)
	}
	return nil
}

func (d *Driver) notifyAbort() {
	notify := d.notify
	d.notify = make(map[uint64]notifyEntry)
	for _, n := range notify {
		d.send(n.address, Event{Kind: EventClientResponse, ID: n.id, Err: ErrAbort})
	}
}

func (d *Driver) notifyApplied(index uint64, result []byte, err error) {
	n, ok := d.notify[index]
	if !ok {
		return
	}
	delete(d.notify, index)
	d.send(n.address, Event{Kind: EventClientResponse, ID: n.id, Response: Response{Kind: ResponseState, State: result}, Err: err})
}

func (d *Driver) queryAbort() {
	queries := d.queries
	d.queries = make(map[uint64]map[string]*pendingQuery)
	for _, byID := range queries {
		for _, q := range byID {
			d.send(q.address, Event{Kind: EventClientResponse, ID: q.id, Err: ErrAbort})
		}
	}
}

// queryExecute runs every query that has reached quorum up to appliedIndex.
func (d *Driver) queryExecute(state State) error {
	for _, q := range d.queryReady(d.appliedIndex) {
		slog.Debug("executing raft query")
		result, err := state.Query(q.command)
		if err != nil {
			if !errors.Is(err, ErrAbort) {
				return err
			}
			d.send(q.address, Event{Kind: EventClientResponse, ID: q.id, Err: err})
			continue
		}
		d.send(q.address, Event{Kind: EventClientResponse, ID: q.id, Response: Response{Kind: ResponseState, State: result}})
	}
	return nil
}

func (d *Driver) queryReady(appliedIndex uint64) []*pendingQuery {
	var ready []*pendingQuery
	var indexes []uint64
	for index := range d.queries {
		if index <= appliedIndex {
			indexes = append(indexes, index)
		}
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	for _, index := range indexes {
		byID := d.queries[index]
		for id, q := range byID {
			if uint64(len(q.votes)) >= q.quorum {
				ready = append(ready, q)
				delete(byID, id)
			}
		}
		if len(byID) == 0 {
			delete(d.queries, index)
		}
	}
	return ready
}

func (d *Driver) queryVote(term, commitIndex uint64, address Address) {
	for index, byID := range d.queries {
		if index > commitIndex {
			continue
		}
		for _, q := range byID {
			if term >= q.term {
				q.votes[address.String()] = true
			}
		}
	}
}

func (d *Driver) send(to Address, event Event) {
	msg := Message{From: ToLocal, To: to, Term: 0, Event: event}
	slog.Debug("driver sending message", "to", to, "event", event.Kind)
	if d.nodeTx != nil {
		d.nodeTx <- msg
	}
}
