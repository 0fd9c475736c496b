package raft

import (
	"log/slog"

	"github.com/fxamacker/cbor/v2"

	"github.com/embermq/embermq/raft/store"
)

// Entry is a single replicated log entry. A nil Command marks a no-op entry
// committed on leader election.
type Entry struct {
	Index   uint64
	Term    uint64
	Command []byte
}

type metadataKey byte

const keyTermVote metadataKey = 0x00

func (k metadataKey) encode() []byte { return []byte{byte(k)} }

type termVote struct {
	Term     uint64
	VotedFor string
}

// Log is the replicated Raft log: a thin, typed wrapper over a store.Store
// that tracks the last and committed index/term pairs in memory for O(1)
// access.
type Log struct {
	store       store.Store
	lastIndex   uint64
	lastTerm    uint64
	commitIndex uint64
	commitTerm  uint64
}

// NewLog builds a Log over the given store, replaying its committed and
// last-entry positions.
func NewLog(s store.Store) (*Log, error) {
	l := &Log{store: s}

	if committed := s.Committed(); committed != 0 {
		entry, err := l.fetch(s, committed)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, NewInternalError("committed entry %d not found", committed)
		}
		l.commitIndex, l.commitTerm = entry.Index, entry.Term
	}

	if length := s.Len(); length != 0 {
		entry, err := l.fetch(s, length)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, NewInternalError("last entry %d not found", length)
		}
		l.lastIndex, l.lastTerm = entry.Index, entry.Term
	}

	return l, nil
}

func (l *Log) fetch(s store.Store, index uint64) (*Entry, error) {
	raw, err := s.Get(index)
	if err != nil {
		return nil, WrapInternal(err, "read log entry")
	}
	if raw == nil {
		return nil, nil
	}
	return decodeEntry(raw)
}

// Append adds a command to the log, returning the resulting entry. A nil
// command is used to commit a no-op on leader election.
func (l *Log) Append(term uint64, command []byte) (Entry, error) {
	entry := Entry{Index: l.lastIndex + 1, Term: term, Command: command}
	slog.Debug("appending log entry", "index", entry.Index, "term", entry.Term)

	raw, err := encodeEntry(entry)
	if err != nil {
		return Entry{}, err
	}
	if _, err := l.store.Append(raw); err != nil {
		return Entry{}, WrapInternal(err, "append log entry")
	}
	l.lastIndex = entry.Index
	l.lastTerm = entry.Term
	return entry, nil
}

// Commit advances the committed watermark to index, returning it.
func (l *Log) Commit(index uint64) (uint64, error) {
	entry, err := l.Get(index)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, NewInternalError("entry %d not found", index)
	}
	if err := l.store.Commit(index); err != nil {
		return 0, WrapInternal(err, "commit log entry")
	}
	l.commitIndex = entry.Index
	l.commitTerm = entry.Term
	return index, nil
}

// Get fetches the entry at index, or nil if it does not exist.
func (l *Log) Get(index uint64) (*Entry, error) {
	return l.fetch(l.store, index)
}

// Has reports whether the log holds an entry at index with the given term.
// Index 0 and term 0 together denote "nothing yet", which always matches.
func (l *Log) Has(index, term uint64) (bool, error) {
	entry, err := l.Get(index)
	if err != nil {
		return false, err
	}
	if entry != nil {
		return entry.Term == term, nil
	}
	return index == 0 && term == 0, nil
}

// Scan returns every entry within r, in index order.
func (l *Log) Scan(r store.Range) ([]Entry, error) {
	raws, err := l.store.Scan(r)
	if err != nil {
		return nil, WrapInternal(err, "scan log")
	}
	entries := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Splice applies a contiguous batch of entries onto the log. The first
// entry must be at most LastIndex()+1. Any existing entry whose term
// mismatches is replaced, truncating everything after it.
func (l *Log) Splice(entries []Entry) (uint64, error) {
	for i, entry := range entries {
		if i == 0 && entry.Index > l.lastIndex+1 {
			return 0, NewInternalError("spliced entries cannot begin past last index")
		}
		if entry.Index != entries[0].Index+uint64(i) {
			return 0, NewInternalError("spliced entries must be contiguous")
		}
	}

	for _, entry := range entries {
		current, err := l.Get(entry.Index)
		if err != nil {
			return 0, err
		}
		if current != nil {
			if current.Term == entry.Term {
				continue
			}
			if _, err := l.Truncate(entry.Index - 1); err != nil {
				return 0, err
			}
		}
		if _, err := l.Append(entry.Term, entry.Command); err != nil {
			return 0, err
		}
	}
	return l.lastIndex, nil
}

// Truncate removes every entry after index, refusing to cross the
// committed watermark.
func (l *Log) Truncate(index uint64) (uint64, error) {
	slog.Debug("truncating log", "from_index", index)

	newLen, err := l.store.Truncate(index)
	if err != nil {
		return 0, WrapInternal(err, "truncate log")
	}

	if newLen == 0 {
		l.lastIndex, l.lastTerm = 0, 0
		return 0, nil
	}
	entry, err := l.fetch(l.store, newLen)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, NewInternalError("entry %d not found after truncate", newLen)
	}
	l.lastIndex, l.lastTerm = entry.Index, entry.Term
	return entry.Index, nil
}

// LastIndex returns the index of the most recently appended entry.
func (l *Log) LastIndex() uint64 { return l.lastIndex }

// LastTerm returns the term of the most recently appended entry.
func (l *Log) LastTerm() uint64 { return l.lastTerm }

// CommitIndex returns the index of the most recently committed entry.
func (l *Log) CommitIndex() uint64 { return l.commitIndex }

// CommitTerm returns the term of the most recently committed entry.
func (l *Log) CommitTerm() uint64 { return l.commitTerm }

// LoadTerm returns the most recent term the log has seen, plus the
// candidate voted for in that term, if any.
func (l *Log) LoadTerm() (term uint64, votedFor string, err error) {
	raw, err := l.store.GetMetadata(keyTermVote.encode())
	if err != nil {
		return 0, "", WrapInternal(err, "load term")
	}
	if raw == nil {
		return 0, "", nil
	}
	var tv termVote
	if err := cbor.Unmarshal(raw, &tv); err != nil {
		return 0, "", WrapInternal(err, "decode term/vote")
	}
	slog.Debug("loaded term from log", "term", tv.Term, "voted_for", tv.VotedFor)
	return tv.Term, tv.VotedFor, nil
}

// SaveTerm persists the current term and the candidate voted for, if any.
func (l *Log) SaveTerm(term uint64, votedFor string) error {
	raw, err := cbor.Marshal(termVote{Term: term, VotedFor: votedFor})
	if err != nil {
		return WrapInternal(err, "encode term/vote")
	}
	if err := l.store.SetMetadata(keyTermVote.encode(), raw); err != nil {
		return WrapInternal(err, "save term")
	}
	return nil
}

func encodeEntry(entry Entry) ([]byte, error) {
	raw, err := cbor.Marshal(entry)
	if err != nil {
		return nil, WrapInternal(err, "encode log entry")
	}
	return raw, nil
}

func decodeEntry(raw []byte) (*Entry, error) {
	var entry Entry
	if err := cbor.Unmarshal(raw, &entry); err != nil {
		return nil, WrapInternal(err, "decode log entry")
	}
	return &entry, nil
}
