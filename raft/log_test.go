package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermq/embermq/raft/store"
)

func TestLogAppendAndGet(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	entry, err := log.Append(1, []byte("cmd-a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Index)
	assert.Equal(t, uint64(1), log.LastIndex())
	assert.Equal(t, uint64(1), log.LastTerm())

	got, err := log.Get(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("cmd-a"), got.Command)
}

func TestLogCommit(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	_, err = log.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = log.Append(1, []byte("b"))
	require.NoError(t, err)

	index, err := log.Commit(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
	assert.Equal(t, uint64(2), log.CommitIndex())
	assert.Equal(t, uint64(1), log.CommitTerm())
}

func TestLogHas(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	has, err := log.Has(0, 0)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = log.Append(3, []byte("a"))
	require.NoError(t, err)

	has, err = log.Has(1, 3)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = log.Has(1, 4)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLogSplice(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	_, err = log.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = log.Append(1, []byte("b"))
	require.NoError(t, err)

	// Replace entry 2 with a new term, which must also drop anything after it.
	lastIndex, err := log.Splice([]Entry{
		{Index: 2, Term: 2, Command: []byte("b2")},
		{Index: 3, Term: 2, Command: []byte("c")},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lastIndex)

	entry, err := log.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("b2"), entry.Command)
	assert.Equal(t, uint64(2), entry.Term)
}

func TestLogSpliceRejectsNonContiguous(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	_, err = log.Splice([]Entry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 3, Term: 1, Command: []byte("c")},
	})
	assert.Error(t, err)
}

func TestLogTruncateRefusesCommitted(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	_, err = log.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = log.Commit(1)
	require.NoError(t, err)

	_, err = log.Truncate(0)
	assert.Error(t, err)
}

func TestLogSaveAndLoadTerm(t *testing.T) {
	log, err := NewLog(store.NewMemory())
	require.NoError(t, err)

	require.NoError(t, log.SaveTerm(5, "node2"))

	term, votedFor, err := log.LoadTerm()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), term)
	assert.Equal(t, "node2", votedFor)
}

func TestNewLogReplaysCommitAndLastPosition(t *testing.T) {
	backing := store.NewMemory()
	log, err := NewLog(backing)
	require.NoError(t, err)

	_, err = log.Append(1, []byte("a"))
	require.NoError(t, err)
	_, err = log.Append(2, []byte("b"))
	require.NoError(t, err)
	_, err = log.Commit(1)
	require.NoError(t, err)

	reopened, err := NewLog(backing)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reopened.LastIndex())
	assert.Equal(t, uint64(2), reopened.LastTerm())
	assert.Equal(t, uint64(1), reopened.CommitIndex())
	assert.Equal(t, uint64(1), reopened.CommitTerm())
}
