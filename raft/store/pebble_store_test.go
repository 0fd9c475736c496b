package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPebbleAppendGetAndCommit(t *testing.T) {
	p, err := NewPebble(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	index, err := p.Append([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)

	index, err = p.Append([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	v, err := p.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	require.NoError(t, p.Commit(2))
	assert.Equal(t, uint64(2), p.Committed())

	assert.ErrorContains(t, p.Commit(1), "cannot commit below")
	assert.ErrorContains(t, p.Commit(5), "cannot commit non-existent")
}

func TestPebbleScanAndTruncate(t *testing.T) {
	p, err := NewPebble(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	for _, v := range []string{"a", "b", "c"} {
		_, err := p.Append([]byte(v))
		require.NoError(t, err)
	}
	require.NoError(t, p.Commit(1))

	entries, err := p.Scan(Between(2, 3))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, entries)

	newLen, err := p.Truncate(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newLen)
	assert.Equal(t, uint64(2), p.Len())

	_, err = p.Truncate(0)
	assert.ErrorContains(t, err, "cannot truncate below")
}

func TestPebbleMetadataRoundTrips(t *testing.T) {
	p, err := NewPebble(t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	v, err := p.GetMetadata([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, p.SetMetadata([]byte("term"), []byte("5")))
	v, err = p.GetMetadata([]byte("term"))
	require.NoError(t, err)
	assert.Equal(t, []byte("5"), v)
}

func TestPebbleReopenPersistsData(t *testing.T) {
	dir := t.TempDir()

	p, err := NewPebble(dir)
	require.NoError(t, err)
	_, err = p.Append([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, p.Commit(1))
	require.NoError(t, p.Close())

	reopened, err := NewPebble(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.Len())
	assert.Equal(t, uint64(1), reopened.Committed())
	v, err := reopened.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), v)
}

var _ Store = (*Pebble)(nil)
