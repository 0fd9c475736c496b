package store

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
)

const (
	pebbleEntryPrefix = "entry:"
	pebbleLenKey      = "meta:len"
	pebbleCommitKey   = "meta:committed"
	pebbleUserPrefix  = "meta:user:"
)

// Pebble is a Store backed by an embedded Pebble LSM engine. Entries are
// CBOR-encoded and keyed by their big-endian index so Scan can walk a
// bounded, ordered key range.
type Pebble struct {
	db *pebble.DB
}

// NewPebble opens (or creates) a Pebble-backed log store rooted at dir.
func NewPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open pebble store")
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) String() string { return "pebble" }

// Close releases the underlying Pebble database handle.
func (p *Pebble) Close() error {
	return p.db.Close()
}

func entryKey(index uint64) []byte {
	key := make([]byte, len(pebbleEntryPrefix)+8)
	copy(key, pebbleEntryPrefix)
	binary.BigEndian.PutUint64(key[len(pebbleEntryPrefix):], index)
	return key
}

func (p *Pebble) getUint64(key string) (uint64, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "get %s", key)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, errors.Newf("corrupt uint64 value at key %s", key)
	}
	return binary.BigEndian.Uint64(v), nil
}

func (p *Pebble) setUint64(key string, value uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	if err := p.db.Set([]byte(key), buf, pebble.Sync); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

func (p *Pebble) Append(entry []byte) (uint64, error) {
	length, err := p.getUint64(pebbleLenKey)
	if err != nil {
		return 0, err
	}
	index := length + 1

	enc, err := cbor.Marshal(entry)
	if err != nil {
		return 0, errors.Wrap(err, "encode entry")
	}
	if err := p.db.Set(entryKey(index), enc, pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "write entry")
	}
	if err := p.setUint64(pebbleLenKey, index); err != nil {
		return 0, err
	}
	return index, nil
}

func (p *Pebble) Commit(index uint64) error {
	length, err := p.getUint64(pebbleLenKey)
	if err != nil {
		return err
	}
	if index > length {
		return errCannotCommitMissing(index)
	}
	committed, err := p.getUint64(pebbleCommitKey)
	if err != nil {
		return err
	}
	if index < committed {
		return errCannotCommitBelow(committed)
	}
	return p.setUint64(pebbleCommitKey, index)
}

func (p *Pebble) Committed() uint64 {
	v, _ := p.getUint64(pebbleCommitKey)
	return v
}

func (p *Pebble) Get(index uint64) ([]byte, error) {
	if index == 0 {
		return nil, nil
	}
	length, err := p.getUint64(pebbleLenKey)
	if err != nil {
		return nil, err
	}
	if index > length {
		return nil, nil
	}
	return p.getEntry(index)
}

func (p *Pebble) getEntry(index uint64) ([]byte, error) {
	v, closer, err := p.db.Get(entryKey(index))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get entry %d", index)
	}
	defer closer.Close()

	var entry []byte
	if err := cbor.Unmarshal(v, &entry); err != nil {
		return nil, errors.Wrapf(err, "decode entry %d", index)
	}
	return entry, nil
}

func (p *Pebble) Len() uint64 {
	v, _ := p.getUint64(pebbleLenKey)
	return v
}

func (p *Pebble) Scan(r Range) ([][]byte, error) {
	length, err := p.getUint64(pebbleLenKey)
	if err != nil {
		return nil, err
	}
	start := r.Start
	if start == 0 {
		start = 1
	}
	end := r.End
	if end == 0 || end > length {
		end = length
	}
	if start > end {
		return nil, nil
	}

	out := make([][]byte, 0, end-start+1)
	for i := start; i <= end; i++ {
		entry, err := p.getEntry(i)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (p *Pebble) Size() uint64 {
	length, err := p.getUint64(pebbleLenKey)
	if err != nil {
		return 0
	}
	var total uint64
	for i := uint64(1); i <= length; i++ {
		v, closer, err := p.db.Get(entryKey(i))
		if err != nil {
			continue
		}
		total += uint64(len(v))
		closer.Close()
	}
	return total
}

func (p *Pebble) Truncate(index uint64) (uint64, error) {
	committed, err := p.getUint64(pebbleCommitKey)
	if err != nil {
		return 0, err
	}
	if index < committed {
		return 0, errCannotTruncateBelow(committed)
	}
	length, err := p.getUint64(pebbleLenKey)
	if err != nil {
		return 0, err
	}
	for i := index + 1; i <= length; i++ {
		if err := p.db.Delete(entryKey(i), pebble.Sync); err != nil {
			return 0, errors.Wrapf(err, "delete entry %d", i)
		}
	}
	newLen := index
	if newLen > length {
		newLen = length
	}
	if err := p.setUint64(pebbleLenKey, newLen); err != nil {
		return 0, err
	}
	return newLen, nil
}

func (p *Pebble) GetMetadata(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(append([]byte(pebbleUserPrefix), key...))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get metadata")
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (p *Pebble) SetMetadata(key []byte, value []byte) error {
	if err := p.db.Set(append([]byte(pebbleUserPrefix), key...), value, pebble.Sync); err != nil {
		return errors.Wrap(err, "set metadata")
	}
	return nil
}

var _ Store = (*Pebble)(nil)
