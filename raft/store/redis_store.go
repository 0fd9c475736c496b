package store

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis hash. Entries are JSON-encoded and
// keyed by shard so a single Redis instance can host several logs side by
// side.
type Redis struct {
	client *redis.Client
	shard  string
	ctx    context.Context
}

// NewRedis wires a Redis-backed log store for the given shard name,
// namespacing every key under "raft:<shard>:".
func NewRedis(client *redis.Client, shard string) *Redis {
	return &Redis{client: client, shard: shard, ctx: context.Background()}
}

func (r *Redis) String() string { return "redis" }

func (r *Redis) entriesKey() string   { return "raft:" + r.shard + ":entries" }
func (r *Redis) committedKey() string { return "raft:" + r.shard + ":committed" }
func (r *Redis) metaKey() string      { return "raft:" + r.shard + ":meta" }

func (r *Redis) Append(entry []byte) (uint64, error) {
	length, err := r.client.HLen(r.ctx, r.entriesKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis: read log length")
	}
	index := uint64(length) + 1

	enc, err := json.Marshal(entry)
	if err != nil {
		return 0, errors.Wrap(err, "redis: encode entry")
	}
	field := strconv.FormatUint(index, 10)
	if err := r.client.HSet(r.ctx, r.entriesKey(), field, enc).Err(); err != nil {
		return 0, errors.Wrap(err, "redis: write entry")
	}
	return index, nil
}

func (r *Redis) Commit(index uint64) error {
	length, err := r.client.HLen(r.ctx, r.entriesKey()).Result()
	if err != nil {
		return errors.Wrap(err, "redis: read log length")
	}
	if index > uint64(length) {
		return errCannotCommitMissing(index)
	}
	committed := r.Committed()
	if index < committed {
		return errCannotCommitBelow(committed)
	}
	if err := r.client.Set(r.ctx, r.committedKey(), index, 0).Err(); err != nil {
		return errors.Wrap(err, "redis: write committed index")
	}
	return nil
}

func (r *Redis) Committed() uint64 {
	v, err := r.client.Get(r.ctx, r.committedKey()).Uint64()
	if errors.Is(err, redis.Nil) || err != nil {
		return 0
	}
	return v
}

func (r *Redis) Get(index uint64) ([]byte, error) {
	if index == 0 {
		return nil, nil
	}
	field := strconv.FormatUint(index, 10)
	v, err := r.client.HGet(r.ctx, r.entriesKey(), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis: get entry %d", index)
	}
	var entry []byte
	if err := json.Unmarshal(v, &entry); err != nil {
		return nil, errors.Wrapf(err, "redis: decode entry %d", index)
	}
	return entry, nil
}

func (r *Redis) Len() uint64 {
	length, err := r.client.HLen(r.ctx, r.entriesKey()).Result()
	if err != nil {
		return 0
	}
	return uint64(length)
}

func (r *Redis) Scan(rng Range) ([][]byte, error) {
	length := r.Len()
	start := rng.Start
	if start == 0 {
		start = 1
	}
	end := rng.End
	if end == 0 || end > length {
		end = length
	}
	if start > end {
		return nil, nil
	}

	out := make([][]byte, 0, end-start+1)
	for i := start; i <= end; i++ {
		entry, err := r.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *Redis) Size() uint64 {
	all, err := r.client.HGetAll(r.ctx, r.entriesKey()).Result()
	if err != nil {
		return 0
	}
	var total uint64
	for _, v := range all {
		total += uint64(len(v))
	}
	return total
}

func (r *Redis) Truncate(index uint64) (uint64, error) {
	committed := r.Committed()
	if index < committed {
		return 0, errCannotTruncateBelow(committed)
	}
	length := r.Len()
	for i := index + 1; i <= length; i++ {
		field := strconv.FormatUint(i, 10)
		if err := r.client.HDel(r.ctx, r.entriesKey(), field).Err(); err != nil {
			return 0, errors.Wrapf(err, "redis: delete entry %d", i)
		}
	}
	newLen := index
	if newLen > length {
		newLen = length
	}
	return newLen, nil
}

func (r *Redis) GetMetadata(key []byte) ([]byte, error) {
	v, err := r.client.HGet(r.ctx, r.metaKey(), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis: get metadata")
	}
	return v, nil
}

func (r *Redis) SetMetadata(key []byte, value []byte) error {
	if err := r.client.HSet(r.ctx, r.metaKey(), string(key), value).Err(); err != nil {
		return errors.Wrap(err, "redis: set metadata")
	}
	return nil
}

var _ Store = (*Redis)(nil)
