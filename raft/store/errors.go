package store

import "github.com/cockroachdb/errors"

func errCannotCommitMissing(index uint64) error {
	return errors.Newf("store: cannot commit non-existent index %d", index)
}

func errCannotCommitBelow(committed uint64) error {
	return errors.Newf("store: cannot commit below current index %d", committed)
}

func errCannotTruncateBelow(committed uint64) error {
	return errors.Newf("store: cannot truncate below committed index %d", committed)
}
