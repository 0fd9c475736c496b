package raft

import "github.com/cockroachdb/errors"

// ErrAbort signals that an in-flight operation was abandoned, typically
// because the node lost leadership or changed role before the operation
// could complete. Callers should treat it as "retry elsewhere", not as a
// hard failure.
var ErrAbort = errors.New("raft: operation aborted")

// NewInternalError wraps a formatted message into an internal Raft error.
func NewInternalError(format string, args ...interface{}) error {
	return errors.Newf("raft: "+format, args...)
}

// WrapInternal wraps err as an internal Raft error, adding msg as context.
func WrapInternal(err error, msg string) error {
	return errors.Wrap(err, "raft: "+msg)
}
