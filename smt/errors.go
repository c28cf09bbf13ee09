package smt

import "errors"

// ErrReadOnly is returned when a mutating call (Update, UpdateAll) is
// made against a Tree constructed over a read-only storage.Reader (for
// example, one backed by a storage.Snapshot rather than a storage.Txn).
var ErrReadOnly = errors.New("smt: tree is read-only")

// InternalError wraps a violated storage invariant — a stored value
// with the wrong length, a branch hash that does not match its key, a
// branch the hash-consistency invariant says must exist but does not.
// It indicates a bug or store corruption, never malformed caller input.
type InternalError struct {
	msg string
}

func (e *InternalError) Error() string { return "smt: internal: " + e.msg }

func newInternalError(msg string) error {
	return &InternalError{msg: msg}
}
