package service

import (
	"errors"
	"fmt"
)

// InvalidInputError reports a request that is malformed independent of
// any store state: an empty tree name, a key or value that fails to
// decode from hex at the RPC layer, and similar.
type InvalidInputError struct {
	msg string
}

func (e *InvalidInputError) Error() string { return "service: invalid input: " + e.msg }

func newInvalidInputError(format string, args ...interface{}) error {
	return &InvalidInputError{msg: fmt.Sprintf(format, args...)}
}

// ErrWipePostconditionViolated is returned by Wipe when, after zeroing
// every leaf it observed, the tree's root is not the all-zero hash.
// This indicates a concurrent writer raced the wipe (spec.md §4.4) and
// is always logged at glog.Errorf before being returned, since it means
// the store's invariants may now be inconsistent.
var ErrWipePostconditionViolated = errors.New("service: wipe postcondition violated: root is not empty after zeroing all observed leaves")
