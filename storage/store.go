package storage

import (
	"context"
	"errors"

	"github.com/opensmt/smtd/hasher"
)

// ErrTransactionConflict is returned by Txn.Commit when a concurrent
// writer committed an overlapping change first.
var ErrTransactionConflict = errors.New("storage: transaction conflict")

// ErrStoreUnavailable wraps failures opening or reaching the backing
// store.
var ErrStoreUnavailable = errors.New("storage: backing store unavailable")

// Reader is the read side of the multi-tree encoding layer, satisfied
// by both Snapshot and Txn.
type Reader interface {
	// GetRoot reads the tree's current root pointer. It returns the
	// all-zero hash, with no error, for a tree that has never been
	// written or that has been fully wiped.
	GetRoot(ctx context.Context, prefix []byte) (hasher.H256, error)

	// GetLeaf reads the value at key in tree. ok is false if the leaf
	// is absent (equivalent to the zero value).
	GetLeaf(ctx context.Context, prefix []byte, key hasher.H256) (value hasher.H256, ok bool, err error)

	// GetBranch reads the branch stored at bk in tree. ok is false if
	// no such branch is stored.
	GetBranch(ctx context.Context, prefix []byte, bk BranchKey) (node BranchNode, ok bool, err error)

	// IterateLeaves calls fn, in ascending leaf-key order, for every
	// leaf record stored under tree. Iteration stops early, without
	// error, if fn returns ok=false. Branch records are never passed
	// to fn.
	IterateLeaves(ctx context.Context, prefix []byte, fn func(key, value hasher.H256) (ok bool, err error)) error
}

// Writer is the write side, always used within a Txn.
type Writer interface {
	Reader

	// PutRoot persists the tree's current root pointer.
	PutRoot(ctx context.Context, prefix []byte, root hasher.H256) error

	// PutLeaf persists a leaf value. Callers are expected to translate
	// a zero value into DeleteLeaf themselves (spec §4.2); Writer
	// implementations do not second-guess the value given.
	PutLeaf(ctx context.Context, prefix []byte, key, value hasher.H256) error

	// DeleteLeaf removes a leaf record. Idempotent.
	DeleteLeaf(ctx context.Context, prefix []byte, key hasher.H256) error

	// PutBranch persists a branch node. Callers guarantee hash
	// consistency: bk.Hash must equal node.Hash(bk.Height).
	PutBranch(ctx context.Context, prefix []byte, bk BranchKey, node BranchNode) error

	// DeleteBranch removes a branch record. Idempotent.
	DeleteBranch(ctx context.Context, prefix []byte, bk BranchKey) error
}

// Txn is a read/write handle whose writes become visible only once
// Commit succeeds.
type Txn interface {
	Writer

	// Commit atomically applies every write made through this Txn, or
	// none of them. Returns ErrTransactionConflict if a concurrent
	// writer touched an overlapping key first.
	Commit(ctx context.Context) error
}

// Snapshot is a read-only, point-in-time consistent view of the store.
type Snapshot interface {
	Reader

	// Close releases resources held by the snapshot.
	Close() error
}

// Store opens transactions and read-only snapshots against the shared
// backing store. A single Store instance may be used concurrently by
// many logically independent trees, distinguished only by the prefix
// passed to each call.
type Store interface {
	// BeginTxn starts a new read/write transaction.
	BeginTxn(ctx context.Context) (Txn, error)

	// NewSnapshot opens a read-only, consistent view of the store as
	// of the moment this call returns.
	NewSnapshot(ctx context.Context) (Snapshot, error)

	// Close releases resources held by the Store itself.
	Close() error
}
