// Package memstore implements storage.Store entirely in memory, backed
// by an ordered github.com/google/btree tree. It exists for
// build_in_memory (spec §4.4): a fresh tree is built and read within a
// single call, so memstore needs no durability and no real transaction
// isolation — writes apply immediately and Commit always succeeds.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is an in-memory storage.Store.
type Store struct {
	mu   sync.Mutex
	tree *btree.BTreeG[item]
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{tree: btree.NewG(32, less)}
}

// BeginTxn returns a transaction that writes straight through to the
// underlying tree; Commit never fails.
func (s *Store) BeginTxn(ctx context.Context) (storage.Txn, error) {
	return &txn{s: s}, nil
}

// NewSnapshot returns a read-only view over the store's current
// contents. Because writes through a txn apply immediately, the
// snapshot is a shallow copy of the btree taken under lock (google/btree
// is copy-on-write internally, so Clone is O(1) and subsequent writes
// to s.tree do not mutate the snapshot's view).
func (s *Store) NewSnapshot(ctx context.Context) (storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &snapshot{tree: s.tree.Clone()}, nil
}

// Close releases no resources; present to satisfy storage.Store.
func (s *Store) Close() error { return nil }

func (s *Store) get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil, false
	}
	return v.value, true
}

func (s *Store) put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(item{key: key, value: value})
}

func (s *Store) delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(item{key: key})
}

func iterateLeaves(tree *btree.BTreeG[item], prefix []byte, fn func(key, value hasher.H256) (bool, error)) error {
	var outerErr error
	tree.AscendGreaterOrEqual(item{key: prefix}, func(it item) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		leafKey, ok := storage.IsLeafKey(prefix, it.key)
		if !ok {
			return true
		}
		value, ok := hasher.H256FromBytes(it.value)
		if !ok {
			return true
		}
		cont, err := fn(leafKey, value)
		if err != nil {
			outerErr = err
			return false
		}
		return cont
	})
	return outerErr
}

type txn struct {
	s *Store
}

func (t *txn) GetRoot(ctx context.Context, prefix []byte) (hasher.H256, error) {
	v, ok := t.s.get(storage.EncodeRootKey(prefix))
	if !ok {
		return hasher.H256{}, nil
	}
	h, _ := hasher.H256FromBytes(v)
	return h, nil
}

func (t *txn) PutRoot(ctx context.Context, prefix []byte, root hasher.H256) error {
	t.s.put(storage.EncodeRootKey(prefix), root.Bytes())
	return nil
}

func (t *txn) GetLeaf(ctx context.Context, prefix []byte, key hasher.H256) (hasher.H256, bool, error) {
	v, ok := t.s.get(storage.EncodeLeafKey(prefix, key))
	if !ok {
		return hasher.H256{}, false, nil
	}
	h, ok := hasher.H256FromBytes(v)
	return h, ok, nil
}

func (t *txn) GetBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) (storage.BranchNode, bool, error) {
	v, ok := t.s.get(storage.EncodeBranchKey(prefix, bk))
	if !ok {
		return storage.BranchNode{}, false, nil
	}
	n, err := storage.DecodeBranchNode(v)
	if err != nil {
		return storage.BranchNode{}, false, err
	}
	return n, true, nil
}

func (t *txn) IterateLeaves(ctx context.Context, prefix []byte, fn func(key, value hasher.H256) (bool, error)) error {
	t.s.mu.Lock()
	tree := t.s.tree.Clone()
	t.s.mu.Unlock()
	return iterateLeaves(tree, prefix, fn)
}

func (t *txn) PutLeaf(ctx context.Context, prefix []byte, key, value hasher.H256) error {
	t.s.put(storage.EncodeLeafKey(prefix, key), value.Bytes())
	return nil
}

func (t *txn) DeleteLeaf(ctx context.Context, prefix []byte, key hasher.H256) error {
	t.s.delete(storage.EncodeLeafKey(prefix, key))
	return nil
}

func (t *txn) PutBranch(ctx context.Context, prefix []byte, bk storage.BranchKey, node storage.BranchNode) error {
	t.s.put(storage.EncodeBranchKey(prefix, bk), storage.EncodeBranchNode(node))
	return nil
}

func (t *txn) DeleteBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) error {
	t.s.delete(storage.EncodeBranchKey(prefix, bk))
	return nil
}

func (t *txn) Commit(ctx context.Context) error { return nil }

type snapshot struct {
	tree *btree.BTreeG[item]
}

func (s *snapshot) GetRoot(ctx context.Context, prefix []byte) (hasher.H256, error) {
	v, ok := s.tree.Get(item{key: storage.EncodeRootKey(prefix)})
	if !ok {
		return hasher.H256{}, nil
	}
	h, _ := hasher.H256FromBytes(v.value)
	return h, nil
}

func (s *snapshot) GetLeaf(ctx context.Context, prefix []byte, key hasher.H256) (hasher.H256, bool, error) {
	v, ok := s.tree.Get(item{key: storage.EncodeLeafKey(prefix, key)})
	if !ok {
		return hasher.H256{}, false, nil
	}
	h, ok := hasher.H256FromBytes(v.value)
	return h, ok, nil
}

func (s *snapshot) GetBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) (storage.BranchNode, bool, error) {
	v, ok := s.tree.Get(item{key: storage.EncodeBranchKey(prefix, bk)})
	if !ok {
		return storage.BranchNode{}, false, nil
	}
	n, err := storage.DecodeBranchNode(v.value)
	if err != nil {
		return storage.BranchNode{}, false, err
	}
	return n, true, nil
}

func (s *snapshot) IterateLeaves(ctx context.Context, prefix []byte, fn func(key, value hasher.H256) (bool, error)) error {
	return iterateLeaves(s.tree, prefix, fn)
}

func (s *snapshot) Close() error { return nil }
