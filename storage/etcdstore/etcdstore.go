// Package etcdstore implements storage.Store against an etcd cluster
// (or an embedded single-node etcd server — see cmd/smtd), giving the
// backing store its atomic-transaction, conflict-detection, ordered
// range iteration, and snapshot-read capabilities for free from etcd's
// MVCC keyspace.
//
// Transactions here are optimistic: every key read through a Txn is
// remembered along with the ModRevision observed at read time; Commit
// builds a single clientv3 compare-and-swap transaction that fails
// (storage.ErrTransactionConflict) if any of those keys changed between
// the read and the commit. No retry is attempted internally — per
// spec.md §5, that decision belongs to the caller.
package etcdstore

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
)

// Store is a storage.Store backed by an etcd client.
type Store struct {
	client *clientv3.Client
}

// New wraps an already-connected etcd client.
func New(client *clientv3.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying etcd client.
func (s *Store) Close() error {
	return s.client.Close()
}

// BeginTxn starts a new optimistic transaction.
func (s *Store) BeginTxn(ctx context.Context) (storage.Txn, error) {
	return &txn{
		client: s.client,
		reads:  make(map[string]int64),
		writes: make(map[string]*[]byte),
		order:  nil,
	}, nil
}

// NewSnapshot pins the current etcd revision and returns a Reader that
// is consistent as of that revision for its entire lifetime.
func (s *Store) NewSnapshot(ctx context.Context) (storage.Snapshot, error) {
	resp, err := s.client.Get(ctx, "\x00", clientv3.WithSerializable())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return &snapshot{client: s.client, rev: resp.Header.Revision}, nil
}

func getOne(ctx context.Context, client *clientv3.Client, key []byte, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	resp, err := client.Get(ctx, string(key), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	return resp, nil
}

// --- txn ---

type txn struct {
	client *clientv3.Client
	reads  map[string]int64  // physical key -> ModRevision observed at first read
	writes map[string]*[]byte // physical key -> new value, or nil for delete
	order  []string           // write order, for deterministic Commit op list
}

func (t *txn) recordWrite(key []byte, value []byte) {
	k := string(key)
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	if value == nil {
		t.writes[k] = nil
		return
	}
	v := append([]byte(nil), value...)
	t.writes[k] = &v
}

func (t *txn) get(ctx context.Context, key []byte) ([]byte, bool, error) {
	k := string(key)
	if v, ok := t.writes[k]; ok {
		if v == nil {
			return nil, false, nil
		}
		return *v, true, nil
	}
	resp, err := getOne(ctx, t.client, key)
	if err != nil {
		return nil, false, err
	}
	if _, seen := t.reads[k]; !seen {
		if len(resp.Kvs) == 0 {
			t.reads[k] = 0
		} else {
			t.reads[k] = resp.Kvs[0].ModRevision
		}
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (t *txn) GetRoot(ctx context.Context, prefix []byte) (hasher.H256, error) {
	v, ok, err := t.get(ctx, storage.EncodeRootKey(prefix))
	if err != nil || !ok {
		return hasher.H256{}, err
	}
	h, _ := hasher.H256FromBytes(v)
	return h, nil
}

func (t *txn) PutRoot(ctx context.Context, prefix []byte, root hasher.H256) error {
	t.recordWrite(storage.EncodeRootKey(prefix), root.Bytes())
	return nil
}

func (t *txn) GetLeaf(ctx context.Context, prefix []byte, key hasher.H256) (hasher.H256, bool, error) {
	v, ok, err := t.get(ctx, storage.EncodeLeafKey(prefix, key))
	if err != nil || !ok {
		return hasher.H256{}, ok, err
	}
	h, ok := hasher.H256FromBytes(v)
	return h, ok, nil
}

func (t *txn) GetBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) (storage.BranchNode, bool, error) {
	v, ok, err := t.get(ctx, storage.EncodeBranchKey(prefix, bk))
	if err != nil || !ok {
		return storage.BranchNode{}, ok, err
	}
	n, err := storage.DecodeBranchNode(v)
	if err != nil {
		return storage.BranchNode{}, false, err
	}
	return n, true, nil
}

func (t *txn) IterateLeaves(ctx context.Context, prefix []byte, fn func(key, value hasher.H256) (bool, error)) error {
	start := append(append([]byte{}, prefix...), leafTagByte())
	resp, err := getOne(ctx, t.client, start, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		key, ok := storage.IsLeafKey(prefix, kv.Key)
		if !ok {
			continue
		}
		value, ok := hasher.H256FromBytes(kv.Value)
		if !ok {
			continue
		}
		cont, err := fn(key, value)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (t *txn) PutLeaf(ctx context.Context, prefix []byte, key, value hasher.H256) error {
	t.recordWrite(storage.EncodeLeafKey(prefix, key), value.Bytes())
	return nil
}

func (t *txn) DeleteLeaf(ctx context.Context, prefix []byte, key hasher.H256) error {
	t.recordWrite(storage.EncodeLeafKey(prefix, key), nil)
	return nil
}

func (t *txn) PutBranch(ctx context.Context, prefix []byte, bk storage.BranchKey, node storage.BranchNode) error {
	t.recordWrite(storage.EncodeBranchKey(prefix, bk), storage.EncodeBranchNode(node))
	return nil
}

func (t *txn) DeleteBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) error {
	t.recordWrite(storage.EncodeBranchKey(prefix, bk), nil)
	return nil
}

// Commit builds and executes a single etcd compare-and-swap
// transaction: every key this Txn read must still be at the
// ModRevision observed when it was read, or the whole commit aborts
// with storage.ErrTransactionConflict.
func (t *txn) Commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	cmps := make([]clientv3.Cmp, 0, len(t.reads))
	for k, rev := range t.reads {
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(k), "=", rev))
	}
	ops := make([]clientv3.Op, 0, len(t.writes))
	for _, k := range t.order {
		v := t.writes[k]
		if v == nil {
			ops = append(ops, clientv3.OpDelete(k))
		} else {
			ops = append(ops, clientv3.OpPut(k, string(*v)))
		}
	}
	resp, err := t.client.Txn(ctx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	if !resp.Succeeded {
		glog.V(1).Infof("etcdstore: transaction aborted, %d keys compared, %d writes", len(cmps), len(ops))
		return storage.ErrTransactionConflict
	}
	return nil
}

// --- snapshot ---

type snapshot struct {
	client *clientv3.Client
	rev    int64
}

func (s *snapshot) GetRoot(ctx context.Context, prefix []byte) (hasher.H256, error) {
	resp, err := getOne(ctx, s.client, storage.EncodeRootKey(prefix), clientv3.WithRev(s.rev))
	if err != nil {
		return hasher.H256{}, err
	}
	if len(resp.Kvs) == 0 {
		return hasher.H256{}, nil
	}
	h, _ := hasher.H256FromBytes(resp.Kvs[0].Value)
	return h, nil
}

func (s *snapshot) GetLeaf(ctx context.Context, prefix []byte, key hasher.H256) (hasher.H256, bool, error) {
	resp, err := getOne(ctx, s.client, storage.EncodeLeafKey(prefix, key), clientv3.WithRev(s.rev))
	if err != nil {
		return hasher.H256{}, false, err
	}
	if len(resp.Kvs) == 0 {
		return hasher.H256{}, false, nil
	}
	h, ok := hasher.H256FromBytes(resp.Kvs[0].Value)
	return h, ok, nil
}

func (s *snapshot) GetBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) (storage.BranchNode, bool, error) {
	resp, err := getOne(ctx, s.client, storage.EncodeBranchKey(prefix, bk), clientv3.WithRev(s.rev))
	if err != nil {
		return storage.BranchNode{}, false, err
	}
	if len(resp.Kvs) == 0 {
		return storage.BranchNode{}, false, nil
	}
	n, err := storage.DecodeBranchNode(resp.Kvs[0].Value)
	if err != nil {
		return storage.BranchNode{}, false, err
	}
	return n, true, nil
}

func (s *snapshot) IterateLeaves(ctx context.Context, prefix []byte, fn func(key, value hasher.H256) (bool, error)) error {
	start := append(append([]byte{}, prefix...), leafTagByte())
	resp, err := getOne(ctx, s.client, start, clientv3.WithRev(s.rev), clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		key, ok := storage.IsLeafKey(prefix, kv.Key)
		if !ok {
			continue
		}
		value, ok := hasher.H256FromBytes(kv.Value)
		if !ok {
			continue
		}
		cont, err := fn(key, value)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (s *snapshot) Close() error { return nil }

// leafTagByte returns the single byte that begins every leaf record's
// suffix, letting callers build a prefix range covering exactly the
// leaf family without pulling in the storage package's unexported
// constant directly.
func leafTagByte() byte {
	// storage.EncodeLeafKey(nil, hasher.H256{}) == []byte{leafTag, 0...0};
	// its first byte is the tag.
	return storage.EncodeLeafKey(nil, hasher.H256{})[0]
}
