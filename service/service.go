// Package service implements the in-process tree service: the five
// logical operations of spec.md §4.4 (build_in_memory, update_db_smt,
// update_db_smt_middle, get_smt_root, delete_smt), layered over the
// smt and storage packages. Everything external to this core — JSON-RPC
// framing, hex encoding, CLI flags — is an adapter around Service, never
// a source of additional semantics.
package service

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/smt"
	"github.com/opensmt/smtd/storage"
	"github.com/opensmt/smtd/storage/memstore"
)

// Opt mirrors spec.md §4.4's {get_root, get_proof} record. GetProof
// selects whether proofs are computed. GetRoot is not consulted: every
// operation returns its root (or roots) whether or not it is set.
type Opt struct {
	GetRoot  bool
	GetProof bool
}

// Service is the in-process API of spec.md §6.1: open a tree by name
// over a given store, apply an operation, optionally compile proofs.
type Service struct {
	store   storage.Store
	cfg     Config
	metrics *metrics
}

// New constructs a Service over store. reg may be nil to skip metrics
// registration (used by tests).
func New(store storage.Store, cfg Config, reg prometheus.Registerer) *Service {
	return &Service{store: store, cfg: cfg, metrics: newMetrics(reg)}
}

// BuildInMemory constructs a fresh, backing-store-free SMT, applies
// pairs in order, and returns its root and (if requested) a proof for
// every distinct key in pairs. A nil/empty pairs list returns the
// all-zero root and no proofs without touching anything further
// (spec.md §9 Open Question 3).
func (s *Service) BuildInMemory(ctx context.Context, pairs []smt.Pair, opt Opt) (root hasher.H256, proofs map[hasher.H256][]byte, err error) {
	defer func() { s.metrics.observe("build_in_memory", err) }()

	if len(pairs) == 0 {
		return hasher.H256{}, nil, nil
	}

	store := memstore.New()
	txn, err := store.BeginTxn(ctx)
	if err != nil {
		return hasher.H256{}, nil, err
	}
	prefix := []byte("build_in_memory")
	tree := smt.New(txn, prefix)
	if _, err := tree.UpdateAll(ctx, pairs); err != nil {
		return hasher.H256{}, nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return hasher.H256{}, nil, err
	}

	root, err = tree.Root(ctx)
	if err != nil {
		return hasher.H256{}, nil, err
	}
	if opt.GetProof {
		proofs = s.computeProofs(ctx, tree, distinctKeys(pairs))
	}
	return root, proofs, nil
}

// UpdatePersistent applies pairs to the named persistent tree in
// committed chunks of s.cfg.ChunkSize pairs each (atomic per chunk, not
// across the whole batch — see spec.md §4.4/§7). It returns the root
// after the final chunk and, if requested, a proof per distinct key.
func (s *Service) UpdatePersistent(ctx context.Context, treeName string, pairs []smt.Pair, opt Opt) (root hasher.H256, proofs map[hasher.H256][]byte, err error) {
	defer func() { s.metrics.observe("update_db_smt", err) }()

	prefix, err := storage.TreePrefix([]byte(treeName))
	if err != nil {
		return hasher.H256{}, nil, newInvalidInputError("%v", err)
	}
	if len(pairs) == 0 {
		root, err := s.GetRoot(ctx, treeName)
		return root, nil, err
	}

	root, err = s.applyChunked(ctx, prefix, pairs)
	if err != nil {
		return hasher.H256{}, nil, err
	}

	if opt.GetProof {
		proofs, err = s.proofsOverSnapshot(ctx, prefix, distinctKeys(pairs))
		if err != nil {
			return hasher.H256{}, nil, err
		}
	}
	return root, proofs, nil
}

// applyChunked commits pairs in s.cfg.ChunkSize-sized groups, returning
// the root produced by the final chunk committed.
func (s *Service) applyChunked(ctx context.Context, prefix []byte, pairs []smt.Pair) (hasher.H256, error) {
	chunkSize := s.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var root hasher.H256
	for start := 0; start < len(pairs); start += chunkSize {
		end := start + chunkSize
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[start:end]

		txn, err := s.store.BeginTxn(ctx)
		if err != nil {
			return hasher.H256{}, err
		}
		tree := smt.New(txn, prefix)
		chunkRoot, err := tree.UpdateAll(ctx, chunk)
		if err != nil {
			return hasher.H256{}, err
		}
		if err := txn.Commit(ctx); err != nil {
			if err == storage.ErrTransactionConflict {
				s.metrics.conflicts.Inc()
			}
			return hasher.H256{}, err
		}
		root = chunkRoot
		glog.V(1).Infof("service: committed chunk [%d,%d) of %d pairs, root now %x", start, end, len(pairs), root.Bytes())
	}
	return root, nil
}

// UpdatePersistentSequenced applies pairs one at a time, each in its own
// committed transaction (spec.md §9 Open Question 1's resolution),
// recording the root produced after each pair and, if requested, a
// proof for that pair at that intermediate root.
func (s *Service) UpdatePersistentSequenced(ctx context.Context, treeName string, pairs []smt.Pair, opt Opt) (roots map[hasher.H256]hasher.H256, proofs map[hasher.H256][]byte, err error) {
	defer func() { s.metrics.observe("update_db_smt_middle", err) }()

	prefix, err := storage.TreePrefix([]byte(treeName))
	if err != nil {
		return nil, nil, newInvalidInputError("%v", err)
	}
	if len(pairs) == 0 {
		return map[hasher.H256]hasher.H256{}, map[hasher.H256][]byte{}, nil
	}

	roots = make(map[hasher.H256]hasher.H256, len(pairs))
	if opt.GetProof {
		proofs = make(map[hasher.H256][]byte, len(pairs))
	}

	for _, pair := range pairs {
		txn, err := s.store.BeginTxn(ctx)
		if err != nil {
			return nil, nil, err
		}
		tree := smt.New(txn, prefix)
		newRoot, err := tree.Update(ctx, pair.Key, pair.Value)
		if err != nil {
			return nil, nil, err
		}
		var compiled []byte
		var haveProof bool
		if opt.GetProof {
			compiled, haveProof = s.proofFor(ctx, tree, pair.Key)
		}
		if err := txn.Commit(ctx); err != nil {
			if err == storage.ErrTransactionConflict {
				s.metrics.conflicts.Inc()
			}
			return nil, nil, err
		}
		roots[pair.Key] = newRoot
		if haveProof {
			proofs[pair.Key] = compiled
		}
	}
	return roots, proofs, nil
}

// GetRoot returns the named tree's current root as of a consistent
// snapshot of the backing store.
func (s *Service) GetRoot(ctx context.Context, treeName string) (root hasher.H256, err error) {
	defer func() { s.metrics.observe("get_smt_root", err) }()

	prefix, err := storage.TreePrefix([]byte(treeName))
	if err != nil {
		return hasher.H256{}, newInvalidInputError("%v", err)
	}
	snap, err := s.store.NewSnapshot(ctx)
	if err != nil {
		return hasher.H256{}, err
	}
	defer snap.Close()
	return snap.GetRoot(ctx, prefix)
}

// Wipe deletes every leaf of the named tree: it snapshots the current
// leaf set, zeroes each one in committed chunks, then verifies the
// resulting root is the all-zero hash. A non-zero root after zeroing
// every leaf the snapshot observed means a concurrent writer raced the
// wipe; Wipe then returns ErrWipePostconditionViolated rather than
// silently reporting success.
func (s *Service) Wipe(ctx context.Context, treeName string) (ok bool, err error) {
	defer func() { s.metrics.observe("delete_smt", err) }()

	prefix, err := storage.TreePrefix([]byte(treeName))
	if err != nil {
		return false, newInvalidInputError("%v", err)
	}

	snap, err := s.store.NewSnapshot(ctx)
	if err != nil {
		return false, err
	}
	var keys []hasher.H256
	iterErr := snap.IterateLeaves(ctx, prefix, func(key, _ hasher.H256) (bool, error) {
		keys = append(keys, key)
		return true, nil
	})
	snap.Close()
	if iterErr != nil {
		return false, iterErr
	}
	if len(keys) == 0 {
		return true, nil
	}

	pairs := make([]smt.Pair, len(keys))
	for i, k := range keys {
		pairs[i] = smt.Pair{Key: k, Value: hasher.H256{}}
	}
	if _, err := s.applyChunked(ctx, prefix, pairs); err != nil {
		return false, err
	}

	finalRoot, err := s.GetRoot(ctx, treeName)
	if err != nil {
		return false, err
	}
	if !finalRoot.IsZero() {
		s.metrics.wipeViolations.Inc()
		glog.Errorf("service: wipe of tree %q left non-empty root %x after zeroing %d leaves", treeName, finalRoot.Bytes(), len(keys))
		return false, ErrWipePostconditionViolated
	}
	return true, nil
}

// proofsOverSnapshot compiles a proof per key in keys against a fresh
// read-only snapshot of the backing store, so proof generation never
// holds open the write transaction that just committed.
func (s *Service) proofsOverSnapshot(ctx context.Context, prefix []byte, keys []hasher.H256) (map[hasher.H256][]byte, error) {
	snap, err := s.store.NewSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	tree := smt.New(snap, prefix)
	return s.computeProofs(ctx, tree, keys), nil
}

// computeProofs compiles an individual, single-key-bound proof for
// every key in keys. Per spec.md §7 point 4, a key whose proof-walk
// fails is logged and omitted from the result rather than failing the
// whole request; callers detect omissions by comparing input keys
// against the result's keys. Batches larger than ParallelProofThreshold
// are dispatched across a bounded worker pool.
func (s *Service) computeProofs(ctx context.Context, tree *smt.Tree, keys []hasher.H256) map[hasher.H256][]byte {
	result := make(map[hasher.H256][]byte, len(keys))
	if len(keys) <= ParallelProofThreshold {
		for _, k := range keys {
			if compiled, ok := s.proofFor(ctx, tree, k); ok {
				result[k] = compiled
			}
		}
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	workers := s.cfg.ProofWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			compiled, ok := s.proofFor(gctx, tree, k)
			if ok {
				mu.Lock()
				result[k] = compiled
				mu.Unlock()
			}
			return nil
		})
	}
	// proofFor never returns a non-nil error from the goroutine itself
	// (failures are logged and dropped, per policy); Wait only surfaces
	// the group's own bookkeeping.
	_ = g.Wait()
	return result
}

// proofFor computes and compiles a single-key proof. On failure it
// logs the failure, increments the omitted-proof counter, and reports
// ok=false rather than returning an error, implementing spec.md §7
// point 4's per-key failure policy.
func (s *Service) proofFor(ctx context.Context, tree *smt.Tree, key hasher.H256) (compiled []byte, ok bool) {
	proof, err := tree.MerkleProof(ctx, []hasher.H256{key})
	if err != nil {
		glog.Errorf("service: proof generation failed for key %x: %v", key.Bytes(), err)
		s.metrics.proofsOmitted.Inc()
		return nil, false
	}
	return proof.Compile(), true
}

// distinctKeys returns the distinct keys appearing in pairs, in
// ascending order (spec.md §4.4's "merkle_proof ... sorted by leaf
// key").
func distinctKeys(pairs []smt.Pair) []hasher.H256 {
	seen := make(map[hasher.H256]struct{}, len(pairs))
	keys := make([]hasher.H256, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		keys = append(keys, p.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}
