package smt

import (
	"context"
	"testing"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
	"github.com/opensmt/smtd/storage/memstore"
)

func newTestTree(t *testing.T) (*Tree, storage.Store) {
	t.Helper()
	store := memstore.New()
	return New(mustTxn(t, store), []byte("test-tree")), store
}

func mustTxn(t *testing.T, store storage.Store) storage.Txn {
	t.Helper()
	txn, err := store.BeginTxn(context.Background())
	if err != nil {
		t.Fatalf("BeginTxn: %v", err)
	}
	return txn
}

func TestEmptyTreeRootIsZero(t *testing.T) {
	tree, _ := newTestTree(t)
	root, err := tree.Root(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsZero() {
		t.Fatalf("empty tree root = %x, want all-zero", root.Bytes())
	}
}

func TestUpdateChangesRootAndIsReadableBack(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)

	key := hasher.H256{1}
	value := hasher.H256{2}
	root, err := tree.Update(ctx, key, value)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if root.IsZero() {
		t.Fatal("root is all-zero after inserting a non-zero leaf")
	}

	gotRoot, err := tree.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if gotRoot != root {
		t.Fatalf("Root() = %x, want the root Update returned (%x)", gotRoot.Bytes(), root.Bytes())
	}
}

func TestUpdateIsIdempotentForTheSameValue(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)
	key := hasher.H256{3}
	value := hasher.H256{4}

	r1, err := tree.Update(ctx, key, value)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := tree.Update(ctx, key, value)
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Fatalf("writing the same (key, value) twice changed the root: %x != %x", r1.Bytes(), r2.Bytes())
	}
}

func TestDeletingTheOnlyLeafRestoresTheZeroRoot(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)
	key := hasher.H256{5}

	if _, err := tree.Update(ctx, key, hasher.H256{6}); err != nil {
		t.Fatal(err)
	}
	root, err := tree.Update(ctx, key, hasher.H256{}) // zero value == delete
	if err != nil {
		t.Fatal(err)
	}
	if !root.IsZero() {
		t.Fatalf("root after deleting the only leaf = %x, want all-zero", root.Bytes())
	}
}

func TestUpdateAllLaterPairWinsOnDuplicateKey(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)
	key := hasher.H256{7}

	rootDup, err := tree.UpdateAll(ctx, []Pair{
		{Key: key, Value: hasher.H256{1}},
		{Key: key, Value: hasher.H256{2}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tree2, _ := newTestTree(t)
	rootDirect, err := tree2.Update(ctx, key, hasher.H256{2})
	if err != nil {
		t.Fatal(err)
	}

	if rootDup != rootDirect {
		t.Fatalf("UpdateAll with a duplicate key = %x, want the same root as applying only the last write (%x)", rootDup.Bytes(), rootDirect.Bytes())
	}
}

func TestUpdateAllOrderMatchesSequentialUpdates(t *testing.T) {
	ctx := context.Background()
	pairs := []Pair{
		{Key: hasher.H256{1}, Value: hasher.H256{10}},
		{Key: hasher.H256{2}, Value: hasher.H256{20}},
		{Key: hasher.H256{3}, Value: hasher.H256{30}},
	}

	batched, _ := newTestTree(t)
	batchedRoot, err := batched.UpdateAll(ctx, pairs)
	if err != nil {
		t.Fatal(err)
	}

	sequential, _ := newTestTree(t)
	var sequentialRoot hasher.H256
	for _, p := range pairs {
		sequentialRoot, err = sequential.Update(ctx, p.Key, p.Value)
		if err != nil {
			t.Fatal(err)
		}
	}

	if batchedRoot != sequentialRoot {
		t.Fatalf("UpdateAll root = %x, want the same as applying each pair via Update in order (%x)", batchedRoot.Bytes(), sequentialRoot.Bytes())
	}
}

func TestMerkleProofOfAbsentKeyUsesEmptySubtreeHashes(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)
	if _, err := tree.Update(ctx, hasher.H256{1}, hasher.H256{2}); err != nil {
		t.Fatal(err)
	}

	proof, err := tree.MerkleProof(ctx, []LeafKey{{0xFF}})
	if err != nil {
		t.Fatal(err)
	}
	if !proof.Values[0].IsZero() {
		t.Fatalf("absent key's proof value = %x, want all-zero", proof.Values[0].Bytes())
	}
}

func TestProofRoundTripVerifiesAgainstRoot(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)

	pairs := []Pair{
		{Key: hasher.H256{1}, Value: hasher.H256{0x10}},
		{Key: hasher.H256{2}, Value: hasher.H256{0x20}},
	}
	root, err := tree.UpdateAll(ctx, pairs)
	if err != nil {
		t.Fatal(err)
	}

	keys := []LeafKey{pairs[0].Key, pairs[1].Key}
	proof, err := tree.MerkleProof(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}
	compiled := proof.Compile()

	ok, err := Verify(root, pairs, compiled)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for a proof compiled against the tree's own root and pairs")
	}
}

func TestProofRoundTripFailsWithAlteredValue(t *testing.T) {
	ctx := context.Background()
	tree, _ := newTestTree(t)
	pair := Pair{Key: hasher.H256{1}, Value: hasher.H256{0x10}}
	root, err := tree.Update(ctx, pair.Key, pair.Value)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.MerkleProof(ctx, []LeafKey{pair.Key})
	if err != nil {
		t.Fatal(err)
	}
	compiled := proof.Compile()

	tampered := []Pair{{Key: pair.Key, Value: hasher.H256{0x11}}}
	ok, err := Verify(root, tampered, compiled)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Verify returned true for a tampered value")
	}
}

func TestUpdateOnReadOnlyTreeFails(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	snap, err := store.NewSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()

	tree := New(snap, []byte("t"))
	if _, err := tree.Update(ctx, hasher.H256{1}, hasher.H256{2}); err != ErrReadOnly {
		t.Fatalf("Update on a read-only Tree returned %v, want ErrReadOnly", err)
	}
}
