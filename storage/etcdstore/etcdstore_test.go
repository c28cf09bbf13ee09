package etcdstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
)

// TestMain boots a single embedded etcd server for the whole package,
// matching the self-contained-binary deployment this backend is meant
// for (see cmd/smtd). Each test uses its own tree prefix so tests never
// see each other's writes.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "smtd-etcdstore-test-*")
	if err != nil {
		fmt.Fprintln(os.Stderr, "etcdstore test: MkdirTemp:", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	cfg := embed.NewConfig()
	cfg.Dir = dir
	cfg.LogLevel = "error"

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "etcdstore test: StartEtcd:", err)
		os.Exit(1)
	}
	defer e.Close()

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(60 * time.Second):
		fmt.Fprintln(os.Stderr, "etcdstore test: embedded etcd did not become ready")
		os.Exit(1)
	}

	endpoints := make([]string, 0, len(cfg.ListenClientUrls))
	for _, u := range cfg.ListenClientUrls {
		endpoints = append(endpoints, u.String())
	}
	client, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintln(os.Stderr, "etcdstore test: clientv3.New:", err)
		os.Exit(1)
	}
	defer client.Close()

	testClient = client
	os.Exit(m.Run())
}

var testClient *clientv3.Client

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(testClient)
}

func testPrefix(t *testing.T) []byte {
	t.Helper()
	prefix, err := storage.TreePrefix([]byte(t.Name()))
	if err != nil {
		t.Fatal(err)
	}
	return prefix
}

func TestTxnCommitPersistsWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prefix := testPrefix(t)

	txn, err := store.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	root := hasher.H256{1, 2, 3}
	if err := txn.PutRoot(ctx, prefix, root); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := store.NewSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()
	got, err := snap.GetRoot(ctx, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Fatalf("GetRoot after commit = %x, want %x", got.Bytes(), root.Bytes())
	}
}

func TestConflictingTxnsAbortOptimistically(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prefix := testPrefix(t)

	seed, err := store.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.PutRoot(ctx, prefix, hasher.H256{1}); err != nil {
		t.Fatal(err)
	}
	if err := seed.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	txnA, err := store.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txnA.GetRoot(ctx, prefix); err != nil {
		t.Fatal(err)
	}

	txnB, err := store.BeginTxn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := txnB.GetRoot(ctx, prefix); err != nil {
		t.Fatal(err)
	}
	if err := txnB.PutRoot(ctx, prefix, hasher.H256{2}); err != nil {
		t.Fatal(err)
	}
	if err := txnB.Commit(ctx); err != nil {
		t.Fatalf("txnB.Commit: %v", err)
	}

	if err := txnA.PutRoot(ctx, prefix, hasher.H256{3}); err != nil {
		t.Fatal(err)
	}
	err = txnA.Commit(ctx)
	if err != storage.ErrTransactionConflict {
		t.Fatalf("txnA.Commit after txnB already wrote the same key = %v, want ErrTransactionConflict", err)
	}
}

func TestSnapshotReadsAreConsistentAsOfSnapshotTime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prefix := testPrefix(t)

	seed, _ := store.BeginTxn(ctx)
	if err := seed.PutRoot(ctx, prefix, hasher.H256{1}); err != nil {
		t.Fatal(err)
	}
	if err := seed.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	snap, err := store.NewSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()

	later, _ := store.BeginTxn(ctx)
	if err := later.PutRoot(ctx, prefix, hasher.H256{2}); err != nil {
		t.Fatal(err)
	}
	if err := later.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := snap.GetRoot(ctx, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if got != (hasher.H256{1}) {
		t.Fatalf("snapshot root = %x, want the value as of snapshot time (%x)", got.Bytes(), (hasher.H256{1}).Bytes())
	}
}

func TestIterateLeavesIsScopedToPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	prefix := testPrefix(t)

	txn, _ := store.BeginTxn(ctx)
	keys := []hasher.H256{{3}, {1}, {2}}
	for _, k := range keys {
		if err := txn.PutLeaf(ctx, prefix, k, hasher.H256{0xFF}); err != nil {
			t.Fatal(err)
		}
	}
	otherPrefix, prefixErr := storage.TreePrefix([]byte(t.Name() + "-other"))
	if prefixErr != nil {
		t.Fatal(prefixErr)
	}
	if err := txn.PutLeaf(ctx, otherPrefix, hasher.H256{1}, hasher.H256{0xEE}); err != nil {
		t.Fatal(err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	var got []hasher.H256
	err := txn.IterateLeaves(ctx, prefix, func(key, _ hasher.H256) (bool, error) {
		got = append(got, key)
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d leaves, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if bytesCompare(got[i-1], got[i]) >= 0 {
			t.Fatalf("leaves not in ascending order: %x then %x", got[i-1].Bytes(), got[i].Bytes())
		}
	}
}

func bytesCompare(a, b hasher.H256) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
