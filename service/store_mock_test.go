package service

// Hand-written gomock-style mocks for storage.Store/storage.Txn, used to
// exercise error paths (store unavailable, transaction conflict) that
// the real backends don't hit deterministically. Written by hand rather
// than through mockgen, following the same gomock.Controller/Call
// pattern mockgen-generated mocks use.

import (
	"context"
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/opensmt/smtd/hasher"
	"github.com/opensmt/smtd/storage"
)

// MockStore is a gomock-based mock of storage.Store.
type MockStore struct {
	ctrl     *gomock.Controller
	recorder *MockStoreRecorder
}

type MockStoreRecorder struct {
	mock *MockStore
}

func NewMockStore(ctrl *gomock.Controller) *MockStore {
	m := &MockStore{ctrl: ctrl}
	m.recorder = &MockStoreRecorder{mock: m}
	return m
}

func (m *MockStore) EXPECT() *MockStoreRecorder { return m.recorder }

func (m *MockStore) BeginTxn(ctx context.Context) (storage.Txn, error) {
	ret := m.ctrl.Call(m, "BeginTxn", ctx)
	txn, _ := ret[0].(storage.Txn)
	err, _ := ret[1].(error)
	return txn, err
}

func (mr *MockStoreRecorder) BeginTxn(ctx interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "BeginTxn", reflect.TypeOf((*MockStore)(nil).BeginTxn), ctx)
}

func (m *MockStore) NewSnapshot(ctx context.Context) (storage.Snapshot, error) {
	ret := m.ctrl.Call(m, "NewSnapshot", ctx)
	snap, _ := ret[0].(storage.Snapshot)
	err, _ := ret[1].(error)
	return snap, err
}

func (mr *MockStoreRecorder) NewSnapshot(ctx interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NewSnapshot", reflect.TypeOf((*MockStore)(nil).NewSnapshot), ctx)
}

func (m *MockStore) Close() error {
	ret := m.ctrl.Call(m, "Close")
	err, _ := ret[0].(error)
	return err
}

func (mr *MockStoreRecorder) Close() *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockStore)(nil).Close))
}

// MockTxn is a gomock-based mock of storage.Txn.
type MockTxn struct {
	ctrl     *gomock.Controller
	recorder *MockTxnRecorder
}

type MockTxnRecorder struct {
	mock *MockTxn
}

func NewMockTxn(ctrl *gomock.Controller) *MockTxn {
	m := &MockTxn{ctrl: ctrl}
	m.recorder = &MockTxnRecorder{mock: m}
	return m
}

func (m *MockTxn) EXPECT() *MockTxnRecorder { return m.recorder }

func (m *MockTxn) GetRoot(ctx context.Context, prefix []byte) (hasher.H256, error) {
	ret := m.ctrl.Call(m, "GetRoot", ctx, prefix)
	h, _ := ret[0].(hasher.H256)
	err, _ := ret[1].(error)
	return h, err
}

func (mr *MockTxnRecorder) GetRoot(ctx, prefix interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetRoot", reflect.TypeOf((*MockTxn)(nil).GetRoot), ctx, prefix)
}

func (m *MockTxn) PutRoot(ctx context.Context, prefix []byte, root hasher.H256) error {
	ret := m.ctrl.Call(m, "PutRoot", ctx, prefix, root)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) PutRoot(ctx, prefix, root interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PutRoot", reflect.TypeOf((*MockTxn)(nil).PutRoot), ctx, prefix, root)
}

func (m *MockTxn) GetLeaf(ctx context.Context, prefix []byte, key hasher.H256) (hasher.H256, bool, error) {
	ret := m.ctrl.Call(m, "GetLeaf", ctx, prefix, key)
	v, _ := ret[0].(hasher.H256)
	ok, _ := ret[1].(bool)
	err, _ := ret[2].(error)
	return v, ok, err
}

func (mr *MockTxnRecorder) GetLeaf(ctx, prefix, key interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetLeaf", reflect.TypeOf((*MockTxn)(nil).GetLeaf), ctx, prefix, key)
}

func (m *MockTxn) GetBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) (storage.BranchNode, bool, error) {
	ret := m.ctrl.Call(m, "GetBranch", ctx, prefix, bk)
	n, _ := ret[0].(storage.BranchNode)
	ok, _ := ret[1].(bool)
	err, _ := ret[2].(error)
	return n, ok, err
}

func (mr *MockTxnRecorder) GetBranch(ctx, prefix, bk interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetBranch", reflect.TypeOf((*MockTxn)(nil).GetBranch), ctx, prefix, bk)
}

func (m *MockTxn) IterateLeaves(ctx context.Context, prefix []byte, fn func(key, value hasher.H256) (bool, error)) error {
	ret := m.ctrl.Call(m, "IterateLeaves", ctx, prefix, fn)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) IterateLeaves(ctx, prefix, fn interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "IterateLeaves", reflect.TypeOf((*MockTxn)(nil).IterateLeaves), ctx, prefix, fn)
}

func (m *MockTxn) PutLeaf(ctx context.Context, prefix []byte, key, value hasher.H256) error {
	ret := m.ctrl.Call(m, "PutLeaf", ctx, prefix, key, value)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) PutLeaf(ctx, prefix, key, value interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PutLeaf", reflect.TypeOf((*MockTxn)(nil).PutLeaf), ctx, prefix, key, value)
}

func (m *MockTxn) DeleteLeaf(ctx context.Context, prefix []byte, key hasher.H256) error {
	ret := m.ctrl.Call(m, "DeleteLeaf", ctx, prefix, key)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) DeleteLeaf(ctx, prefix, key interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DeleteLeaf", reflect.TypeOf((*MockTxn)(nil).DeleteLeaf), ctx, prefix, key)
}

func (m *MockTxn) PutBranch(ctx context.Context, prefix []byte, bk storage.BranchKey, node storage.BranchNode) error {
	ret := m.ctrl.Call(m, "PutBranch", ctx, prefix, bk, node)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) PutBranch(ctx, prefix, bk, node interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "PutBranch", reflect.TypeOf((*MockTxn)(nil).PutBranch), ctx, prefix, bk, node)
}

func (m *MockTxn) DeleteBranch(ctx context.Context, prefix []byte, bk storage.BranchKey) error {
	ret := m.ctrl.Call(m, "DeleteBranch", ctx, prefix, bk)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) DeleteBranch(ctx, prefix, bk interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DeleteBranch", reflect.TypeOf((*MockTxn)(nil).DeleteBranch), ctx, prefix, bk)
}

func (m *MockTxn) Commit(ctx context.Context) error {
	ret := m.ctrl.Call(m, "Commit", ctx)
	err, _ := ret[0].(error)
	return err
}

func (mr *MockTxnRecorder) Commit(ctx interface{}) *gomock.Call {
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Commit", reflect.TypeOf((*MockTxn)(nil).Commit), ctx)
}
