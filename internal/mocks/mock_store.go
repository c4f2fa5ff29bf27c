// Copyright 2021 Couchbase
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mocks of the store interfaces (Store, AttemptHandle) in the layout mockgen emits.
// Running go generate in ./store replaces this file with its generated form.

// Package mocks holds gomock mocks of the store and kvstore interfaces.
package mocks

import (
	context "context"
	reflect "reflect"

	store "github.com/couchbaselabs/gocbcore-txcoord/store"
	gomock "go.uber.org/mock/gomock"
)

// MockAttemptHandle is a mock of AttemptHandle interface.
type MockAttemptHandle struct {
	ctrl     *gomock.Controller
	recorder *MockAttemptHandleMockRecorder
}

// MockAttemptHandleMockRecorder is the mock recorder for MockAttemptHandle.
type MockAttemptHandleMockRecorder struct {
	mock *MockAttemptHandle
}

// NewMockAttemptHandle creates a new mock instance.
func NewMockAttemptHandle(ctrl *gomock.Controller) *MockAttemptHandle {
	mock := &MockAttemptHandle{ctrl: ctrl}
	mock.recorder = &MockAttemptHandleMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockAttemptHandle) EXPECT() *MockAttemptHandleMockRecorder {
	return m.recorder
}

// Commit mocks base method.
func (m *MockAttemptHandle) Commit(arg0 context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Commit", arg0)
	ret0, _ := ret[0].(error)
	return ret0
}

// Commit indicates an expected call of Commit.
func (mr *MockAttemptHandleMockRecorder) Commit(arg0 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Commit", reflect.TypeOf((*MockAttemptHandle)(nil).Commit), arg0)
}

// Get mocks base method.
func (m *MockAttemptHandle) Get(arg0 context.Context, arg1 store.LogicalKey) (*store.StagedResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Get", arg0, arg1)
	ret0, _ := ret[0].(*store.StagedResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Get indicates an expected call of Get.
func (mr *MockAttemptHandleMockRecorder) Get(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Get", reflect.TypeOf((*MockAttemptHandle)(nil).Get), arg0, arg1)
}

// ID mocks base method.
func (m *MockAttemptHandle) ID() string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ID")
	ret0, _ := ret[0].(string)
	return ret0
}

// ID indicates an expected call of ID.
func (mr *MockAttemptHandleMockRecorder) ID() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ID", reflect.TypeOf((*MockAttemptHandle)(nil).ID))
}

// Query mocks base method.
func (m *MockAttemptHandle) Query(arg0 context.Context, arg1 store.Query) ([]*store.StagedResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Query", arg0, arg1)
	ret0, _ := ret[0].([]*store.StagedResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Query indicates an expected call of Query.
func (mr *MockAttemptHandleMockRecorder) Query(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Query", reflect.TypeOf((*MockAttemptHandle)(nil).Query), arg0, arg1)
}

// Rollback mocks base method.
func (m *MockAttemptHandle) Rollback(arg0 context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Rollback", arg0)
	ret0, _ := ret[0].(error)
	return ret0
}

// Rollback indicates an expected call of Rollback.
func (mr *MockAttemptHandleMockRecorder) Rollback(arg0 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Rollback", reflect.TypeOf((*MockAttemptHandle)(nil).Rollback), arg0)
}

// Stage mocks base method.
func (m *MockAttemptHandle) Stage(arg0 context.Context, arg1 store.Mutation) (*store.StagedResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Stage", arg0, arg1)
	ret0, _ := ret[0].(*store.StagedResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Stage indicates an expected call of Stage.
func (mr *MockAttemptHandleMockRecorder) Stage(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Stage", reflect.TypeOf((*MockAttemptHandle)(nil).Stage), arg0, arg1)
}

// TransactionID mocks base method.
func (m *MockAttemptHandle) TransactionID() string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TransactionID")
	ret0, _ := ret[0].(string)
	return ret0
}

// TransactionID indicates an expected call of TransactionID.
func (mr *MockAttemptHandleMockRecorder) TransactionID() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TransactionID", reflect.TypeOf((*MockAttemptHandle)(nil).TransactionID))
}

// MockStore is a mock of Store interface.
type MockStore struct {
	ctrl     *gomock.Controller
	recorder *MockStoreMockRecorder
}

// MockStoreMockRecorder is the mock recorder for MockStore.
type MockStoreMockRecorder struct {
	mock *MockStore
}

// NewMockStore creates a new mock instance.
func NewMockStore(ctrl *gomock.Controller) *MockStore {
	mock := &MockStore{ctrl: ctrl}
	mock.recorder = &MockStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockStore) EXPECT() *MockStoreMockRecorder {
	return m.recorder
}

// BeginAttempt mocks base method.
func (m *MockStore) BeginAttempt(arg0 context.Context, arg1 store.AttemptOptions) (store.AttemptHandle, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "BeginAttempt", arg0, arg1)
	ret0, _ := ret[0].(store.AttemptHandle)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// BeginAttempt indicates an expected call of BeginAttempt.
func (mr *MockStoreMockRecorder) BeginAttempt(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "BeginAttempt", reflect.TypeOf((*MockStore)(nil).BeginAttempt), arg0, arg1)
}

// RunWithRetry mocks base method.
func (m *MockStore) RunWithRetry(arg0 context.Context, arg1 store.AttemptOptions, arg2 store.AttemptFunc) (*store.RunResult, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RunWithRetry", arg0, arg1, arg2)
	ret0, _ := ret[0].(*store.RunResult)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// RunWithRetry indicates an expected call of RunWithRetry.
func (mr *MockStoreMockRecorder) RunWithRetry(arg0, arg1, arg2 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RunWithRetry", reflect.TypeOf((*MockStore)(nil).RunWithRetry), arg0, arg1, arg2)
}
