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

// Mock of the kvstore Agent interface in the layout mockgen emits.
// Running go generate in ./kvstore replaces this file with its generated form.

package mocks

import (
	reflect "reflect"

	gocbcore "github.com/couchbase/gocbcore/v9"
	gomock "go.uber.org/mock/gomock"
)

// MockAgent is a mock of Agent interface.
type MockAgent struct {
	ctrl     *gomock.Controller
	recorder *MockAgentMockRecorder
}

// MockAgentMockRecorder is the mock recorder for MockAgent.
type MockAgentMockRecorder struct {
	mock *MockAgent
}

// NewMockAgent creates a new mock instance.
func NewMockAgent(ctrl *gomock.Controller) *MockAgent {
	mock := &MockAgent{ctrl: ctrl}
	mock.recorder = &MockAgentMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockAgent) EXPECT() *MockAgentMockRecorder {
	return m.recorder
}

// Add mocks base method.
func (m *MockAgent) Add(arg0 gocbcore.AddOptions, arg1 gocbcore.StoreCallback) (gocbcore.PendingOp, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Add", arg0, arg1)
	ret0, _ := ret[0].(gocbcore.PendingOp)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Add indicates an expected call of Add.
func (mr *MockAgentMockRecorder) Add(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Add", reflect.TypeOf((*MockAgent)(nil).Add), arg0, arg1)
}

// BucketName mocks base method.
func (m *MockAgent) BucketName() string {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "BucketName")
	ret0, _ := ret[0].(string)
	return ret0
}

// BucketName indicates an expected call of BucketName.
func (mr *MockAgentMockRecorder) BucketName() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "BucketName", reflect.TypeOf((*MockAgent)(nil).BucketName))
}

// Delete mocks base method.
func (m *MockAgent) Delete(arg0 gocbcore.DeleteOptions, arg1 gocbcore.DeleteCallback) (gocbcore.PendingOp, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Delete", arg0, arg1)
	ret0, _ := ret[0].(gocbcore.PendingOp)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Delete indicates an expected call of Delete.
func (mr *MockAgentMockRecorder) Delete(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Delete", reflect.TypeOf((*MockAgent)(nil).Delete), arg0, arg1)
}

// LookupIn mocks base method.
func (m *MockAgent) LookupIn(arg0 gocbcore.LookupInOptions, arg1 gocbcore.LookupInCallback) (gocbcore.PendingOp, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "LookupIn", arg0, arg1)
	ret0, _ := ret[0].(gocbcore.PendingOp)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// LookupIn indicates an expected call of LookupIn.
func (mr *MockAgentMockRecorder) LookupIn(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "LookupIn", reflect.TypeOf((*MockAgent)(nil).LookupIn), arg0, arg1)
}

// MutateIn mocks base method.
func (m *MockAgent) MutateIn(arg0 gocbcore.MutateInOptions, arg1 gocbcore.MutateInCallback) (gocbcore.PendingOp, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MutateIn", arg0, arg1)
	ret0, _ := ret[0].(gocbcore.PendingOp)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// MutateIn indicates an expected call of MutateIn.
func (mr *MockAgentMockRecorder) MutateIn(arg0, arg1 any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MutateIn", reflect.TypeOf((*MockAgent)(nil).MutateIn), arg0, arg1)
}
