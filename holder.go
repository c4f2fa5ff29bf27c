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

package transactions

import (
	"sync"
	"sync/atomic"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
)

// ResourceHolder pairs an in-flight attempt with the bookkeeping kept by the
// coordination layer for it.  A holder is created for every invocation of a
// transaction body and discarded once that invocation returns; a retry always
// gets a new holder with an empty staged set.
type ResourceHolder struct {
	handle store.AttemptHandle

	lock     sync.Mutex
	staged   map[store.LogicalKey]*store.StagedResult
	consumed bool
	failure  error

	released atomic.Bool
	ops      asyncWaitGroup
}

func newResourceHolder(handle store.AttemptHandle) *ResourceHolder {
	return &ResourceHolder{
		handle: handle,
		staged: make(map[store.LogicalKey]*store.StagedResult),
	}
}

// AttemptID returns the id of the attempt this holder belongs to.
func (h *ResourceHolder) AttemptID() string {
	return h.handle.ID()
}

// TransactionID returns the id shared by every attempt of the transaction.
func (h *ResourceHolder) TransactionID() string {
	return h.handle.TransactionID()
}

// Handle returns the underlying store attempt.
func (h *ResourceHolder) Handle() store.AttemptHandle {
	return h.handle
}

// StagedCount returns the number of keys with a staged result.
func (h *ResourceHolder) StagedCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return len(h.staged)
}

// Consumed indicates whether any staged result has been read back.
func (h *ResourceHolder) Consumed() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.consumed
}

// Released indicates the invocation owning this holder has returned.
func (h *ResourceHolder) Released() bool {
	return h.released.Load()
}

// Failure returns the first operation failure recorded against the attempt.
func (h *ResourceHolder) Failure() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.failure
}

func (h *ResourceHolder) stagedResult(key store.LogicalKey) (*store.StagedResult, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	res, ok := h.staged[key]
	if ok {
		h.consumed = true
	}
	return res, ok
}

func (h *ResourceHolder) record(res *store.StagedResult) {
	h.lock.Lock()
	h.staged[res.Key] = res
	h.lock.Unlock()
}

// fail records err as the reason this attempt may no longer commit.  Only
// the first failure is kept.
func (h *ResourceHolder) fail(err error) {
	h.lock.Lock()
	if h.failure == nil {
		h.failure = err
	}
	h.lock.Unlock()
}

func (h *ResourceHolder) checkUsable() error {
	if h.released.Load() {
		return ErrAttemptReleased
	}
	return nil
}

func (h *ResourceHolder) release() {
	h.released.Store(true)

	h.lock.Lock()
	h.staged = make(map[store.LogicalKey]*store.StagedResult)
	h.lock.Unlock()
}
