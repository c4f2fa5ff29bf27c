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

package memstore

import "github.com/couchbaselabs/gocbcore-txcoord/store"

// Hooks provides a number of internal hooks used for testing.
// Internal: This should never be used and is not supported.
//
// Hooks are invoked without any store lock held, so they may perform
// out-of-band writes against the Store to force conflicts.
type Hooks interface {
	BeforeDocGet(key store.LogicalKey) error
	AfterGetComplete(key store.LogicalKey) error
	BeforeStagedInsert(key store.LogicalKey) error
	BeforeStagedReplace(key store.LogicalKey) error
	BeforeStagedRemove(key store.LogicalKey) error
	BeforeQuery(collection string) error
	BeforeCommit() error
	AfterDocsCommitted() error
	BeforeDocRolledBack(key store.LogicalKey) error
}

// DefaultHooks is the no-op implementation of Hooks.  Tests embed it and
// override the hooks they need.
type DefaultHooks struct {
}

// BeforeDocGet is called before a document is read.
func (dh *DefaultHooks) BeforeDocGet(key store.LogicalKey) error {
	return nil
}

// AfterGetComplete is called once a document read has completed.
func (dh *DefaultHooks) AfterGetComplete(key store.LogicalKey) error {
	return nil
}

func (dh *DefaultHooks) BeforeStagedInsert(key store.LogicalKey) error {
	return nil
}

func (dh *DefaultHooks) BeforeStagedReplace(key store.LogicalKey) error {
	return nil
}

func (dh *DefaultHooks) BeforeStagedRemove(key store.LogicalKey) error {
	return nil
}

func (dh *DefaultHooks) BeforeQuery(collection string) error {
	return nil
}

// BeforeCommit is called before the staged writes of an attempt are validated.
func (dh *DefaultHooks) BeforeCommit() error {
	return nil
}

func (dh *DefaultHooks) AfterDocsCommitted() error {
	return nil
}

func (dh *DefaultHooks) BeforeDocRolledBack(key store.LogicalKey) error {
	return nil
}
