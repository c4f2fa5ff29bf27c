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

// Package memstore implements an in-memory document store able to run
// optimistic transaction attempts.  Staged writes are marked on the document
// itself, the same way a key-value store carries transactional metadata
// alongside the document body, and become visible atomically on commit.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config is used to configure a Store.
type Config struct {
	// Logger receives store level logging.  Defaults to a no-op logger.
	Logger *zap.Logger

	// Hooks are used for testing only.
	Hooks Hooks
}

type txnMeta struct {
	transactionID string
	attemptID     string
	op            store.StagedMutationType
}

type document struct {
	body json.RawMessage
	cas  store.Cas

	// tombstone is set for documents which only exist to carry a staged
	// insert.  They are invisible to readers.
	tombstone bool

	txn *txnMeta
}

// Store is an in-memory store.Store.
type Store struct {
	lock   sync.Mutex
	docs   map[store.LogicalKey]*document
	casSeq uint64

	hooks  Hooks
	logger *zap.Logger

	filters *filterCache
}

var _ store.Store = (*Store)(nil)

// New creates a new empty Store.
func New(config *Config) *Store {
	if config == nil {
		config = &Config{}
	}

	s := &Store{
		docs:    make(map[store.LogicalKey]*document),
		hooks:   config.Hooks,
		logger:  config.Logger,
		filters: newFilterCache(),
	}
	if s.hooks == nil {
		s.hooks = &DefaultHooks{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("memstore")

	return s
}

// must be called with the lock held.
func (s *Store) nextCas() store.Cas {
	s.casSeq++
	return store.Cas(s.casSeq)
}

// BeginAttempt starts a new attempt against the store.
func (s *Store) BeginAttempt(ctx context.Context, opts store.AttemptOptions) (store.AttemptHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.TransactionID == "" {
		opts.TransactionID = uuid.New().String()
	}

	return &attempt{
		store:         s,
		id:            uuid.New().String(),
		transactionID: opts.TransactionID,
		deadline:      opts.Deadline,
		staged:        make(map[store.LogicalKey]*stagedWrite),
	}, nil
}

// RunWithRetry runs fn inside attempts until one commits, the transaction
// expires or fn fails with an error which is not retryable.
func (s *Store) RunWithRetry(ctx context.Context, opts store.AttemptOptions, fn store.AttemptFunc) (*store.RunResult, error) {
	return store.RunAttempts(ctx, s, opts, fn, s.logger)
}

// Upsert writes a document outside of any transaction, discarding any staged
// transactional metadata it carried.
func (s *Store) Upsert(key store.LogicalKey, value interface{}) (store.Cas, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	doc := &document{
		body: body,
		cas:  s.nextCas(),
	}
	s.docs[key] = doc

	return doc.cas, nil
}

// Fetch reads the committed state of a document outside of any transaction.
func (s *Store) Fetch(key store.LogicalKey) (json.RawMessage, store.Cas, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	doc, ok := s.docs[key]
	if !ok || doc.tombstone {
		return nil, 0, store.ErrDocumentNotFound
	}

	return doc.body, doc.cas, nil
}

// Delete removes a document outside of any transaction.
func (s *Store) Delete(key store.LogicalKey) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	doc, ok := s.docs[key]
	if !ok || doc.tombstone {
		return store.ErrDocumentNotFound
	}
	delete(s.docs, key)

	return nil
}

// Keys lists the committed documents of a collection, in id order.
func (s *Store) Keys(collection string) []store.LogicalKey {
	s.lock.Lock()
	defer s.lock.Unlock()

	var keys []store.LogicalKey
	for key, doc := range s.docs {
		if key.Collection == collection && !doc.tombstone {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ID < keys[j].ID
	})

	return keys
}

// StagedCount returns the number of documents currently carrying staged
// transactional metadata.  A quiescent store always reports zero.
func (s *Store) StagedCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	count := 0
	for _, doc := range s.docs {
		if doc.txn != nil {
			count++
		}
	}
	return count
}
