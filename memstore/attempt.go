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

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"go.uber.org/zap"
)

type attemptState int

const (
	attemptStatePending = attemptState(iota)
	attemptStateCommitted
	attemptStateRolledBack
)

type stagedWrite struct {
	op    store.StagedMutationType
	value json.RawMessage
	cas   store.Cas
}

type attempt struct {
	store         *Store
	id            string
	transactionID string
	deadline      time.Time

	// state and staged are protected by the store lock.
	state  attemptState
	staged map[store.LogicalKey]*stagedWrite
}

func (a *attempt) ID() string {
	return a.id
}

func (a *attempt) TransactionID() string {
	return a.transactionID
}

// must be called with the store lock held.
func (a *attempt) checkUsableLocked(ctx context.Context) error {
	if a.state != attemptStatePending {
		return store.ErrAttemptNotPending
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.HasExpired(a.deadline) {
		return store.ErrAttemptExpired
	}
	return nil
}

func (a *attempt) result(key store.LogicalKey, sw *stagedWrite) *store.StagedResult {
	return &store.StagedResult{
		Key:       key,
		Type:      sw.op,
		Value:     sw.value,
		Cas:       sw.cas,
		AttemptID: a.id,
	}
}

func (a *attempt) Get(ctx context.Context, key store.LogicalKey) (*store.StagedResult, error) {
	if err := a.store.hooks.BeforeDocGet(key); err != nil {
		return nil, err
	}

	res, err := a.getLocked(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := a.store.hooks.AfterGetComplete(key); err != nil {
		return nil, err
	}

	return res, nil
}

func (a *attempt) getLocked(ctx context.Context, key store.LogicalKey) (*store.StagedResult, error) {
	s := a.store
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := a.checkUsableLocked(ctx); err != nil {
		return nil, err
	}

	if sw, ok := a.staged[key]; ok {
		if sw.op == store.StagedMutationRemove {
			return nil, store.ErrDocumentNotFound
		}
		return a.result(key, sw), nil
	}

	doc, ok := s.docs[key]
	if !ok || doc.tombstone {
		return nil, store.ErrDocumentNotFound
	}

	return &store.StagedResult{
		Key:       key,
		Value:     doc.body,
		Cas:       doc.cas,
		AttemptID: a.id,
	}, nil
}

func (a *attempt) Stage(ctx context.Context, mut store.Mutation) (*store.StagedResult, error) {
	var err error
	switch mut.Type {
	case store.StagedMutationInsert:
		err = a.store.hooks.BeforeStagedInsert(mut.Key)
	case store.StagedMutationReplace:
		err = a.store.hooks.BeforeStagedReplace(mut.Key)
	case store.StagedMutationRemove:
		err = a.store.hooks.BeforeStagedRemove(mut.Key)
	default:
		err = errors.New("invalid mutation type")
	}
	if err != nil {
		return nil, err
	}

	s := a.store
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := a.checkUsableLocked(ctx); err != nil {
		return nil, err
	}

	if existing, ok := a.staged[mut.Key]; ok {
		return a.restageLocked(existing, mut)
	}

	doc := s.docs[mut.Key]
	if doc != nil && doc.txn != nil && doc.txn.attemptID != a.id {
		return nil, store.ErrWriteWriteConflict
	}

	switch mut.Type {
	case store.StagedMutationInsert:
		if doc != nil && !doc.tombstone {
			return nil, store.ErrDocumentAlreadyExists
		}
		doc = &document{
			tombstone: true,
			cas:       s.nextCas(),
		}
		s.docs[mut.Key] = doc
	default:
		if doc == nil || doc.tombstone {
			return nil, store.ErrDocumentNotFound
		}
		if mut.Cas != 0 && mut.Cas != doc.cas {
			return nil, store.ErrCasMismatch
		}
	}

	doc.txn = &txnMeta{
		transactionID: a.transactionID,
		attemptID:     a.id,
		op:            mut.Type,
	}

	sw := &stagedWrite{
		op:  mut.Type,
		cas: doc.cas,
	}
	if mut.Type != store.StagedMutationRemove {
		sw.value = mut.Value
	}
	a.staged[mut.Key] = sw

	s.logger.Debug("staged mutation",
		zap.String("attempt", a.id),
		zap.Stringer("key", mut.Key),
		zap.Stringer("type", mut.Type))

	return a.result(mut.Key, sw), nil
}

// must be called with the store lock held.
func (a *attempt) restageLocked(existing *stagedWrite, mut store.Mutation) (*store.StagedResult, error) {
	s := a.store

	if existing.op != store.StagedMutationRemove && mut.Cas != 0 && mut.Cas != existing.cas {
		return nil, store.ErrCasMismatch
	}

	next, ok := store.Restage(existing.op, mut.Type)
	if !ok {
		if mut.Type == store.StagedMutationInsert {
			return nil, store.ErrDocumentAlreadyExists
		}
		return nil, store.ErrDocumentNotFound
	}

	doc := s.docs[mut.Key]
	if doc == nil || doc.txn == nil || doc.txn.attemptID != a.id {
		// Our marker was overwritten from outside the transaction.
		return nil, store.ErrWriteWriteConflict
	}

	if next == store.StagedMutationUnknown {
		doc.txn = nil
		if doc.tombstone {
			delete(s.docs, mut.Key)
		}
		delete(a.staged, mut.Key)

		return &store.StagedResult{
			Key:       mut.Key,
			Type:      store.StagedMutationRemove,
			AttemptID: a.id,
		}, nil
	}

	existing.op = next
	if next == store.StagedMutationRemove {
		existing.value = nil
	} else {
		existing.value = mut.Value
	}
	doc.txn.op = next

	return a.result(mut.Key, existing), nil
}

func (a *attempt) Commit(ctx context.Context) error {
	s := a.store

	if err := s.hooks.BeforeCommit(); err != nil {
		return err
	}

	s.lock.Lock()
	if err := a.checkUsableLocked(ctx); err != nil {
		s.lock.Unlock()
		return err
	}

	for key, sw := range a.staged {
		doc := s.docs[key]
		if doc == nil || doc.txn == nil || doc.txn.attemptID != a.id || doc.cas != sw.cas {
			s.lock.Unlock()
			return store.ErrWriteWriteConflict
		}
	}

	for key, sw := range a.staged {
		doc := s.docs[key]
		switch sw.op {
		case store.StagedMutationInsert, store.StagedMutationReplace:
			doc.body = sw.value
			doc.tombstone = false
			doc.cas = s.nextCas()
			doc.txn = nil
		case store.StagedMutationRemove:
			delete(s.docs, key)
		}
	}
	numDocs := len(a.staged)
	a.state = attemptStateCommitted
	s.lock.Unlock()

	s.logger.Debug("attempt committed",
		zap.String("attempt", a.id),
		zap.Int("docs", numDocs))

	if err := s.hooks.AfterDocsCommitted(); err != nil {
		s.logger.Debug("after commit hook failed", zap.String("attempt", a.id), zap.Error(err))
	}

	return nil
}

func (a *attempt) Rollback(ctx context.Context) error {
	s := a.store

	s.lock.Lock()
	if a.state != attemptStatePending {
		s.lock.Unlock()
		return nil
	}
	a.state = attemptStateRolledBack

	keys := make([]store.LogicalKey, 0, len(a.staged))
	for key := range a.staged {
		keys = append(keys, key)
	}
	s.lock.Unlock()

	for _, key := range keys {
		if err := s.hooks.BeforeDocRolledBack(key); err != nil {
			s.logger.Debug("rollback hook failed", zap.Stringer("key", key), zap.Error(err))
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, key := range keys {
		doc := s.docs[key]
		if doc == nil || doc.txn == nil || doc.txn.attemptID != a.id {
			continue
		}
		doc.txn = nil
		if doc.tombstone {
			delete(s.docs, key)
		}
	}
	a.staged = make(map[store.LogicalKey]*stagedWrite)

	return nil
}
