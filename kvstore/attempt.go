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

package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gocbcore "github.com/couchbase/gocbcore/v9"
	"github.com/couchbase/gocbcore/v9/memd"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"go.uber.org/zap"
)

type attemptState int

const (
	attemptStatePending = attemptState(iota)
	attemptStateCommitted
	attemptStateRolledBack
)

type stagedDoc struct {
	op    store.StagedMutationType
	value json.RawMessage
	cas   store.Cas
}

// attempt serializes its operations; each holds lock for the whole round
// trip to the agent.
type attempt struct {
	s    *Store
	id   string
	opts store.AttemptOptions

	lock      sync.Mutex
	state     attemptState
	staged    map[store.LogicalKey]*stagedDoc
	conflicts map[store.LogicalKey]struct{}
}

func (a *attempt) ID() string {
	return a.id
}

func (a *attempt) TransactionID() string {
	return a.opts.TransactionID
}

func (a *attempt) checkUsableLocked(ctx context.Context) error {
	if a.state != attemptStatePending {
		return store.ErrAttemptNotPending
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if store.HasExpired(a.opts.Deadline) {
		return store.ErrAttemptExpired
	}
	return nil
}

func (a *attempt) result(key store.LogicalKey, sd *stagedDoc) *store.StagedResult {
	return &store.StagedResult{
		Key:       key,
		Type:      sd.op,
		Value:     sd.value,
		Cas:       sd.cas,
		AttemptID: a.id,
	}
}

func (a *attempt) marker(op store.StagedMutationType, value json.RawMessage) ([]byte, error) {
	return json.Marshal(newTxnXattr(a.opts.TransactionID, a.id, a.opts.Deadline, a.opts.DurabilityLevel, op, value))
}

type fetchedDoc struct {
	body    json.RawMessage
	cas     store.Cas
	deleted bool
	txn     *jsonTxnXattr
}

func (a *attempt) fetch(ctx context.Context, key store.LogicalKey) (*fetchedDoc, error) {
	result, err := a.lookupIn(ctx, key, []gocbcore.SubDocOp{
		{
			Op:    memd.SubDocOpGet,
			Path:  txnXattrPath,
			Flags: memd.SubdocFlagXattrPath,
		},
		{
			Op:    memd.SubDocOpGetDoc,
			Path:  "",
			Flags: memd.SubdocFlagNone,
		},
	})
	if err != nil {
		return nil, translateError(err)
	}
	if len(result.Ops) != 2 {
		return nil, fmt.Errorf("%w: unexpected lookup result", store.ErrHard)
	}

	doc := &fetchedDoc{
		cas:     result.Cas,
		deleted: result.Internal.IsDeleted,
	}
	if result.Ops[0].Err == nil {
		var txn jsonTxnXattr
		if err := json.Unmarshal(result.Ops[0].Value, &txn); err != nil {
			return nil, err
		}
		doc.txn = &txn
	}
	if result.Ops[1].Err == nil {
		doc.body = result.Ops[1].Value
	}

	return doc, nil
}

func (a *attempt) Get(ctx context.Context, key store.LogicalKey) (*store.StagedResult, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if err := a.checkUsableLocked(ctx); err != nil {
		return nil, err
	}

	if sd, ok := a.staged[key]; ok {
		if sd.op == store.StagedMutationRemove {
			return nil, store.ErrDocumentNotFound
		}
		return a.result(key, sd), nil
	}

	doc, err := a.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	if doc.txn.blocks(a.id, time.Now()) {
		a.conflicts[key] = struct{}{}
	} else {
		delete(a.conflicts, key)
	}

	// A tombstone only carries somebody's staged insert.
	if doc.deleted || doc.body == nil {
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
	a.lock.Lock()
	defer a.lock.Unlock()

	if err := a.checkUsableLocked(ctx); err != nil {
		return nil, err
	}

	if existing, ok := a.staged[mut.Key]; ok {
		return a.restage(ctx, mut, existing)
	}

	var cas store.Cas
	var err error
	switch mut.Type {
	case store.StagedMutationInsert:
		cas, err = a.stageInsert(ctx, mut)
	case store.StagedMutationReplace, store.StagedMutationRemove:
		if _, ok := a.conflicts[mut.Key]; ok {
			return nil, store.ErrWriteWriteConflict
		}
		cas, err = a.stageWrite(ctx, mut.Key, mut.Cas, memd.SubdocDocFlagNone, mut.Type, mut.Value)
	default:
		return nil, fmt.Errorf("invalid mutation type %d", mut.Type)
	}
	if err != nil {
		a.s.logger.Debug("staging failed",
			zap.String("attempt", a.id),
			zap.Stringer("key", mut.Key),
			zap.Stringer("op", mut.Type),
			zap.Error(err))
		return nil, err
	}

	sd := &stagedDoc{
		op:    mut.Type,
		value: mut.Value,
		cas:   cas,
	}
	a.staged[mut.Key] = sd

	return a.result(mut.Key, sd), nil
}

func (a *attempt) stageWrite(ctx context.Context, key store.LogicalKey, cas store.Cas, flags memd.SubdocDocFlag,
	op store.StagedMutationType, value json.RawMessage) (store.Cas, error) {
	txnBytes, err := a.marker(op, value)
	if err != nil {
		return 0, err
	}

	result, err := a.mutateIn(ctx, key, cas, flags, []gocbcore.SubDocOp{
		{
			Op:    memd.SubDocOpDictSet,
			Path:  txnXattrPath,
			Flags: memd.SubdocFlagMkDirP | memd.SubdocFlagXattrPath,
			Value: txnBytes,
		},
	})
	if err != nil {
		return 0, translateError(err)
	}

	return result.Cas, nil
}

// stageInsert creates a tombstone carrying the marker.  A tombstone left by
// an abandoned attempt is taken over.
func (a *attempt) stageInsert(ctx context.Context, mut store.Mutation) (store.Cas, error) {
	txnBytes, err := a.marker(store.StagedMutationInsert, mut.Value)
	if err != nil {
		return 0, err
	}

	result, err := a.mutateIn(ctx, mut.Key, 0,
		memd.SubdocDocFlagCreateAsDeleted|memd.SubdocDocFlagAccessDeleted|memd.SubdocDocFlagAddDoc,
		[]gocbcore.SubDocOp{
			{
				Op:    memd.SubDocOpDictAdd,
				Path:  txnXattrPath,
				Flags: memd.SubdocFlagMkDirP | memd.SubdocFlagXattrPath,
				Value: txnBytes,
			},
		})
	if err == nil {
		return result.Cas, nil
	}
	if !errors.Is(err, gocbcore.ErrDocumentExists) {
		return 0, translateError(err)
	}

	doc, err := a.fetch(ctx, mut.Key)
	if err != nil {
		return 0, err
	}
	if !doc.deleted {
		return 0, store.ErrDocumentAlreadyExists
	}
	if doc.txn.blocks(a.id, time.Now()) {
		return 0, store.ErrWriteWriteConflict
	}

	return a.stageWrite(ctx, mut.Key, doc.cas, memd.SubdocDocFlagAccessDeleted, store.StagedMutationInsert, mut.Value)
}

func (a *attempt) restage(ctx context.Context, mut store.Mutation, existing *stagedDoc) (*store.StagedResult, error) {
	next, ok := store.Restage(existing.op, mut.Type)
	if !ok {
		if mut.Type == store.StagedMutationInsert {
			return nil, store.ErrDocumentAlreadyExists
		}
		return nil, store.ErrDocumentNotFound
	}

	flags := memd.SubdocDocFlagNone
	if existing.op == store.StagedMutationInsert {
		flags = memd.SubdocDocFlagAccessDeleted
	}

	if next == store.StagedMutationUnknown {
		if err := a.clearMarker(ctx, mut.Key, existing, flags); err != nil {
			return nil, err
		}
		delete(a.staged, mut.Key)
		return &store.StagedResult{
			Key:       mut.Key,
			Type:      store.StagedMutationRemove,
			AttemptID: a.id,
		}, nil
	}

	cas, err := a.stageWrite(ctx, mut.Key, existing.cas, flags, next, mut.Value)
	if err != nil {
		if errors.Is(err, store.ErrCasMismatch) {
			return nil, store.ErrWriteWriteConflict
		}
		return nil, err
	}

	existing.op = next
	existing.value = mut.Value
	existing.cas = cas

	return a.result(mut.Key, existing), nil
}

func (a *attempt) clearMarker(ctx context.Context, key store.LogicalKey, sd *stagedDoc, flags memd.SubdocDocFlag) error {
	_, err := a.mutateIn(ctx, key, sd.cas, flags, []gocbcore.SubDocOp{
		{
			Op:    memd.SubDocOpDelete,
			Path:  txnXattrPath,
			Flags: memd.SubdocFlagXattrPath,
		},
	})
	return translateError(err)
}

func (a *attempt) Query(ctx context.Context, q store.Query) ([]*store.StagedResult, error) {
	return nil, fmt.Errorf("%w: query of %s", store.ErrFeatureNotAvailable, q.Collection)
}

func (a *attempt) sortedKeys() []store.LogicalKey {
	keys := make([]store.LogicalKey, 0, len(a.staged))
	for key := range a.staged {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Commit checks every staged document still carries the cas this attempt
// left on it, then unstages them.  A failure part way through unstaging
// leaves the commit ambiguous.
func (a *attempt) Commit(ctx context.Context) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if err := a.checkUsableLocked(ctx); err != nil {
		return err
	}

	keys := a.sortedKeys()
	for _, key := range keys {
		doc, err := a.fetch(ctx, key)
		if err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
			return err
		}
		if err != nil || doc.cas != a.staged[key].cas {
			return store.ErrWriteWriteConflict
		}
	}

	for i, key := range keys {
		if err := a.unstage(ctx, key, a.staged[key]); err != nil {
			if i == 0 {
				return err
			}
			return fmt.Errorf("%w: unstaging %s: %v", store.ErrAmbiguous, key, err)
		}
	}

	a.state = attemptStateCommitted
	a.s.logger.Debug("attempt committed",
		zap.String("attempt", a.id),
		zap.Int("documents", len(keys)))

	return nil
}

func (a *attempt) unstage(ctx context.Context, key store.LogicalKey, sd *stagedDoc) error {
	var err error
	switch sd.op {
	case store.StagedMutationInsert:
		_, err = a.add(ctx, key, sd.value)
	case store.StagedMutationReplace:
		_, err = a.mutateIn(ctx, key, sd.cas, memd.SubdocDocFlagNone, []gocbcore.SubDocOp{
			{
				Op:    memd.SubDocOpDelete,
				Path:  txnXattrPath,
				Flags: memd.SubdocFlagXattrPath,
			},
			{
				Op:    memd.SubDocOpSetDoc,
				Path:  "",
				Value: sd.value,
			},
		})
	case store.StagedMutationRemove:
		_, err = a.delete(ctx, key, sd.cas)
	}
	return translateError(err)
}

// Rollback clears every marker this attempt left.  It is idempotent, and a
// no-op once the attempt has committed.
func (a *attempt) Rollback(ctx context.Context) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.state != attemptStatePending {
		return nil
	}
	a.state = attemptStateRolledBack

	// Markers are cleared even when the caller's context is already done.
	ctx = context.WithoutCancel(ctx)

	var firstErr error
	for _, key := range a.sortedKeys() {
		sd := a.staged[key]

		flags := memd.SubdocDocFlagNone
		if sd.op == store.StagedMutationInsert {
			flags = memd.SubdocDocFlagAccessDeleted
		}

		if err := a.clearMarker(ctx, key, sd, flags); err != nil {
			a.s.logger.Debug("failed to clear marker",
				zap.String("attempt", a.id),
				zap.Stringer("key", key),
				zap.Error(err))
			if firstErr == nil && !errors.Is(err, store.ErrCasMismatch) && !errors.Is(err, store.ErrDocumentNotFound) {
				firstErr = err
			}
		}
	}
	a.staged = make(map[store.LogicalKey]*stagedDoc)

	return firstErr
}
