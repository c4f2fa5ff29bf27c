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
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountKey(id string) store.LogicalKey {
	return store.LogicalKey{Collection: "accounts", ID: id}
}

func mustBegin(t *testing.T, s *Store) store.AttemptHandle {
	h, err := s.BeginAttempt(context.Background(), store.AttemptOptions{
		TransactionID: "txn-1",
		Deadline:      time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	return h
}

func TestInsertVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	h := mustBegin(t, s)

	_, err := h.Stage(ctx, store.Mutation{
		Type:  store.StagedMutationInsert,
		Key:   accountKey("a"),
		Value: json.RawMessage(`{"balance":10}`),
	})
	require.NoError(t, err)

	_, _, err = s.Fetch(accountKey("a"))
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
	assert.Equal(t, 1, s.StagedCount())

	own, err := h.Get(ctx, accountKey("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":10}`, string(own.Value))
	assert.Equal(t, store.StagedMutationInsert, own.Type)

	require.NoError(t, h.Commit(ctx))

	body, _, err := s.Fetch(accountKey("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":10}`, string(body))
	assert.Equal(t, 0, s.StagedCount())
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.Upsert(accountKey("a"), map[string]int{"balance": 10})
	require.NoError(t, err)

	h := mustBegin(t, s)
	got, err := h.Get(ctx, accountKey("a"))
	require.NoError(t, err)

	_, err = h.Stage(ctx, store.Mutation{
		Type:  store.StagedMutationReplace,
		Key:   accountKey("a"),
		Value: json.RawMessage(`{"balance":0}`),
		Cas:   got.Cas,
	})
	require.NoError(t, err)
	_, err = h.Stage(ctx, store.Mutation{
		Type:  store.StagedMutationInsert,
		Key:   accountKey("b"),
		Value: json.RawMessage(`{"balance":10}`),
	})
	require.NoError(t, err)

	require.NoError(t, h.Rollback(ctx))
	require.NoError(t, h.Rollback(ctx))

	body, cas, err := s.Fetch(accountKey("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":10}`, string(body))
	assert.Equal(t, got.Cas, cas)

	_, _, err = s.Fetch(accountKey("b"))
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
	assert.Equal(t, 0, s.StagedCount())

	_, err = h.Get(ctx, accountKey("a"))
	assert.ErrorIs(t, err, store.ErrAttemptNotPending)
}

func TestConcurrentAttemptsConflict(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	cas, err := s.Upsert(accountKey("a"), map[string]int{"balance": 10})
	require.NoError(t, err)

	h1 := mustBegin(t, s)
	h2 := mustBegin(t, s)

	_, err = h1.Stage(ctx, store.Mutation{Type: store.StagedMutationRemove, Key: accountKey("a"), Cas: cas})
	require.NoError(t, err)

	_, err = h2.Stage(ctx, store.Mutation{Type: store.StagedMutationRemove, Key: accountKey("a"), Cas: cas})
	assert.ErrorIs(t, err, store.ErrWriteWriteConflict)
	assert.Equal(t, store.ErrorClassFailWriteWriteConflict, store.Classify(err))

	// Reads from other attempts see the committed body.
	other, err := h2.Get(ctx, accountKey("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":10}`, string(other.Value))
}

func TestStaleCasRejected(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.Upsert(accountKey("a"), map[string]int{"balance": 10})
	require.NoError(t, err)

	h := mustBegin(t, s)
	got, err := h.Get(ctx, accountKey("a"))
	require.NoError(t, err)

	_, err = s.Upsert(accountKey("a"), map[string]int{"balance": 20})
	require.NoError(t, err)

	_, err = h.Stage(ctx, store.Mutation{
		Type:  store.StagedMutationReplace,
		Key:   accountKey("a"),
		Value: json.RawMessage(`{"balance":0}`),
		Cas:   got.Cas,
	})
	assert.ErrorIs(t, err, store.ErrCasMismatch)
}

func TestOutOfBandWriteFailsCommit(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.Upsert(accountKey("a"), map[string]int{"balance": 10})
	require.NoError(t, err)

	h := mustBegin(t, s)
	got, err := h.Get(ctx, accountKey("a"))
	require.NoError(t, err)
	_, err = h.Stage(ctx, store.Mutation{
		Type:  store.StagedMutationReplace,
		Key:   accountKey("a"),
		Value: json.RawMessage(`{"balance":0}`),
		Cas:   got.Cas,
	})
	require.NoError(t, err)

	_, err = s.Upsert(accountKey("a"), map[string]int{"balance": 99})
	require.NoError(t, err)

	assert.ErrorIs(t, h.Commit(ctx), store.ErrWriteWriteConflict)
	require.NoError(t, h.Rollback(ctx))

	body, _, err := s.Fetch(accountKey("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":99}`, string(body))
}

func TestRestageWithinAttempt(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	cas, err := s.Upsert(accountKey("existing"), map[string]int{"balance": 10})
	require.NoError(t, err)

	h := mustBegin(t, s)

	ins, err := h.Stage(ctx, store.Mutation{Type: store.StagedMutationInsert, Key: accountKey("new"), Value: json.RawMessage(`1`)})
	require.NoError(t, err)
	rep, err := h.Stage(ctx, store.Mutation{Type: store.StagedMutationReplace, Key: accountKey("new"), Value: json.RawMessage(`2`), Cas: ins.Cas})
	require.NoError(t, err)
	assert.Equal(t, store.StagedMutationInsert, rep.Type)

	_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationRemove, Key: accountKey("new"), Cas: rep.Cas})
	require.NoError(t, err)
	_, err = h.Get(ctx, accountKey("new"))
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)

	_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationRemove, Key: accountKey("existing"), Cas: cas})
	require.NoError(t, err)
	_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationReplace, Key: accountKey("existing"), Value: json.RawMessage(`3`)})
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
	back, err := h.Stage(ctx, store.Mutation{Type: store.StagedMutationInsert, Key: accountKey("existing"), Value: json.RawMessage(`4`)})
	require.NoError(t, err)
	assert.Equal(t, store.StagedMutationReplace, back.Type)

	require.NoError(t, h.Commit(ctx))

	_, _, err = s.Fetch(accountKey("new"))
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
	body, _, err := s.Fetch(accountKey("existing"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(body))
}

func TestInsertExisting(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, err := s.Upsert(accountKey("a"), 1)
	require.NoError(t, err)

	h := mustBegin(t, s)
	_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationInsert, Key: accountKey("a"), Value: json.RawMessage(`2`)})
	assert.ErrorIs(t, err, store.ErrDocumentAlreadyExists)
}

func TestExpiredAttempt(t *testing.T) {
	s := New(nil)
	h, err := s.BeginAttempt(context.Background(), store.AttemptOptions{Deadline: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	_, err = h.Get(context.Background(), accountKey("a"))
	assert.ErrorIs(t, err, store.ErrAttemptExpired)
}

func TestQueryFilter(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	for id, balance := range map[string]int{"a": 10, "b": 200, "c": 300} {
		_, err := s.Upsert(accountKey(id), map[string]int{"balance": balance})
		require.NoError(t, err)
	}
	_, err := s.Upsert(store.LogicalKey{Collection: "other", ID: "z"}, map[string]int{"balance": 500})
	require.NoError(t, err)

	h := mustBegin(t, s)
	got, err := h.Get(ctx, accountKey("c"))
	require.NoError(t, err)
	_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationRemove, Key: accountKey("c"), Cas: got.Cas})
	require.NoError(t, err)
	_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationInsert, Key: accountKey("d"), Value: json.RawMessage(`{"balance":400}`)})
	require.NoError(t, err)

	results, err := h.Query(ctx, store.Query{Collection: "accounts", Filter: "doc.balance > 100"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Key.ID)
	assert.Equal(t, "d", results[1].Key.ID)

	all, err := h.Query(ctx, store.Query{Collection: "accounts"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byID, err := h.Query(ctx, store.Query{Collection: "accounts", Filter: `id == "a"`})
	require.NoError(t, err)
	require.Len(t, byID, 1)

	_, err = h.Query(ctx, store.Query{Collection: "accounts", Filter: "doc.balance >"})
	assert.Error(t, err)
}

type conflictingHooks struct {
	DefaultHooks
	s     *Store
	fired int32
}

func (h *conflictingHooks) AfterGetComplete(key store.LogicalKey) error {
	if atomic.CompareAndSwapInt32(&h.fired, 0, 1) {
		_, err := h.s.Upsert(key, map[string]int{"balance": 1000})
		return err
	}
	return nil
}

func TestRunWithRetryRecoversFromConflict(t *testing.T) {
	hooks := &conflictingHooks{}
	s := New(&Config{Hooks: hooks})
	hooks.s = s
	_, err := s.Upsert(accountKey("a"), map[string]int{"balance": 10})
	require.NoError(t, err)

	res, err := s.RunWithRetry(context.Background(), store.AttemptOptions{ExpirationTime: 5 * time.Second}, func(ctx context.Context, h store.AttemptHandle) error {
		got, err := h.Get(ctx, accountKey("a"))
		if err != nil {
			return err
		}

		var acct struct {
			Balance int `json:"balance"`
		}
		if err := json.Unmarshal(got.Value, &acct); err != nil {
			return err
		}
		acct.Balance++
		body, _ := json.Marshal(acct)

		_, err = h.Stage(ctx, store.Mutation{Type: store.StagedMutationReplace, Key: accountKey("a"), Value: body, Cas: got.Cas})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)

	body, _, err := s.Fetch(accountKey("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":1001}`, string(body))
	assert.Equal(t, 0, s.StagedCount())
}

func TestRunWithRetryApplicationError(t *testing.T) {
	s := New(nil)
	appErr := errors.New("nope")

	_, err := s.RunWithRetry(context.Background(), store.AttemptOptions{ExpirationTime: time.Second}, func(ctx context.Context, h store.AttemptHandle) error {
		if _, err := h.Stage(ctx, store.Mutation{Type: store.StagedMutationInsert, Key: accountKey("a"), Value: json.RawMessage(`1`)}); err != nil {
			return err
		}
		return appErr
	})
	assert.ErrorIs(t, err, appErr)
	assert.Empty(t, s.Keys("accounts"))
	assert.Equal(t, 0, s.StagedCount())
}
