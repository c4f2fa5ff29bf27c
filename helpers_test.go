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
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/memstore"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type account struct {
	Owner   string `json:"owner"`
	Balance int    `json:"balance"`

	cas store.Cas
}

func (a *account) Cas() store.Cas {
	return a.cas
}

func (a *account) SetCas(cas store.Cas) {
	a.cas = cas
}

func accountKey(id string) store.LogicalKey {
	return store.LogicalKey{Collection: "accounts", ID: id}
}

func newTestTransactions(t *testing.T, hooks memstore.Hooks) (*Transactions, *memstore.Store) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	s := memstore.New(&memstore.Config{
		Logger: logger,
		Hooks:  hooks,
	})

	txns, err := Init(&Config{
		ExpirationTime: 5 * time.Second,
		Store:          s,
		Logger:         logger,
	})
	require.NoError(t, err)

	return txns, s
}

func assertNotBound(t *testing.T, ctx context.Context) {
	t.Helper()
	assert.False(t, CurrentAttempt(ctx).HasValue(), "a resource holder leaked past the entry point")
}

func assertBalance(t *testing.T, s *memstore.Store, id string, balance int) {
	t.Helper()

	body, _, err := s.Fetch(accountKey(id))
	require.NoError(t, err)

	assert.JSONEq(t, `{"owner":"`+id+`","balance":`+strconv.Itoa(balance)+`}`, string(body))
}

func testBlkGet(ctx context.Context, ac *AttemptContext, key store.LogicalKey) (resOut *GetResult, errOut error) {
	waitCh := make(chan struct{}, 1)
	err := ac.GetAsync(ctx, key, nil, func(res *GetResult, err error) {
		resOut = res
		errOut = err
		waitCh <- struct{}{}
	})
	if err != nil {
		resOut = nil
		errOut = err
		return
	}
	<-waitCh
	return
}

func testBlkInsert(ctx context.Context, ac *AttemptContext, key store.LogicalKey, value interface{}) (resOut *GetResult, errOut error) {
	waitCh := make(chan struct{}, 1)
	err := ac.InsertAsync(ctx, key, value, nil, func(res *GetResult, err error) {
		resOut = res
		errOut = err
		waitCh <- struct{}{}
	})
	if err != nil {
		resOut = nil
		errOut = err
		return
	}
	<-waitCh
	return
}

func testBlkReplace(ctx context.Context, ac *AttemptContext, doc *GetResult, value interface{}) (resOut *GetResult, errOut error) {
	waitCh := make(chan struct{}, 1)
	err := ac.ReplaceAsync(ctx, doc, value, nil, func(res *GetResult, err error) {
		resOut = res
		errOut = err
		waitCh <- struct{}{}
	})
	if err != nil {
		resOut = nil
		errOut = err
		return
	}
	<-waitCh
	return
}

func testBlkRemove(ctx context.Context, ac *AttemptContext, doc *GetResult) (resOut *GetResult, errOut error) {
	waitCh := make(chan struct{}, 1)
	err := ac.RemoveAsync(ctx, doc, nil, func(res *GetResult, err error) {
		resOut = res
		errOut = err
		waitCh <- struct{}{}
	})
	if err != nil {
		resOut = nil
		errOut = err
		return
	}
	<-waitCh
	return
}

func testBlkQuery(ctx context.Context, ac *AttemptContext, collection, filter string) (resOut []*GetResult, errOut error) {
	waitCh := make(chan struct{}, 1)
	err := ac.QueryAsync(ctx, collection, filter, func(res []*GetResult, err error) {
		resOut = res
		errOut = err
		waitCh <- struct{}{}
	})
	if err != nil {
		resOut = nil
		errOut = err
		return
	}
	<-waitCh
	return
}

func testBlkRunAsync(ctx context.Context, txns *Transactions, perConfig *PerTransactionConfig, fn AsyncAttemptFunc) (resOut *Result, errOut error) {
	waitCh := make(chan struct{}, 1)
	err := txns.RunAsync(ctx, perConfig, fn, func(res *Result, err error) {
		resOut = res
		errOut = err
		waitCh <- struct{}{}
	})
	if err != nil {
		resOut = nil
		errOut = err
		return
	}
	<-waitCh
	return
}
