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
	"time"

	gocbcore "github.com/couchbase/gocbcore/v9"
	"github.com/couchbase/gocbcore/v9/memd"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
)

//go:generate mockgen -destination=../internal/mocks/mock_agent.go -package=mocks . Agent

// Agent is the subset of *gocbcore.Agent used by the store.
type Agent interface {
	BucketName() string
	LookupIn(opts gocbcore.LookupInOptions, cb gocbcore.LookupInCallback) (gocbcore.PendingOp, error)
	MutateIn(opts gocbcore.MutateInOptions, cb gocbcore.MutateInCallback) (gocbcore.PendingOp, error)
	Add(opts gocbcore.AddOptions, cb gocbcore.StoreCallback) (gocbcore.PendingOp, error)
	Delete(opts gocbcore.DeleteOptions, cb gocbcore.DeleteCallback) (gocbcore.PendingOp, error)
}

var _ Agent = (*gocbcore.Agent)(nil)

type outcome[T any] struct {
	res T
	err error
}

// waitFor dispatches an agent operation and blocks until its callback has
// fired.  Cancelling ctx cancels the pending operation.
func waitFor[T any](ctx context.Context, dispatch func(cb func(T, error)) (gocbcore.PendingOp, error)) (T, error) {
	waitCh := make(chan outcome[T], 1)
	op, err := dispatch(func(res T, err error) {
		waitCh <- outcome[T]{res, err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case out := <-waitCh:
		return out.res, out.err
	case <-ctx.Done():
		op.Cancel()
		out := <-waitCh
		if out.err == nil {
			return out.res, nil
		}
		var zero T
		return zero, ctx.Err()
	}
}

func (a *attempt) lookupIn(ctx context.Context, key store.LogicalKey, ops []gocbcore.SubDocOp) (*gocbcore.LookupInResult, error) {
	scope, collection := keyspace(key)
	deadline, _ := a.timeouts()

	return waitFor(ctx, func(cb func(*gocbcore.LookupInResult, error)) (gocbcore.PendingOp, error) {
		return a.s.agent.LookupIn(gocbcore.LookupInOptions{
			ScopeName:      scope,
			CollectionName: collection,
			Key:            []byte(key.ID),
			Ops:            ops,
			Deadline:       deadline,
			Flags:          memd.SubdocDocFlagAccessDeleted,
		}, cb)
	})
}

func (a *attempt) mutateIn(ctx context.Context, key store.LogicalKey, cas store.Cas, flags memd.SubdocDocFlag, ops []gocbcore.SubDocOp) (*gocbcore.MutateInResult, error) {
	scope, collection := keyspace(key)
	deadline, duraTimeout := a.timeouts()

	return waitFor(ctx, func(cb func(*gocbcore.MutateInResult, error)) (gocbcore.PendingOp, error) {
		return a.s.agent.MutateIn(gocbcore.MutateInOptions{
			ScopeName:              scope,
			CollectionName:         collection,
			Key:                    []byte(key.ID),
			Cas:                    cas,
			Ops:                    ops,
			Flags:                  flags,
			DurabilityLevel:        a.durability(),
			DurabilityLevelTimeout: duraTimeout,
			Deadline:               deadline,
		}, cb)
	})
}

func (a *attempt) add(ctx context.Context, key store.LogicalKey, value []byte) (*gocbcore.StoreResult, error) {
	scope, collection := keyspace(key)
	deadline, duraTimeout := a.timeouts()

	return waitFor(ctx, func(cb func(*gocbcore.StoreResult, error)) (gocbcore.PendingOp, error) {
		return a.s.agent.Add(gocbcore.AddOptions{
			ScopeName:              scope,
			CollectionName:         collection,
			Key:                    []byte(key.ID),
			Value:                  value,
			DurabilityLevel:        a.durability(),
			DurabilityLevelTimeout: duraTimeout,
			Deadline:               deadline,
		}, cb)
	})
}

func (a *attempt) delete(ctx context.Context, key store.LogicalKey, cas store.Cas) (*gocbcore.DeleteResult, error) {
	scope, collection := keyspace(key)
	deadline, duraTimeout := a.timeouts()

	return waitFor(ctx, func(cb func(*gocbcore.DeleteResult, error)) (gocbcore.PendingOp, error) {
		return a.s.agent.Delete(gocbcore.DeleteOptions{
			ScopeName:              scope,
			CollectionName:         collection,
			Key:                    []byte(key.ID),
			Cas:                    cas,
			DurabilityLevel:        a.durability(),
			DurabilityLevelTimeout: duraTimeout,
			Deadline:               deadline,
		}, cb)
	})
}

func (a *attempt) timeouts() (time.Time, time.Duration) {
	var deadline time.Time
	var duraTimeout time.Duration
	if a.opts.KeyValueTimeout > 0 {
		deadline = time.Now().Add(a.opts.KeyValueTimeout)
		if a.opts.DurabilityLevel > store.DurabilityLevelNone {
			duraTimeout = a.opts.KeyValueTimeout
		}
	}
	return deadline, duraTimeout
}

func (a *attempt) durability() memd.DurabilityLevel {
	if a.opts.DurabilityLevel == store.DurabilityLevelUnknown {
		return memd.DurabilityLevel(0)
	}
	return store.DurabilityLevelToMemd(a.opts.DurabilityLevel)
}
