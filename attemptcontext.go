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
	"encoding/json"
	"errors"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"go.uber.org/zap"
)

// GetResult is a document as seen from inside an attempt.
type GetResult struct {
	Key   store.LogicalKey
	Value json.RawMessage
	Cas   store.Cas
}

// Content decodes the document into valuePtr.
func (r *GetResult) Content(valuePtr interface{}) error {
	return json.Unmarshal(r.Value, valuePtr)
}

func newGetResult(res *store.StagedResult) *GetResult {
	return &GetResult{
		Key:   res.Key,
		Value: res.Value,
		Cas:   res.Cas,
	}
}

// Versioned is implemented by entities which carry their own concurrency
// token.  Only such entities can be written with the entity helpers.
type Versioned interface {
	Cas() store.Cas
	SetCas(cas store.Cas)
}

// GetCallback describes a callback for a completed Get operation.
type GetCallback func(*GetResult, error)

// StoreCallback describes a callback for a completed Insert, Replace or Remove operation.
type StoreCallback func(*GetResult, error)

// QueryCallback describes a callback for a completed Query operation.
type QueryCallback func([]*GetResult, error)

// AttemptContext is handed to a transaction body and routes every operation
// through the staging area of the attempt it belongs to.
type AttemptContext struct {
	holder *ResourceHolder
	logger *zap.Logger
}

func newAttemptContext(holder *ResourceHolder, logger *zap.Logger) *AttemptContext {
	return &AttemptContext{
		holder: holder,
		logger: logger.With(zap.String("attempt", holder.AttemptID())),
	}
}

// ID returns the id of the current attempt.
func (c *AttemptContext) ID() string {
	return c.holder.AttemptID()
}

// TransactionID returns the id of the transaction.
func (c *AttemptContext) TransactionID() string {
	return c.holder.TransactionID()
}

// Holder returns the resource holder of the current attempt.
func (c *AttemptContext) Holder() *ResourceHolder {
	return c.holder
}

// StagedCount returns the number of keys written so far in this attempt.
func (c *AttemptContext) StagedCount() int {
	return c.holder.StagedCount()
}

// precheck must pass before any operation reaches the store.  A rejected
// operation also prevents the attempt from committing.
func (c *AttemptContext) precheck(kind OperationKind, params OperationParams) error {
	if err := c.holder.checkUsable(); err != nil {
		return err
	}

	if err := checkCapability(kind, params); err != nil {
		c.logger.Debug("operation rejected",
			zap.Stringer("op", kind),
			zap.Stringer("key", params.Key),
			zap.Error(err))
		c.holder.fail(err)
		return err
	}

	return nil
}

func (c *AttemptContext) get(ctx context.Context, key store.LogicalKey) (*GetResult, error) {
	if res, ok := c.holder.stagedResult(key); ok {
		if res.Removed() {
			return nil, store.ErrDocumentNotFound
		}
		return newGetResult(res), nil
	}

	res, err := c.holder.handle.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrDocumentNotFound) {
			c.holder.fail(err)
		}
		return nil, err
	}

	return newGetResult(res), nil
}

func (c *AttemptContext) stage(ctx context.Context, mut store.Mutation) (*GetResult, error) {
	res, err := c.holder.handle.Stage(ctx, mut)
	if err != nil {
		c.holder.fail(err)
		return nil, err
	}

	c.holder.record(res)
	return newGetResult(res), nil
}

func (c *AttemptContext) query(ctx context.Context, q store.Query) ([]*GetResult, error) {
	results, err := c.holder.handle.Query(ctx, q)
	if err != nil {
		c.holder.fail(err)
		return nil, err
	}

	out := make([]*GetResult, 0, len(results))
	for _, res := range results {
		out = append(out, newGetResult(res))
	}
	return out, nil
}

func (c *AttemptContext) goAsync(fn func()) {
	c.holder.ops.Add(1)
	go func() {
		defer c.holder.ops.Done()
		fn()
	}()
}

func getParams(key store.LogicalKey, opts *GetOptions) OperationParams {
	params := OperationParams{Key: key}
	if opts != nil {
		params.Project = opts.Project
		params.FromReplica = opts.FromReplica
	}
	return params
}

func (c *AttemptContext) insertMutation(key store.LogicalKey, value interface{}, hasToken bool, opts *InsertOptions) (store.Mutation, error) {
	params := OperationParams{Key: key, HasToken: hasToken}
	if opts != nil {
		params.DurabilityLevel = opts.DurabilityLevel
		params.Expiry = opts.Expiry
	}
	if err := c.precheck(OperationInsert, params); err != nil {
		return store.Mutation{}, err
	}

	body, err := json.Marshal(value)
	if err != nil {
		return store.Mutation{}, err
	}

	return store.Mutation{
		Type:  store.StagedMutationInsert,
		Key:   key,
		Value: body,
	}, nil
}

func (c *AttemptContext) replaceMutation(key store.LogicalKey, cas store.Cas, value interface{}, hasToken bool, opts *ReplaceOptions) (store.Mutation, error) {
	params := OperationParams{Key: key, HasToken: hasToken, Cas: cas}
	if opts != nil {
		params.DurabilityLevel = opts.DurabilityLevel
		params.Expiry = opts.Expiry
	}
	if err := c.precheck(OperationReplace, params); err != nil {
		return store.Mutation{}, err
	}

	body, err := json.Marshal(value)
	if err != nil {
		return store.Mutation{}, err
	}

	return store.Mutation{
		Type:  store.StagedMutationReplace,
		Key:   key,
		Value: body,
		Cas:   cas,
	}, nil
}

func (c *AttemptContext) removeMutation(key store.LogicalKey, cas store.Cas, hasToken bool, opts *RemoveOptions) (store.Mutation, error) {
	params := OperationParams{Key: key, HasToken: hasToken, Cas: cas}
	if opts != nil {
		params.DurabilityLevel = opts.DurabilityLevel
	}
	if err := c.precheck(OperationRemove, params); err != nil {
		return store.Mutation{}, err
	}

	return store.Mutation{
		Type: store.StagedMutationRemove,
		Key:  key,
		Cas:  cas,
	}, nil
}

func docParams(doc *GetResult) (store.LogicalKey, store.Cas, bool) {
	if doc == nil {
		return store.LogicalKey{}, 0, false
	}
	return doc.Key, doc.Cas, true
}

// Get reads a document, observing writes staged earlier in this attempt.
func (c *AttemptContext) Get(ctx context.Context, key store.LogicalKey, opts *GetOptions) (*GetResult, error) {
	if err := c.precheck(OperationGet, getParams(key, opts)); err != nil {
		return nil, err
	}

	return c.get(ctx, key)
}

// Exists is not available inside an attempt, it only sees committed state.
func (c *AttemptContext) Exists(ctx context.Context, key store.LogicalKey) (bool, error) {
	return false, c.precheck(OperationExists, OperationParams{Key: key})
}

// Insert stages the creation of a document.
func (c *AttemptContext) Insert(ctx context.Context, key store.LogicalKey, value interface{}, opts *InsertOptions) (*GetResult, error) {
	mut, err := c.insertMutation(key, value, true, opts)
	if err != nil {
		return nil, err
	}

	return c.stage(ctx, mut)
}

// Replace stages a new body for a document previously read in this attempt.
func (c *AttemptContext) Replace(ctx context.Context, doc *GetResult, value interface{}, opts *ReplaceOptions) (*GetResult, error) {
	key, cas, ok := docParams(doc)
	mut, err := c.replaceMutation(key, cas, value, ok, opts)
	if err != nil {
		return nil, err
	}

	return c.stage(ctx, mut)
}

// Remove stages the removal of a document previously read in this attempt.
func (c *AttemptContext) Remove(ctx context.Context, doc *GetResult, opts *RemoveOptions) (*GetResult, error) {
	key, cas, ok := docParams(doc)
	mut, err := c.removeMutation(key, cas, ok, opts)
	if err != nil {
		return nil, err
	}

	return c.stage(ctx, mut)
}

// Query returns the documents of a collection matching filter, as seen by
// this attempt.
func (c *AttemptContext) Query(ctx context.Context, collection, filter string) ([]*GetResult, error) {
	if err := c.precheck(OperationQuery, OperationParams{}); err != nil {
		return nil, err
	}

	return c.query(ctx, store.Query{Collection: collection, Filter: filter})
}

// AnalyticsQuery is not available inside an attempt, it only sees committed
// state.
func (c *AttemptContext) AnalyticsQuery(ctx context.Context, statement string) ([]*GetResult, error) {
	return nil, c.precheck(OperationAnalyticsQuery, OperationParams{})
}

// GetEntity reads a document into entity, recording its concurrency token
// when entity is Versioned.
func (c *AttemptContext) GetEntity(ctx context.Context, key store.LogicalKey, entity interface{}, opts *GetOptions) error {
	res, err := c.Get(ctx, key, opts)
	if err != nil {
		return err
	}

	if err := res.Content(entity); err != nil {
		return err
	}
	if v, ok := entity.(Versioned); ok {
		v.SetCas(res.Cas)
	}

	return nil
}

// InsertEntity stages the creation of entity, which must be Versioned.
func (c *AttemptContext) InsertEntity(ctx context.Context, key store.LogicalKey, entity interface{}, opts *InsertOptions) error {
	v, ok := entity.(Versioned)
	mut, err := c.insertMutation(key, entity, ok, opts)
	if err != nil {
		return err
	}

	res, err := c.stage(ctx, mut)
	if err != nil {
		return err
	}

	v.SetCas(res.Cas)
	return nil
}

// ReplaceEntity stages entity as the new body of key.  The entity must be
// Versioned and carry the token of a previous read.
func (c *AttemptContext) ReplaceEntity(ctx context.Context, key store.LogicalKey, entity interface{}, opts *ReplaceOptions) error {
	v, ok := entity.(Versioned)
	var cas store.Cas
	if ok {
		cas = v.Cas()
	}

	mut, err := c.replaceMutation(key, cas, entity, ok, opts)
	if err != nil {
		return err
	}

	res, err := c.stage(ctx, mut)
	if err != nil {
		return err
	}

	v.SetCas(res.Cas)
	return nil
}

// RemoveEntity stages the removal of key.  The entity must be Versioned and
// carry the token of a previous read.
func (c *AttemptContext) RemoveEntity(ctx context.Context, key store.LogicalKey, entity interface{}, opts *RemoveOptions) error {
	v, ok := entity.(Versioned)
	var cas store.Cas
	if ok {
		cas = v.Cas()
	}

	mut, err := c.removeMutation(key, cas, ok, opts)
	if err != nil {
		return err
	}

	_, err = c.stage(ctx, mut)
	return err
}

// GetAsync is the asynchronous form of Get.  An error returned directly
// means cb will not be invoked.
func (c *AttemptContext) GetAsync(ctx context.Context, key store.LogicalKey, opts *GetOptions, cb GetCallback) error {
	if err := c.precheck(OperationGet, getParams(key, opts)); err != nil {
		return err
	}

	c.goAsync(func() {
		cb(c.get(ctx, key))
	})
	return nil
}

// InsertAsync is the asynchronous form of Insert.
func (c *AttemptContext) InsertAsync(ctx context.Context, key store.LogicalKey, value interface{}, opts *InsertOptions, cb StoreCallback) error {
	mut, err := c.insertMutation(key, value, true, opts)
	if err != nil {
		return err
	}

	c.goAsync(func() {
		cb(c.stage(ctx, mut))
	})
	return nil
}

// ReplaceAsync is the asynchronous form of Replace.
func (c *AttemptContext) ReplaceAsync(ctx context.Context, doc *GetResult, value interface{}, opts *ReplaceOptions, cb StoreCallback) error {
	key, cas, ok := docParams(doc)
	mut, err := c.replaceMutation(key, cas, value, ok, opts)
	if err != nil {
		return err
	}

	c.goAsync(func() {
		cb(c.stage(ctx, mut))
	})
	return nil
}

// RemoveAsync is the asynchronous form of Remove.
func (c *AttemptContext) RemoveAsync(ctx context.Context, doc *GetResult, opts *RemoveOptions, cb StoreCallback) error {
	key, cas, ok := docParams(doc)
	mut, err := c.removeMutation(key, cas, ok, opts)
	if err != nil {
		return err
	}

	c.goAsync(func() {
		cb(c.stage(ctx, mut))
	})
	return nil
}

// QueryAsync is the asynchronous form of Query.
func (c *AttemptContext) QueryAsync(ctx context.Context, collection, filter string, cb QueryCallback) error {
	if err := c.precheck(OperationQuery, OperationParams{}); err != nil {
		return err
	}

	c.goAsync(func() {
		cb(c.query(ctx, store.Query{Collection: collection, Filter: filter}))
	})
	return nil
}
