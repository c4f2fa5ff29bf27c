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

// Package kvstore runs transaction attempts against a Couchbase bucket
// through a gocbcore agent.  Staged writes are carried in a "txn" extended
// attribute on each document and unstaged on commit.  There is no attempt
// record: a marker left behind by a crashed attempt is only overwritten once
// it has expired.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	gocbcore "github.com/couchbase/gocbcore/v9"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config is used to configure a Store.
type Config struct {
	Agent Agent

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Store is a store.Store backed by a Couchbase bucket.
type Store struct {
	agent  Agent
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a Store using the agent of config.
func New(config *Config) (*Store, error) {
	if config == nil || config.Agent == nil {
		return nil, errors.New("an agent must be specified")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		agent:  config.Agent,
		logger: logger.Named("kvstore").With(zap.String("bucket", config.Agent.BucketName())),
	}, nil
}

// BeginAttempt starts a new attempt.  Nothing is written until the first
// staged mutation.
func (s *Store) BeginAttempt(ctx context.Context, opts store.AttemptOptions) (store.AttemptHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.TransactionID == "" {
		opts.TransactionID = uuid.New().String()
	}

	return &attempt{
		s:         s,
		id:        uuid.New().String(),
		opts:      opts,
		staged:    make(map[store.LogicalKey]*stagedDoc),
		conflicts: make(map[store.LogicalKey]struct{}),
	}, nil
}

// RunWithRetry runs fn inside attempts until one commits, the transaction
// expires or fn fails with an error which is not retryable.
func (s *Store) RunWithRetry(ctx context.Context, opts store.AttemptOptions, fn store.AttemptFunc) (*store.RunResult, error) {
	return store.RunAttempts(ctx, s, opts, fn, s.logger)
}

// translateError maps agent errors onto the store sentinels, keeping the
// original error in the message.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocbcore.ErrDocumentNotFound):
		return fmt.Errorf("%w: %v", store.ErrDocumentNotFound, err)
	case errors.Is(err, gocbcore.ErrDocumentExists):
		return fmt.Errorf("%w: %v", store.ErrDocumentAlreadyExists, err)
	case errors.Is(err, gocbcore.ErrCasMismatch):
		return fmt.Errorf("%w: %v", store.ErrCasMismatch, err)
	}
	return err
}
