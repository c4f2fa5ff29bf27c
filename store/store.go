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

// Package store defines the boundary between the transaction coordination
// layer and a document store capable of running optimistic transaction
// attempts. Implementations live in sibling packages (memstore, kvstore).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocbcore "github.com/couchbase/gocbcore/v9"
)

// Cas is the concurrency token of a document.  A zero Cas means the token is
// unset and can never be used to guard a write.
type Cas = gocbcore.Cas

// LogicalKey uniquely identifies a document within a store.
type LogicalKey struct {
	Collection string
	ID         string
}

// String returns a printable form of the key.
func (k LogicalKey) String() string {
	if k.Collection == "" {
		return k.ID
	}
	return k.Collection + "/" + k.ID
}

// StagedResult is the value and concurrency token produced by an operation
// performed inside an attempt.  For plain reads Type is StagedMutationUnknown.
type StagedResult struct {
	Key       LogicalKey
	Type      StagedMutationType
	Value     json.RawMessage
	Cas       Cas
	AttemptID string
}

// Removed indicates the result represents a staged removal.
func (r *StagedResult) Removed() bool {
	return r.Type == StagedMutationRemove
}

// Mutation describes a write to stage inside an attempt.
type Mutation struct {
	Type  StagedMutationType
	Key   LogicalKey
	Value json.RawMessage

	// Cas is the token observed by the read that preceded this write. It is
	// ignored for inserts.
	Cas Cas
}

// Query describes a filtered read over a collection.  The Filter syntax is
// defined by the store implementation; an empty filter matches everything.
type Query struct {
	Collection string
	Filter     string
}

// AttemptHandle is an opaque handle to one in-flight transaction attempt.
type AttemptHandle interface {
	ID() string
	TransactionID() string
	Get(ctx context.Context, key LogicalKey) (*StagedResult, error)
	Stage(ctx context.Context, mut Mutation) (*StagedResult, error)
	Query(ctx context.Context, q Query) ([]*StagedResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// AttemptFunc is the body executed for each attempt of a transaction.
type AttemptFunc func(ctx context.Context, h AttemptHandle) error

// AttemptOptions controls how attempts are run by a Store.
type AttemptOptions struct {
	// TransactionID is shared by every attempt of one transaction.  It is
	// generated by RunAttempts when empty.
	TransactionID string

	// ExpirationTime bounds the transaction as a whole, across retries.
	ExpirationTime time.Duration

	// Deadline is the absolute expiry computed from ExpirationTime.
	Deadline time.Time

	// KeyValueTimeout bounds each individual store operation.
	KeyValueTimeout time.Duration

	// DurabilityLevel is applied atomically to the writes of a commit.
	DurabilityLevel DurabilityLevel

	// MaxAttempts caps the number of attempts, zero meaning until expiry.
	MaxAttempts int
}

// RunResult describes a successfully committed transaction.
type RunResult struct {
	TransactionID     string
	AttemptID         string
	Attempts          int
	UnstagingComplete bool
}

// RunError describes a transaction which did not commit.
type RunError struct {
	TransactionID string
	AttemptID     string
	Attempts      int

	// Exhausted indicates the attempt budget ran out while the last cause was
	// still retryable.
	Exhausted bool

	Cause error
}

func (e *RunError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("transaction %s gave up after %d attempts: %v", e.TransactionID, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("transaction %s failed after %d attempts: %v", e.TransactionID, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// Beginner starts attempts.
type Beginner interface {
	BeginAttempt(ctx context.Context, opts AttemptOptions) (AttemptHandle, error)
}

//go:generate mockgen -destination=../internal/mocks/mock_store.go -package=mocks . Store,AttemptHandle

// Store is the document store collaborator used by the coordination layer.
type Store interface {
	Beginner

	// RunWithRetry runs fn in a fresh attempt, committing on success and
	// retrying internally on conflicts until the transaction expires or runs
	// out of attempts.
	RunWithRetry(ctx context.Context, opts AttemptOptions, fn AttemptFunc) (*RunResult, error)
}
