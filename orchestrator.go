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
	"errors"
	"sync"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// AttemptFunc is the body of a transaction.  It may be invoked several
// times, once per attempt, and must only touch the store through ac.
type AttemptFunc func(ctx context.Context, ac *AttemptContext) error

// AsyncAttemptFunc is the body of an asynchronous transaction.  It starts a
// chain of asynchronous operations on ac and calls done exactly once when the
// chain has finished.
type AsyncAttemptFunc func(ctx context.Context, ac *AttemptContext, done func(error))

// RunCallback describes a callback for a completed RunAsync.
type RunCallback func(*Result, error)

type invokeFunc func(ctx context.Context, ac *AttemptContext) error

func syncInvoker(fn AttemptFunc) invokeFunc {
	return invokeFunc(fn)
}

// asyncInvoker blocks until the body signals done.
func asyncInvoker(fn AsyncAttemptFunc) invokeFunc {
	return func(ctx context.Context, ac *AttemptContext) error {
		doneCh := make(chan error, 1)
		var once sync.Once
		fn(ctx, ac, func(err error) {
			once.Do(func() {
				doneCh <- err
			})
		})

		select {
		case err := <-doneCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run runs fn as a transaction, according to the propagation declared by
// perConfig.  It returns once fn has committed or failed.  Failures are
// always a *TransactionFailedError.
//
// The active attempt is looked up through the Execution attached to ctx.
// Concurrent calls made with contexts sharing one Execution join each
// other's attempts; give each goroutine its own with ForkExecution.
func (t *Transactions) Run(ctx context.Context, perConfig *PerTransactionConfig, fn AttemptFunc) (*Result, error) {
	if t.closed.Load() {
		return nil, newFailure(ErrClosed, nil)
	}

	propagation, opts := t.attemptOptions(perConfig)
	current := CurrentAttempt(ctx)

	switch decision := Decide(propagation, current.HasValue()); decision {
	case DecisionJoin:
		return t.runJoined(ctx, current.Value(), syncInvoker(fn))
	case DecisionNew:
		return t.runNew(ctx, opts, t.syncBinder, syncInvoker(fn))
	default:
		return nil, t.reject(decision, propagation, current.HasValue())
	}
}

// RunAsync is the asynchronous form of Run.  The binding of the attempt is
// carried by the context handed to fn, so continuations running on other
// goroutines observe it.  An error returned directly means cb will not be
// invoked.
func (t *Transactions) RunAsync(ctx context.Context, perConfig *PerTransactionConfig, fn AsyncAttemptFunc, cb RunCallback) error {
	if t.closed.Load() {
		return newFailure(ErrClosed, nil)
	}

	propagation, opts := t.attemptOptions(perConfig)
	current := CurrentAttempt(ctx)

	decision := Decide(propagation, current.HasValue())
	if decision != DecisionJoin && decision != DecisionNew {
		return t.reject(decision, propagation, current.HasValue())
	}

	if decision == DecisionJoin {
		// The owner of the attempt waits for the joined body before it commits.
		holder := current.Value()
		holder.ops.Add(1)
		go func() {
			res, err := func() (*Result, error) {
				defer holder.ops.Done()
				return t.runJoined(ctx, holder, asyncInvoker(fn))
			}()
			cb(res, err)
		}()
		return nil
	}

	go func() {
		cb(t.runNew(ctx, opts, t.asyncBinder, asyncInvoker(fn)))
	}()

	return nil
}

func (t *Transactions) reject(decision Decision, propagation Propagation, active bool) error {
	sentinel := ErrIllegalState
	if decision == DecisionUnsupported {
		sentinel = ErrUnsupported
	}

	t.logger.Debug("transaction rejected",
		zap.Stringer("propagation", propagation),
		zap.Bool("active", active),
		zap.Stringer("decision", decision))

	state := "no active transaction"
	if active {
		state = "an active transaction"
	}
	return newFailure(pkgerrors.Wrapf(sentinel, "propagation %s with %s", propagation, state), nil)
}

// runNew starts a transaction and owns its retries.  Every invocation of the
// body gets a fresh holder, bound for exactly the duration of the invocation.
func (t *Transactions) runNew(ctx context.Context, opts store.AttemptOptions, binder Binder, invoke invokeFunc) (*Result, error) {
	if opts.ExpirationTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ExpirationTime)
		defer cancel()
	}

	result := &Result{}

	runRes, err := t.store.RunWithRetry(ctx, opts, func(attemptCtx context.Context, h store.AttemptHandle) error {
		holder := newResourceHolder(h)
		ac := newAttemptContext(holder, t.logger)

		t.logger.Debug("invoking transaction body",
			zap.String("txn", h.TransactionID()),
			zap.String("attempt", h.ID()),
			zap.Int("invocation", len(result.Attempts)+1))

		err := t.invokeBound(attemptCtx, binder, holder, ac, invoke)

		result.TransactionID = h.TransactionID()
		result.Attempts = append(result.Attempts, Attempt{
			ID:    h.ID(),
			State: AttemptStateRolledBack,
			Cause: err,
		})

		return err
	})
	if err != nil {
		var runErr *store.RunError
		if errors.As(err, &runErr) {
			result.TransactionID = runErr.TransactionID
			result.AttemptID = runErr.AttemptID
			result.StoreAttempts = runErr.Attempts
		}

		failure := newFailure(err, result)
		result.Outcome = OutcomeRolledBack
		if failure.kind == ErrorKindRetryExhausted {
			result.Outcome = OutcomeRetryExhausted
		}
		result.Cause = failure.cause

		t.logger.Warn("transaction failed",
			zap.String("txn", result.TransactionID),
			zap.Int("attempts", result.StoreAttempts),
			zap.Stringer("kind", failure.kind),
			zap.Error(failure.cause))

		return nil, failure
	}

	result.TransactionID = runRes.TransactionID
	result.AttemptID = runRes.AttemptID
	result.StoreAttempts = runRes.Attempts
	result.UnstagingComplete = runRes.UnstagingComplete
	result.Outcome = OutcomeCommitted
	if n := len(result.Attempts); n > 0 {
		result.Attempts[n-1].State = AttemptStateCommitted
	}

	t.logger.Debug("transaction committed",
		zap.String("txn", result.TransactionID),
		zap.Int("attempts", result.StoreAttempts))

	return result, nil
}

// invokeBound runs one invocation of the body, then waits for every
// asynchronous operation and joined body it started, whichever model it runs
// under.  The unbind runs on every path out, panics and cancellation included.
func (t *Transactions) invokeBound(ctx context.Context, binder Binder, holder *ResourceHolder, ac *AttemptContext, invoke invokeFunc) error {
	bctx, token := binder.Bind(ctx, holder)
	defer func() {
		binder.Unbind(token)
		holder.release()
	}()

	err := invoke(bctx, ac)
	if waitErr := holder.ops.WaitContext(bctx); waitErr != nil && err == nil {
		err = waitErr
	}
	if err == nil {
		// An operation failed but the body carried on regardless.
		err = holder.Failure()
	}

	return err
}

// runJoined runs the body once, inline, inside the attempt of holder.  A
// failure is recorded on the holder so the enclosing attempt cannot commit.
func (t *Transactions) runJoined(ctx context.Context, holder *ResourceHolder, invoke invokeFunc) (*Result, error) {
	result := &Result{
		TransactionID: holder.TransactionID(),
		AttemptID:     holder.AttemptID(),
		Outcome:       OutcomeJoined,
	}

	if err := holder.checkUsable(); err != nil {
		return nil, newFailure(err, result)
	}

	t.logger.Debug("joining transaction",
		zap.String("txn", result.TransactionID),
		zap.String("attempt", result.AttemptID))

	err := invoke(ctx, newAttemptContext(holder, t.logger))
	if err != nil {
		holder.fail(err)

		failure := newFailure(err, result)
		result.Cause = failure.cause
		return nil, failure
	}

	return result, nil
}
