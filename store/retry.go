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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	minRetryDelay    = 1 * time.Millisecond
	maxRetryDelay    = 100 * time.Millisecond
	retryJitterRatio = 50
)

// newBackoff returns the delay schedule between attempts: exponential from
// minRetryDelay, jittered, capped at maxRetryDelay and bounded by both the
// attempt budget and the deadline.
func newBackoff(opts AttemptOptions) retry.Backoff {
	b := retry.NewExponential(minRetryDelay)
	b = retry.WithJitterPercent(retryJitterRatio, b)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	if opts.MaxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(opts.MaxAttempts-1), b)
	}
	if !opts.Deadline.IsZero() {
		b = retry.WithMaxDuration(time.Until(opts.Deadline), b)
	}
	return b
}

// HasExpired indicates whether the deadline has been reached.  A zero
// deadline never expires.
func HasExpired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// expiredCause is the terminal cause of a transaction which ran out of time
// or was canceled.  A retryable cause never escapes as itself.
func expiredCause(ctx context.Context, lastErr error) error {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	if lastErr != nil {
		return fmt.Errorf("%w: last attempt failed with: %v", ErrAttemptExpired, lastErr)
	}
	return ErrAttemptExpired
}

// RunAttempts is the run-with-retry loop shared by the store implementations.
// Each iteration begins a fresh attempt, runs fn against it and commits.  Any
// failure rolls the attempt back; the loop only goes around again when the
// failure classifies as retryable and the transaction has neither expired nor
// used up its attempts.
func RunAttempts(ctx context.Context, b Beginner, opts AttemptOptions, fn AttemptFunc, logger *zap.Logger) (*RunResult, error) {
	if opts.TransactionID == "" {
		opts.TransactionID = uuid.New().String()
	}
	if opts.Deadline.IsZero() && opts.ExpirationTime > 0 {
		opts.Deadline = time.Now().Add(opts.ExpirationTime)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("txn", opts.TransactionID))

	var (
		result        *RunResult
		terminal      error
		lastErr       error
		lastAttemptID string
		attempts      int
	)

	// stop ends the loop with cause, which retry.Do hands back unchanged.
	stop := func(cause error) error {
		terminal = cause
		return cause
	}

	err := retry.Do(ctx, newBackoff(opts), func(ctx context.Context) error {
		if HasExpired(opts.Deadline) {
			return stop(expiredCause(ctx, lastErr))
		}

		h, err := b.BeginAttempt(ctx, opts)
		if err != nil {
			return stop(err)
		}
		attempts++
		lastAttemptID = h.ID()

		log.Debug("attempt started", zap.String("attempt", lastAttemptID), zap.Int("number", attempts))

		err = invokeAttempt(ctx, h, fn)
		if err == nil {
			err = h.Commit(ctx)
			if err == nil {
				log.Debug("attempt committed", zap.String("attempt", lastAttemptID))
				result = &RunResult{
					TransactionID:     opts.TransactionID,
					AttemptID:         lastAttemptID,
					Attempts:          attempts,
					UnstagingComplete: true,
				}
				return nil
			}
		}

		if rbErr := h.Rollback(ctx); rbErr != nil {
			log.Debug("attempt rollback failed", zap.String("attempt", lastAttemptID), zap.Error(rbErr))
		}

		class := Classify(err)
		if !class.Retryable() {
			return stop(err)
		}
		lastErr = err

		if ctx.Err() != nil || HasExpired(opts.Deadline) {
			return stop(expiredCause(ctx, err))
		}

		log.Info("retrying transaction",
			zap.String("attempt", lastAttemptID),
			zap.Int("attempts", attempts),
			zap.Stringer("class", class),
			zap.Error(err))

		return retry.RetryableError(err)
	})
	if err == nil {
		return result, nil
	}

	runErr := &RunError{
		TransactionID: opts.TransactionID,
		AttemptID:     lastAttemptID,
		Attempts:      attempts,
		Cause:         terminal,
	}
	if terminal == nil {
		// The backoff gave up, or ctx ended while waiting to retry.
		if ctx.Err() != nil || HasExpired(opts.Deadline) {
			runErr.Cause = expiredCause(ctx, lastErr)
		} else {
			runErr.Cause = lastErr
			runErr.Exhausted = true
		}
	}

	return nil, runErr
}

// invokeAttempt runs fn, rolling the attempt back before letting a panic
// continue.
func invokeAttempt(ctx context.Context, h AttemptHandle, fn AttemptFunc) error {
	defer func() {
		if r := recover(); r != nil {
			_ = h.Rollback(ctx)
			panic(r)
		}
	}()

	return fn(ctx, h)
}
