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
	"fmt"
	"testing"

	"github.com/couchbase/gocbcore/v9"
	"github.com/couchbase/gocbcore/v9/memd"
	"github.com/couchbaselabs/gocbcore-txcoord/store"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionFailedErrorMarshals(t *testing.T) {
	terr := &TransactionFailedError{
		kind:  ErrorKindRetryExhausted,
		cause: store.ErrWriteWriteConflict,
		result: &Result{
			TransactionID: "txn-1",
			Attempts: []Attempt{
				{ID: "a-1", State: AttemptStateRolledBack},
				{ID: "a-2", State: AttemptStateRolledBack},
			},
		},
	}

	bytes, err := json.Marshal(terr)
	assert.NoErrorf(t, err, "marshal failed")

	assert.JSONEq(t, `{"kind":"retry_exhausted","cause":"write write conflict","txn":"txn-1","attempts":2}`, string(bytes))
}

func TestTransactionFailedErrorMarshalsWithoutResult(t *testing.T) {
	terr := newFailure(pkgerrors.Wrap(ErrUnsupported, "propagation REQUIRES_NEW"), nil)

	bytes, err := json.Marshal(terr)
	assert.NoErrorf(t, err, "marshal failed")

	assert.JSONEq(t, `{"kind":"unsupported","cause":"propagation REQUIRES_NEW: propagation not supported"}`, string(bytes))
}

func TestTranslateError(t *testing.T) {
	appErr := errors.New("insufficient funds")

	kvErr := gocbcore.KeyValueError{
		InnerError:  gocbcore.ErrCasMismatch,
		StatusCode:  memd.StatusKeyExists,
		DocumentKey: "key",
		BucketName:  "bucket",
	}

	testCases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"application", appErr, ErrorKindApplication},
		{"wrapped application", fmt.Errorf("transfer: %w", appErr), ErrorKindApplication},
		{"document not found", store.ErrDocumentNotFound, ErrorKindApplication},
		{"write write conflict", store.ErrWriteWriteConflict, ErrorKindConflict},
		{"cas mismatch", pkgerrors.Wrap(store.ErrCasMismatch, "replace"), ErrorKindConflict},
		{"kv cas mismatch", kvErr, ErrorKindConflict},
		{"transient", store.ErrTransient, ErrorKindConflict},
		{"expired", store.ErrAttemptExpired, ErrorKindExpired},
		{"deadline", context.DeadlineExceeded, ErrorKindExpired},
		{"canceled", context.Canceled, ErrorKindCanceled},
		{"hard", store.ErrHard, ErrorKindFailed},
		{"ambiguous", gocbcore.ErrDurabilityAmbiguous, ErrorKindFailed},
		{"too big", gocbcore.ErrMemdTooBig, ErrorKindFailed},
		{"capability", &CapabilityError{Operation: OperationExists, Reason: "no"}, ErrorKindCapabilityRejected},
		{"unsupported", pkgerrors.Wrap(ErrUnsupported, "NESTED"), ErrorKindUnsupported},
		{"illegal state", ErrIllegalState, ErrorKindIllegalState},
		{"released", ErrAttemptReleased, ErrorKindIllegalState},
		{"closed", ErrClosed, ErrorKindIllegalState},
		{"not pending", store.ErrAttemptNotPending, ErrorKindIllegalState},
		{"run error", &store.RunError{Cause: store.ErrHard, Attempts: 1}, ErrorKindFailed},
		{"exhausted run", &store.RunError{Cause: store.ErrWriteWriteConflict, Attempts: 3, Exhausted: true}, ErrorKindRetryExhausted},
		{"failed error", &TransactionFailedError{kind: ErrorKindExpired, cause: appErr}, ErrorKindExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, translateError(tc.err))
		})
	}
}

func TestNewFailureFlattensJoinedFailures(t *testing.T) {
	rejected := &CapabilityError{Operation: OperationReplace, Reason: "concurrency token is unset"}
	inner := newFailure(rejected, &Result{Outcome: OutcomeJoined})
	require.Equal(t, ErrorKindCapabilityRejected, inner.Kind())

	outer := newFailure(&store.RunError{TransactionID: "txn", Attempts: 1, Cause: inner}, &Result{TransactionID: "txn"})

	assert.Equal(t, ErrorKindCapabilityRejected, outer.Kind())
	assert.Same(t, rejected, outer.Cause())
	assert.ErrorIs(t, outer, ErrCapabilityRejected)
	assert.Equal(t, "txn", outer.Result().TransactionID)

	var tfe *TransactionFailedError
	require.ErrorAs(t, outer, &tfe)
	assert.Same(t, outer, tfe)
}

func TestNewFailureKeepsExhaustion(t *testing.T) {
	inner := newFailure(store.ErrWriteWriteConflict, nil)
	outer := newFailure(&store.RunError{Attempts: 3, Exhausted: true, Cause: inner}, nil)

	assert.Equal(t, ErrorKindRetryExhausted, outer.Kind())
	assert.ErrorIs(t, outer, store.ErrWriteWriteConflict)
}

func TestErrorKindStrings(t *testing.T) {
	kinds := []ErrorKind{
		ErrorKindApplication,
		ErrorKindConflict,
		ErrorKindExpired,
		ErrorKindCapabilityRejected,
		ErrorKindUnsupported,
		ErrorKindIllegalState,
		ErrorKindCanceled,
		ErrorKindRetryExhausted,
		ErrorKindFailed,
	}

	seen := make(map[string]bool)
	for _, kind := range kinds {
		name := kind.String()
		assert.NotContains(t, name, "unknown")
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
	assert.Equal(t, "unknown:99", ErrorKind(99).String())
}
