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

	"github.com/couchbaselabs/gocbcore-txcoord/store"
)

var (
	// ErrUnsupported indicates the propagation requirement can never be honoured.
	ErrUnsupported = errors.New("propagation not supported")

	// ErrIllegalState indicates the call is not valid for the current binding state.
	ErrIllegalState = errors.New("illegal state")

	// ErrCapabilityRejected indicates an operation the attempt protocol cannot perform.
	ErrCapabilityRejected = errors.New("operation not supported inside a transaction")

	// ErrAttemptReleased indicates an operation on an attempt whose body already returned.
	ErrAttemptReleased = errors.New("attempt has been released")

	// ErrClosed indicates the Transactions object was closed.
	ErrClosed = errors.New("transactions closed")

	// ErrNoStore indicates Init was called without a store.
	ErrNoStore = errors.New("no store was specified")
)

// Store level errors, re-exported for callers inspecting a failure cause.
var (
	ErrWriteWriteConflict    = store.ErrWriteWriteConflict
	ErrCasMismatch           = store.ErrCasMismatch
	ErrDocumentNotFound      = store.ErrDocumentNotFound
	ErrDocumentAlreadyExists = store.ErrDocumentAlreadyExists
	ErrAttemptExpired        = store.ErrAttemptExpired
)

// ErrorKind is the taxonomy failures are reported under.
type ErrorKind int

const (
	// ErrorKindApplication indicates the body returned its own error.
	ErrorKindApplication = ErrorKind(iota)

	// ErrorKindConflict indicates a conflict the store may retry.  It only
	// reaches a caller from inside a joined body.
	ErrorKindConflict

	// ErrorKindExpired indicates the transaction exceeded its deadline.
	ErrorKindExpired

	// ErrorKindCapabilityRejected indicates an operation rejected before it reached the store.
	ErrorKindCapabilityRejected

	// ErrorKindUnsupported indicates a propagation requirement which is never supported.
	ErrorKindUnsupported

	// ErrorKindIllegalState indicates a call made in the wrong binding state.
	ErrorKindIllegalState

	// ErrorKindCanceled indicates the caller's context was canceled.
	ErrorKindCanceled

	// ErrorKindRetryExhausted indicates the attempt budget ran out on a retryable cause.
	ErrorKindRetryExhausted

	// ErrorKindFailed indicates a hard or ambiguous store failure.
	ErrorKindFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindApplication:
		return "application"
	case ErrorKindConflict:
		return "conflict"
	case ErrorKindExpired:
		return "expired"
	case ErrorKindCapabilityRejected:
		return "capability_rejected"
	case ErrorKindUnsupported:
		return "unsupported"
	case ErrorKindIllegalState:
		return "illegal_state"
	case ErrorKindCanceled:
		return "canceled"
	case ErrorKindRetryExhausted:
		return "retry_exhausted"
	case ErrorKindFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown:%d", int(k))
}

// TransactionFailedError is the single error type returned by Run and
// RunAsync.  It unwraps to the original cause.
type TransactionFailedError struct {
	kind   ErrorKind
	cause  error
	result *Result
}

func (tfe *TransactionFailedError) Error() string {
	if tfe.result != nil && tfe.result.TransactionID != "" {
		return fmt.Sprintf("transaction %s failed (%s): %v", tfe.result.TransactionID, tfe.kind, tfe.cause)
	}
	return fmt.Sprintf("transaction failed (%s): %v", tfe.kind, tfe.cause)
}

// Unwrap returns the original cause.
func (tfe *TransactionFailedError) Unwrap() error {
	return tfe.cause
}

// Kind returns the kind the failure was classified as.
func (tfe *TransactionFailedError) Kind() ErrorKind {
	return tfe.kind
}

// Cause returns the original cause.
func (tfe *TransactionFailedError) Cause() error {
	return tfe.cause
}

// Result returns what is known about the failed transaction.  It is nil when
// the call was rejected before any attempt started.
func (tfe *TransactionFailedError) Result() *Result {
	return tfe.result
}

func (tfe *TransactionFailedError) MarshalJSON() ([]byte, error) {
	var causeStr string
	if tfe.cause != nil {
		causeStr = tfe.cause.Error()
	}

	data := struct {
		Kind     string `json:"kind"`
		Cause    string `json:"cause,omitempty"`
		TxnID    string `json:"txn,omitempty"`
		Attempts int    `json:"attempts,omitempty"`
	}{
		Kind:  tfe.kind.String(),
		Cause: causeStr,
	}
	if tfe.result != nil {
		data.TxnID = tfe.result.TransactionID
		data.Attempts = len(tfe.result.Attempts)
	}

	return json.Marshal(data)
}

// ErrorKindOf returns the kind of a failure returned by Run or RunAsync.
func ErrorKindOf(err error) ErrorKind {
	return translateError(err)
}

// translateError maps a failure into the taxonomy.  Errors which are not
// recognised are the application's own.
func translateError(err error) ErrorKind {
	var runErr *store.RunError
	if errors.As(err, &runErr) && runErr.Exhausted {
		return ErrorKindRetryExhausted
	}

	var tfe *TransactionFailedError
	if errors.As(err, &tfe) {
		return tfe.kind
	}

	switch {
	case errors.Is(err, ErrUnsupported):
		return ErrorKindUnsupported
	case errors.Is(err, ErrIllegalState),
		errors.Is(err, ErrAttemptReleased),
		errors.Is(err, ErrClosed),
		errors.Is(err, store.ErrAttemptNotPending):
		return ErrorKindIllegalState
	case errors.Is(err, ErrCapabilityRejected):
		return ErrorKindCapabilityRejected
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	}

	switch store.Classify(err) {
	case store.ErrorClassFailExpiry:
		return ErrorKindExpired
	case store.ErrorClassFailWriteWriteConflict,
		store.ErrorClassFailCasMismatch,
		store.ErrorClassFailTransient:
		return ErrorKindConflict
	case store.ErrorClassFailHard,
		store.ErrorClassFailAmbiguous,
		store.ErrorClassFailOutOfSpace:
		return ErrorKindFailed
	}

	return ErrorKindApplication
}

// newFailure builds the outward error.  A cause which already is a
// TransactionFailedError, raised by a joined body, is unwrapped so the caller
// sees the original cause and kind.
func newFailure(err error, result *Result) *TransactionFailedError {
	kind := translateError(err)

	cause := err
	var runErr *store.RunError
	if errors.As(cause, &runErr) {
		cause = runErr.Cause
	}
	var inner *TransactionFailedError
	if errors.As(cause, &inner) {
		cause = inner.cause
		if kind != ErrorKindRetryExhausted {
			kind = inner.kind
		}
	}

	return &TransactionFailedError{
		kind:   kind,
		cause:  cause,
		result: result,
	}
}
