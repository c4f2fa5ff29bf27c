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

	gocbcore "github.com/couchbase/gocbcore/v9"
)

var (
	// ErrWriteWriteConflict indicates that another transaction conflicted with this one.
	ErrWriteWriteConflict = errors.New("write write conflict")

	// ErrCasMismatch indicates the document changed since it was read.
	ErrCasMismatch = errors.New("cas mismatch")

	// ErrDocumentNotFound indicates that a document was not found.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentAlreadyExists indicates that a document already exists.
	ErrDocumentAlreadyExists = errors.New("document already exists")

	// ErrAttemptExpired indicates an attempt expired.
	ErrAttemptExpired = errors.New("attempt expired")

	// ErrTransient indicates a transient error occured which may succeed at a later point in time.
	ErrTransient = errors.New("transient error")

	// ErrHard indicates that an unrecoverable error occured.
	ErrHard = errors.New("hard")

	// ErrAmbiguous indicates that a failure occured but the outcome was not known.
	ErrAmbiguous = errors.New("ambiguous error")

	// ErrAttemptNotPending indicates an operation on an attempt which already
	// committed or rolled back.
	ErrAttemptNotPending = errors.New("attempt is no longer pending")

	// ErrFeatureNotAvailable indicates the store cannot perform the requested operation.
	ErrFeatureNotAvailable = errors.New("feature not available")
)

// ErrorClass describes the reason that a store error occurred.
type ErrorClass uint8

const (
	// ErrorClassFailOther indicates an error occurred because it did not fit into any other reason.
	ErrorClassFailOther ErrorClass = iota

	// ErrorClassFailTransient indicates an error occurred because of a transient reason.
	ErrorClassFailTransient

	// ErrorClassFailDocNotFound indicates an error occurred because of a document not found.
	ErrorClassFailDocNotFound

	// ErrorClassFailDocAlreadyExists indicates an error occurred because a document already exists.
	ErrorClassFailDocAlreadyExists

	// ErrorClassFailPathNotFound indicates an error occurred because a path was not found.
	ErrorClassFailPathNotFound

	// ErrorClassFailPathAlreadyExists indicates an error occurred because a path already exists.
	ErrorClassFailPathAlreadyExists

	// ErrorClassFailWriteWriteConflict indicates an error occurred because of a write write conflict.
	ErrorClassFailWriteWriteConflict

	// ErrorClassFailCasMismatch indicates an error occurred because of a cas mismatch.
	ErrorClassFailCasMismatch

	// ErrorClassFailHard indicates an error occurred because of a hard error.
	ErrorClassFailHard

	// ErrorClassFailAmbiguous indicates an error occurred leaving the transaction in an ambiguous way.
	ErrorClassFailAmbiguous

	// ErrorClassFailExpiry indicates an error occurred because the transaction expired.
	ErrorClassFailExpiry

	// ErrorClassFailOutOfSpace indicates an error occurred because the store was out of space.
	ErrorClassFailOutOfSpace
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassFailOther:
		return "other"
	case ErrorClassFailTransient:
		return "transient"
	case ErrorClassFailDocNotFound:
		return "document_not_found"
	case ErrorClassFailDocAlreadyExists:
		return "document_already_exists"
	case ErrorClassFailPathNotFound:
		return "path_not_found"
	case ErrorClassFailPathAlreadyExists:
		return "path_already_exists"
	case ErrorClassFailWriteWriteConflict:
		return "write_write_conflict"
	case ErrorClassFailCasMismatch:
		return "cas_mismatch"
	case ErrorClassFailHard:
		return "hard"
	case ErrorClassFailAmbiguous:
		return "ambiguous"
	case ErrorClassFailExpiry:
		return "expiry"
	case ErrorClassFailOutOfSpace:
		return "out_of_space"
	default:
		return fmt.Sprintf("unknown:%d", uint8(c))
	}
}

// Retryable indicates whether an attempt failing with this class may be
// retried as a whole.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassFailWriteWriteConflict, ErrorClassFailCasMismatch, ErrorClassFailTransient:
		return true
	}
	return false
}

// Classify maps an error raised by a store, or returned by an attempt body,
// into an ErrorClass.  Errors it does not recognize are ErrorClassFailOther.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassFailOther
	}

	switch {
	case errors.Is(err, ErrWriteWriteConflict):
		return ErrorClassFailWriteWriteConflict
	case errors.Is(err, ErrHard):
		return ErrorClassFailHard
	case errors.Is(err, ErrAttemptExpired), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassFailExpiry
	case errors.Is(err, ErrTransient):
		return ErrorClassFailTransient
	case errors.Is(err, ErrDocumentNotFound):
		return ErrorClassFailDocNotFound
	case errors.Is(err, ErrDocumentAlreadyExists):
		return ErrorClassFailDocAlreadyExists
	case errors.Is(err, ErrAmbiguous):
		return ErrorClassFailAmbiguous
	case errors.Is(err, ErrCasMismatch):
		return ErrorClassFailCasMismatch

	case errors.Is(err, gocbcore.ErrDocumentNotFound):
		return ErrorClassFailDocNotFound
	case errors.Is(err, gocbcore.ErrDocumentExists):
		return ErrorClassFailDocAlreadyExists
	case errors.Is(err, gocbcore.ErrPathExists):
		return ErrorClassFailPathAlreadyExists
	case errors.Is(err, gocbcore.ErrPathNotFound):
		return ErrorClassFailPathNotFound
	case errors.Is(err, gocbcore.ErrCasMismatch):
		return ErrorClassFailCasMismatch
	case errors.Is(err, gocbcore.ErrUnambiguousTimeout):
		return ErrorClassFailTransient
	case errors.Is(err, gocbcore.ErrDurabilityAmbiguous),
		errors.Is(err, gocbcore.ErrAmbiguousTimeout),
		errors.Is(err, gocbcore.ErrRequestCanceled):
		return ErrorClassFailAmbiguous
	case errors.Is(err, gocbcore.ErrMemdTooBig):
		return ErrorClassFailOutOfSpace
	}

	return ErrorClassFailOther
}
