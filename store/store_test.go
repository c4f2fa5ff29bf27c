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
	"testing"
	"time"

	gocbcore "github.com/couchbase/gocbcore/v9"
	"github.com/couchbase/gocbcore/v9/memd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err   error
		class ErrorClass
	}{
		{ErrWriteWriteConflict, ErrorClassFailWriteWriteConflict},
		{fmt.Errorf("wrapped: %w", ErrCasMismatch), ErrorClassFailCasMismatch},
		{ErrAttemptExpired, ErrorClassFailExpiry},
		{context.DeadlineExceeded, ErrorClassFailExpiry},
		{ErrDocumentNotFound, ErrorClassFailDocNotFound},
		{gocbcore.ErrDocumentNotFound, ErrorClassFailDocNotFound},
		{gocbcore.ErrDocumentExists, ErrorClassFailDocAlreadyExists},
		{gocbcore.ErrCasMismatch, ErrorClassFailCasMismatch},
		{gocbcore.ErrPathExists, ErrorClassFailPathAlreadyExists},
		{gocbcore.ErrAmbiguousTimeout, ErrorClassFailAmbiguous},
		{gocbcore.ErrUnambiguousTimeout, ErrorClassFailTransient},
		{errors.New("application"), ErrorClassFailOther},
		{context.Canceled, ErrorClassFailOther},
	}

	for _, c := range cases {
		assert.Equalf(t, c.class, Classify(c.err), "classifying %v", c.err)
	}
}

func TestRetryableClasses(t *testing.T) {
	assert.True(t, ErrorClassFailWriteWriteConflict.Retryable())
	assert.True(t, ErrorClassFailCasMismatch.Retryable())
	assert.True(t, ErrorClassFailTransient.Retryable())
	assert.False(t, ErrorClassFailExpiry.Retryable())
	assert.False(t, ErrorClassFailOther.Retryable())
	assert.False(t, ErrorClassFailDocNotFound.Retryable())
}

func TestRestage(t *testing.T) {
	cases := []struct {
		existing, next, want StagedMutationType
		ok                   bool
	}{
		{StagedMutationInsert, StagedMutationReplace, StagedMutationInsert, true},
		{StagedMutationInsert, StagedMutationRemove, StagedMutationUnknown, true},
		{StagedMutationInsert, StagedMutationInsert, StagedMutationUnknown, false},
		{StagedMutationReplace, StagedMutationReplace, StagedMutationReplace, true},
		{StagedMutationReplace, StagedMutationRemove, StagedMutationRemove, true},
		{StagedMutationReplace, StagedMutationInsert, StagedMutationUnknown, false},
		{StagedMutationRemove, StagedMutationInsert, StagedMutationReplace, true},
		{StagedMutationRemove, StagedMutationReplace, StagedMutationUnknown, false},
		{StagedMutationRemove, StagedMutationRemove, StagedMutationUnknown, false},
	}

	for _, c := range cases {
		got, ok := Restage(c.existing, c.next)
		assert.Equalf(t, c.ok, ok, "%s -> %s", c.existing, c.next)
		assert.Equalf(t, c.want, got, "%s -> %s", c.existing, c.next)
	}
}

func TestStagedMutationTypeStrings(t *testing.T) {
	for _, typ := range []StagedMutationType{StagedMutationInsert, StagedMutationReplace, StagedMutationRemove} {
		parsed, err := StagedMutationTypeFromString(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := StagedMutationTypeFromString("UPSERT")
	assert.Error(t, err)
}

func TestDurabilityLevelYAML(t *testing.T) {
	var cfg struct {
		Level DurabilityLevel `yaml:"level"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("level: persist_to_majority"), &cfg))
	assert.Equal(t, DurabilityLevelPersistToMajority, cfg.Level)

	assert.Error(t, yaml.Unmarshal([]byte("level: sometimes"), &cfg))
	assert.Equal(t, memd.DurabilityLevelMajority, DurabilityLevelToMemd(DurabilityLevelMajority))
}

func TestDurabilityLevelShorthand(t *testing.T) {
	for _, level := range []DurabilityLevel{
		DurabilityLevelNone,
		DurabilityLevelMajority,
		DurabilityLevelMajorityAndPersistToActive,
		DurabilityLevelPersistToMajority,
	} {
		assert.Equal(t, level, DurabilityLevelFromShorthand(level.Shorthand()))
	}

	assert.Equal(t, "m", DurabilityLevelUnknown.Shorthand())
	assert.Equal(t, DurabilityLevelMajority, DurabilityLevelFromShorthand(""))
}

type fakeHandle struct {
	id         string
	commitErr  error
	committed  bool
	rolledBack bool
}

func (h *fakeHandle) ID() string            { return h.id }
func (h *fakeHandle) TransactionID() string { return "txn" }
func (h *fakeHandle) Get(ctx context.Context, key LogicalKey) (*StagedResult, error) {
	return nil, ErrDocumentNotFound
}
func (h *fakeHandle) Stage(ctx context.Context, mut Mutation) (*StagedResult, error) {
	return &StagedResult{Key: mut.Key, Type: mut.Type}, nil
}
func (h *fakeHandle) Query(ctx context.Context, q Query) ([]*StagedResult, error) {
	return nil, nil
}
func (h *fakeHandle) Commit(ctx context.Context) error {
	if h.commitErr != nil {
		return h.commitErr
	}
	h.committed = true
	return nil
}
func (h *fakeHandle) Rollback(ctx context.Context) error {
	h.rolledBack = true
	return nil
}

type fakeBeginner struct {
	handles    []*fakeHandle
	commitErrs []error
}

func (b *fakeBeginner) BeginAttempt(ctx context.Context, opts AttemptOptions) (AttemptHandle, error) {
	h := &fakeHandle{id: fmt.Sprintf("attempt-%d", len(b.handles)+1)}
	if len(b.commitErrs) > len(b.handles) {
		h.commitErr = b.commitErrs[len(b.handles)]
	}
	b.handles = append(b.handles, h)
	return h, nil
}

func TestRunAttemptsRetriesConflicts(t *testing.T) {
	b := &fakeBeginner{}
	calls := 0
	res, err := RunAttempts(context.Background(), b, AttemptOptions{ExpirationTime: time.Second}, func(ctx context.Context, h AttemptHandle) error {
		calls++
		if calls < 3 {
			return ErrWriteWriteConflict
		}
		return nil
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "attempt-3", res.AttemptID)
	assert.NotEmpty(t, res.TransactionID)
	require.Len(t, b.handles, 3)
	assert.True(t, b.handles[0].rolledBack)
	assert.True(t, b.handles[1].rolledBack)
	assert.True(t, b.handles[2].committed)
}

func TestRunAttemptsRetriesCommitConflict(t *testing.T) {
	b := &fakeBeginner{commitErrs: []error{ErrCasMismatch}}
	res, err := RunAttempts(context.Background(), b, AttemptOptions{ExpirationTime: time.Second}, func(ctx context.Context, h AttemptHandle) error {
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestRunAttemptsDoesNotRetryApplicationErrors(t *testing.T) {
	appErr := errors.New("insufficient funds")
	b := &fakeBeginner{}
	_, err := RunAttempts(context.Background(), b, AttemptOptions{ExpirationTime: time.Second}, func(ctx context.Context, h AttemptHandle) error {
		return appErr
	}, nil)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 1, runErr.Attempts)
	assert.False(t, runErr.Exhausted)
	assert.Same(t, appErr, runErr.Cause)
	assert.True(t, b.handles[0].rolledBack)
}

func TestRunAttemptsExhausted(t *testing.T) {
	b := &fakeBeginner{}
	_, err := RunAttempts(context.Background(), b, AttemptOptions{ExpirationTime: time.Second, MaxAttempts: 2}, func(ctx context.Context, h AttemptHandle) error {
		return ErrWriteWriteConflict
	}, nil)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.True(t, runErr.Exhausted)
	assert.Equal(t, 2, runErr.Attempts)
	assert.ErrorIs(t, err, ErrWriteWriteConflict)
}

func TestRunAttemptsExpires(t *testing.T) {
	b := &fakeBeginner{}
	_, err := RunAttempts(context.Background(), b, AttemptOptions{ExpirationTime: 20 * time.Millisecond}, func(ctx context.Context, h AttemptHandle) error {
		return ErrTransient
	}, nil)

	assert.ErrorIs(t, err, ErrAttemptExpired)
	assert.Equal(t, ErrorClassFailExpiry, Classify(err))
}

func TestRunAttemptsConflictAfterDeadlineExpires(t *testing.T) {
	b := &fakeBeginner{}
	_, err := RunAttempts(context.Background(), b, AttemptOptions{ExpirationTime: 20 * time.Millisecond}, func(ctx context.Context, h AttemptHandle) error {
		time.Sleep(40 * time.Millisecond)
		return ErrCasMismatch
	}, nil)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, 1, runErr.Attempts)
	assert.False(t, runErr.Exhausted)
	assert.ErrorIs(t, err, ErrAttemptExpired)
	assert.NotErrorIs(t, err, ErrCasMismatch)
	assert.Equal(t, ErrorClassFailExpiry, Classify(err))
	assert.True(t, b.handles[0].rolledBack)
}

func TestRunAttemptsConflictAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &fakeBeginner{}
	_, err := RunAttempts(ctx, b, AttemptOptions{ExpirationTime: time.Second}, func(ctx context.Context, h AttemptHandle) error {
		cancel()
		return ErrWriteWriteConflict
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWriteWriteConflict)
	assert.Len(t, b.handles, 1)
}

func TestBackoffBoundedByAttempts(t *testing.T) {
	b := newBackoff(AttemptOptions{MaxAttempts: 3})
	for i := 0; i < 2; i++ {
		delay, stop := b.Next()
		require.False(t, stop)
		assert.LessOrEqual(t, delay, maxRetryDelay)
	}
	_, stop := b.Next()
	assert.True(t, stop)
}
