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

import "fmt"

// AttemptState describes how an invocation of a transaction body ended.
type AttemptState int

const (
	// AttemptStateRolledBack indicates the attempt did not commit.
	AttemptStateRolledBack = AttemptState(iota)

	// AttemptStateCommitted indicates the attempt committed.
	AttemptStateCommitted
)

func (s AttemptState) String() string {
	switch s {
	case AttemptStateRolledBack:
		return "ROLLED_BACK"
	case AttemptStateCommitted:
		return "COMMITTED"
	}
	return fmt.Sprintf("unknown:%d", int(s))
}

// Attempt represents a singular attempt at executing a transaction.  A
// transaction may require multiple attempts before being successful.
type Attempt struct {
	ID    string
	State AttemptState

	// Cause is the error the body invocation ended with, if any.  An attempt
	// may also roll back with no cause when its commit conflicted.
	Cause error
}

// Outcome is the terminal outcome of running a transaction body.
type Outcome int

const (
	// OutcomeCommitted indicates the final attempt committed.
	OutcomeCommitted = Outcome(iota)

	// OutcomeRolledBack indicates the transaction failed and every attempt
	// was rolled back.
	OutcomeRolledBack

	// OutcomeRetryExhausted indicates the attempt budget ran out while the
	// store still reported a retryable cause.
	OutcomeRetryExhausted

	// OutcomeJoined indicates the body ran inside an enclosing attempt, whose
	// own outcome decides whether its writes commit.
	OutcomeJoined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled_back"
	case OutcomeRetryExhausted:
		return "retry_exhausted"
	case OutcomeJoined:
		return "joined"
	}
	return fmt.Sprintf("unknown:%d", int(o))
}

// Result represents the result of a transaction which was executed.
type Result struct {
	// TransactionID represents the UUID assigned to this transaction
	TransactionID string

	// AttemptID is the id of the final attempt.
	AttemptID string

	// Attempts records every invocation of the transaction body.
	Attempts []Attempt

	// StoreAttempts is the number of attempts reported by the store.
	StoreAttempts int

	Outcome Outcome

	// Cause is the cause of a RolledBack outcome, or the last retryable
	// cause of a RetryExhausted one.
	Cause error

	// UnstagingComplete indicates whether the staged writes were applied by
	// the time the transaction returned.
	UnstagingComplete bool
}
