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
	"fmt"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
)

// OperationKind identifies an operation issued inside an attempt.
type OperationKind int

const (
	OperationGet = OperationKind(iota)
	OperationExists
	OperationInsert
	OperationReplace
	OperationRemove
	OperationQuery
	OperationAnalyticsQuery
)

func (k OperationKind) String() string {
	switch k {
	case OperationGet:
		return "get"
	case OperationExists:
		return "exists"
	case OperationInsert:
		return "insert"
	case OperationReplace:
		return "replace"
	case OperationRemove:
		return "remove"
	case OperationQuery:
		return "query"
	case OperationAnalyticsQuery:
		return "analytics_query"
	}
	return fmt.Sprintf("unknown:%d", int(k))
}

func (k OperationKind) isWrite() bool {
	return k == OperationInsert || k == OperationReplace || k == OperationRemove
}

// OperationParams are the parameters of an operation as seen by the
// capability check.
type OperationParams struct {
	Key store.LogicalKey

	// HasToken is false for entities with no concurrency token.
	HasToken bool
	Cas      store.Cas

	DurabilityLevel store.DurabilityLevel
	Expiry          time.Duration
	Project         []string
	FromReplica     bool
}

// CapabilityError is raised for an operation the attempt protocol cannot
// perform.  It is never retried.
type CapabilityError struct {
	Operation OperationKind
	Key       store.LogicalKey
	Reason    string
}

func (e *CapabilityError) Error() string {
	if e.Key.ID == "" {
		return fmt.Sprintf("%s rejected: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s of %s rejected: %s", e.Operation, e.Key, e.Reason)
}

// Is matches ErrCapabilityRejected.
func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityRejected
}

// checkCapability rejects operations which cannot take part in an attempt.
func checkCapability(kind OperationKind, params OperationParams) error {
	reject := func(reason string) error {
		return &CapabilityError{
			Operation: kind,
			Key:       params.Key,
			Reason:    reason,
		}
	}

	switch kind {
	case OperationExists:
		return reject("existence checks cannot observe staged writes")
	case OperationAnalyticsQuery:
		return reject("analytics queries cannot observe staged writes")
	}

	if kind.isWrite() {
		if !params.HasToken {
			return reject("entity has no concurrency token")
		}
		if kind != OperationInsert && params.Cas == 0 {
			return reject("concurrency token is unset")
		}
	}

	if params.DurabilityLevel != store.DurabilityLevelUnknown {
		return reject("durability is applied at commit and cannot be set per operation")
	}
	if params.Expiry != 0 {
		return reject("expiry cannot be set per operation")
	}
	if len(params.Project) > 0 {
		return reject("field projection is not supported")
	}
	if params.FromReplica {
		return reject("reads from replicas are not supported")
	}

	return nil
}

// GetOptions are the options available to Get.
type GetOptions struct {
	Project     []string
	FromReplica bool
}

// InsertOptions are the options available to Insert.
type InsertOptions struct {
	DurabilityLevel store.DurabilityLevel
	Expiry          time.Duration
}

// ReplaceOptions are the options available to Replace.
type ReplaceOptions struct {
	DurabilityLevel store.DurabilityLevel
	Expiry          time.Duration
}

// RemoveOptions are the options available to Remove.
type RemoveOptions struct {
	DurabilityLevel store.DurabilityLevel
}
