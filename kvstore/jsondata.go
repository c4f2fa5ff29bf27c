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

package kvstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
)

const txnXattrPath = "txn"

// jsonTxnXattr is the staging marker written into the "txn" xattr of a
// document while an attempt holds it.
type jsonTxnXattr struct {
	ID struct {
		Transaction string `json:"txn,omitempty"`
		Attempt     string `json:"atmpt,omitempty"`
	} `json:"id,omitempty"`

	// Expiry is the unix time in milliseconds after which the marker is
	// considered abandoned.
	Expiry int64 `json:"exp,omitempty"`

	// Durability is the shorthand of the level the commit will use.
	Durability string `json:"d,omitempty"`

	Operation struct {
		Type   string          `json:"type,omitempty"`
		Staged json.RawMessage `json:"stgd,omitempty"`
	} `json:"op,omitempty"`
}

func newTxnXattr(txnID, attemptID string, deadline time.Time, level store.DurabilityLevel,
	mtype store.StagedMutationType, staged json.RawMessage) *jsonTxnXattr {
	x := &jsonTxnXattr{}
	x.Durability = level.Shorthand()
	x.ID.Transaction = txnID
	x.ID.Attempt = attemptID
	if !deadline.IsZero() {
		x.Expiry = deadline.UnixMilli()
	}
	x.Operation.Type = strings.ToLower(mtype.String())
	x.Operation.Staged = staged
	return x
}

// blocks indicates the marker belongs to a live attempt other than attemptID.
func (x *jsonTxnXattr) blocks(attemptID string, now time.Time) bool {
	if x == nil || x.ID.Attempt == "" || x.ID.Attempt == attemptID {
		return false
	}
	if x.Expiry > 0 && now.UnixMilli() > x.Expiry {
		return false
	}
	return true
}

// keyspace maps the collection of a key to a scope and collection name.  A
// collection written as "scope.collection" names both; anything else lives
// in the default scope, and an empty name is the default collection.
func keyspace(key store.LogicalKey) (string, string) {
	if key.Collection == "" {
		return "", ""
	}
	if scope, collection, ok := strings.Cut(key.Collection, "."); ok {
		return scope, collection
	}
	return "_default", key.Collection
}
