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

import "errors"

// StagedMutationType represents the type of a mutation performed in a transaction.
type StagedMutationType int

const (
	// StagedMutationUnknown indicates no mutation, used for plain reads.
	StagedMutationUnknown = StagedMutationType(0)

	// StagedMutationInsert indicates the staged mutation was an insert operation.
	StagedMutationInsert = StagedMutationType(1)

	// StagedMutationReplace indicates the staged mutation was an replace operation.
	StagedMutationReplace = StagedMutationType(2)

	// StagedMutationRemove indicates the staged mutation was an remove operation.
	StagedMutationRemove = StagedMutationType(3)
)

func (t StagedMutationType) String() string {
	switch t {
	case StagedMutationInsert:
		return "INSERT"
	case StagedMutationReplace:
		return "REPLACE"
	case StagedMutationRemove:
		return "REMOVE"
	}
	return ""
}

// StagedMutationTypeFromString parses the representation produced by String.
func StagedMutationTypeFromString(mtype string) (StagedMutationType, error) {
	switch mtype {
	case "INSERT":
		return StagedMutationInsert, nil
	case "REPLACE":
		return StagedMutationReplace, nil
	case "REMOVE":
		return StagedMutationRemove, nil
	}
	return StagedMutationUnknown, errors.New("invalid mutation type string")
}

// Restage merges a new write into one already staged for the same key by the
// same attempt.  The second return value is false when the pair is illegal,
// and the first is StagedMutationUnknown when the two writes cancel out.
//
//	INSERT  -> REPLACE = INSERT
//	INSERT  -> REMOVE  = nothing
//	REPLACE -> REPLACE = REPLACE
//	REPLACE -> REMOVE  = REMOVE
//	REMOVE  -> INSERT  = REPLACE
func Restage(existing, next StagedMutationType) (StagedMutationType, bool) {
	switch existing {
	case StagedMutationInsert:
		switch next {
		case StagedMutationReplace:
			return StagedMutationInsert, true
		case StagedMutationRemove:
			return StagedMutationUnknown, true
		}
	case StagedMutationReplace:
		switch next {
		case StagedMutationReplace:
			return StagedMutationReplace, true
		case StagedMutationRemove:
			return StagedMutationRemove, true
		}
	case StagedMutationRemove:
		if next == StagedMutationInsert {
			return StagedMutationReplace, true
		}
	}
	return StagedMutationUnknown, false
}
