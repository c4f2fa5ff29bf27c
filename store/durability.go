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
	"fmt"
	"strings"

	"github.com/couchbase/gocbcore/v9/memd"
	"gopkg.in/yaml.v3"
)

// DurabilityLevel specifies the durability level to use for a mutation.
type DurabilityLevel int

const (
	// DurabilityLevelUnknown indicates to use the default level.
	DurabilityLevelUnknown = DurabilityLevel(0)

	// DurabilityLevelNone indicates that no durability is needed.
	DurabilityLevelNone = DurabilityLevel(1)

	// DurabilityLevelMajority indicates the operation must be replicated to the majority.
	DurabilityLevelMajority = DurabilityLevel(2)

	// DurabilityLevelMajorityAndPersistToActive indicates the operation must be replicated
	// to the majority and persisted to the active server.
	DurabilityLevelMajorityAndPersistToActive = DurabilityLevel(3)

	// DurabilityLevelPersistToMajority indicates the operation must be persisted to the active server.
	DurabilityLevelPersistToMajority = DurabilityLevel(4)
)

// String returns the name used in configuration files.
func (l DurabilityLevel) String() string {
	switch l {
	case DurabilityLevelUnknown:
		return "UNSET"
	case DurabilityLevelNone:
		return "NONE"
	case DurabilityLevelMajority:
		return "MAJORITY"
	case DurabilityLevelMajorityAndPersistToActive:
		return "MAJORITY_AND_PERSIST_TO_ACTIVE"
	case DurabilityLevelPersistToMajority:
		return "PERSIST_TO_MAJORITY"
	}
	return fmt.Sprintf("unknown:%d", int(l))
}

// DurabilityLevelFromString parses the representation produced by String.
func DurabilityLevelFromString(level string) (DurabilityLevel, error) {
	switch strings.ToUpper(level) {
	case "", "UNSET":
		return DurabilityLevelUnknown, nil
	case "NONE":
		return DurabilityLevelNone, nil
	case "MAJORITY":
		return DurabilityLevelMajority, nil
	case "MAJORITY_AND_PERSIST_TO_ACTIVE":
		return DurabilityLevelMajorityAndPersistToActive, nil
	case "PERSIST_TO_MAJORITY":
		return DurabilityLevelPersistToMajority, nil
	}
	return DurabilityLevelUnknown, fmt.Errorf("invalid durability level %q", level)
}

// UnmarshalYAML decodes a durability level from its name.
func (l *DurabilityLevel) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}

	level, err := DurabilityLevelFromString(name)
	if err != nil {
		return err
	}

	*l = level
	return nil
}

// DurabilityLevelToMemd converts a durability level to its wire value.
func DurabilityLevelToMemd(durabilityLevel DurabilityLevel) memd.DurabilityLevel {
	switch durabilityLevel {
	case DurabilityLevelNone:
		return memd.DurabilityLevel(0)
	case DurabilityLevelMajority:
		return memd.DurabilityLevelMajority
	case DurabilityLevelMajorityAndPersistToActive:
		return memd.DurabilityLevelMajorityAndPersistOnMaster
	case DurabilityLevelPersistToMajority:
		return memd.DurabilityLevelPersistToMajority
	case DurabilityLevelUnknown:
		panic("unexpected unset durability level")
	default:
		panic("unexpected durability level")
	}
}

// Shorthand returns the compact form stored in document metadata.
func (l DurabilityLevel) Shorthand() string {
	switch l {
	case DurabilityLevelNone:
		return "n"
	case DurabilityLevelMajority:
		return "m"
	case DurabilityLevelMajorityAndPersistToActive:
		return "pa"
	case DurabilityLevelPersistToMajority:
		return "pm"
	default:
		// If it's an unknown durability level, default to majority.
		return "m"
	}
}

// DurabilityLevelFromShorthand parses the form produced by Shorthand.
func DurabilityLevelFromShorthand(level string) DurabilityLevel {
	switch level {
	case "n":
		return DurabilityLevelNone
	case "pa":
		return DurabilityLevelMajorityAndPersistToActive
	case "pm":
		return DurabilityLevelPersistToMajority
	default:
		return DurabilityLevelMajority
	}
}
