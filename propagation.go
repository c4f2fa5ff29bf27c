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
	"strings"

	"gopkg.in/yaml.v3"
)

// Propagation declares how an entry point participates in an ambient
// transaction.
type Propagation int

const (
	// PropagationDefault joins the active attempt, or starts a new one.
	PropagationDefault = Propagation(0)

	// PropagationMandatory joins the active attempt and fails when there is none.
	PropagationMandatory = Propagation(1)

	// PropagationRequiresNew would suspend the active attempt.  The store
	// cannot do that, so it is never supported.
	PropagationRequiresNew = Propagation(2)

	// PropagationNotSupported would run outside of any attempt.  The store has
	// no such mode, so it is never supported.
	PropagationNotSupported = Propagation(3)

	// PropagationNever starts a new attempt and fails when one is active.
	PropagationNever = Propagation(4)

	// PropagationNested starts a new attempt.  Nesting inside an active
	// attempt is not supported.
	PropagationNested = Propagation(5)

	// PropagationSupports behaves as PropagationDefault.
	PropagationSupports = Propagation(6)
)

var propagationNames = map[Propagation]string{
	PropagationDefault:      "DEFAULT",
	PropagationMandatory:    "MANDATORY",
	PropagationRequiresNew:  "REQUIRES_NEW",
	PropagationNotSupported: "NOT_SUPPORTED",
	PropagationNever:        "NEVER",
	PropagationNested:       "NESTED",
	PropagationSupports:     "SUPPORTS",
}

// Propagations lists every declared propagation requirement.
var Propagations = []Propagation{
	PropagationDefault,
	PropagationMandatory,
	PropagationRequiresNew,
	PropagationNotSupported,
	PropagationNever,
	PropagationNested,
	PropagationSupports,
}

func (p Propagation) String() string {
	if name, ok := propagationNames[p]; ok {
		return name
	}
	return fmt.Sprintf("unknown:%d", int(p))
}

// PropagationFromString parses the representation produced by String.
func PropagationFromString(name string) (Propagation, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return PropagationDefault, nil
	}
	for p, pName := range propagationNames {
		if pName == name {
			return p, nil
		}
	}
	return PropagationDefault, fmt.Errorf("invalid propagation %q", name)
}

// UnmarshalYAML decodes a propagation from its name.
func (p *Propagation) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}

	parsed, err := PropagationFromString(name)
	if err != nil {
		return err
	}

	*p = parsed
	return nil
}

// MarshalYAML encodes a propagation by name.
func (p Propagation) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// Decision is the outcome of applying a propagation requirement to the
// current binding state.
type Decision int

const (
	// DecisionJoin runs the body inside the active attempt.
	DecisionJoin = Decision(iota)

	// DecisionNew runs the body in a new transaction.
	DecisionNew

	// DecisionUnsupported rejects the call, whatever the binding state.
	DecisionUnsupported

	// DecisionIllegalState rejects the call for this binding state only.
	DecisionIllegalState
)

func (d Decision) String() string {
	switch d {
	case DecisionJoin:
		return "join"
	case DecisionNew:
		return "new"
	case DecisionUnsupported:
		return "unsupported"
	case DecisionIllegalState:
		return "illegal_state"
	}
	return fmt.Sprintf("unknown:%d", int(d))
}

// Decide applies the propagation table.  It is the only place propagation
// behaviour is derived from.
//
//	                 none active    active
//	DEFAULT          New            Join
//	SUPPORTS         New            Join
//	MANDATORY        IllegalState   Join
//	REQUIRES_NEW     Unsupported    Unsupported
//	NOT_SUPPORTED    Unsupported    Unsupported
//	NEVER            New            IllegalState
//	NESTED           New            Unsupported
func Decide(p Propagation, active bool) Decision {
	switch p {
	case PropagationDefault, PropagationSupports:
		if active {
			return DecisionJoin
		}
		return DecisionNew
	case PropagationMandatory:
		if active {
			return DecisionJoin
		}
		return DecisionIllegalState
	case PropagationRequiresNew, PropagationNotSupported:
		return DecisionUnsupported
	case PropagationNever:
		if active {
			return DecisionIllegalState
		}
		return DecisionNew
	case PropagationNested:
		if active {
			return DecisionUnsupported
		}
		return DecisionNew
	}
	return DecisionUnsupported
}
