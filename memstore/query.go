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

package memstore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/couchbaselabs/gocbcore-txcoord/store"
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Query filters are CEL expressions evaluated once per document, with the
// decoded document bound to `doc` and its id bound to `id`.  For example:
//
//	doc.balance > 100 && id.startsWith("acct-")
type filterCache struct {
	lock     sync.Mutex
	env      *cel.Env
	envErr   error
	programs map[string]cel.Program
}

func newFilterCache() *filterCache {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.DynType),
		cel.Variable("id", cel.StringType),
	)

	return &filterCache{
		env:      env,
		envErr:   err,
		programs: make(map[string]cel.Program),
	}
}

func (c *filterCache) get(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, nil
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.envErr != nil {
		return nil, errors.Wrap(c.envErr, "error creating CEL environment")
	}
	if prg, ok := c.programs[expression]; ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "invalid query filter")
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "invalid query filter")
	}

	c.programs[expression] = prg
	return prg, nil
}

func matchFilter(prg cel.Program, res *store.StagedResult) (bool, error) {
	if prg == nil {
		return true, nil
	}

	var doc interface{}
	if len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, &doc); err != nil {
			return false, errors.Wrapf(err, "could not decode %s", res.Key)
		}
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"doc": doc,
		"id":  res.Key.ID,
	})
	if err != nil {
		// Documents lacking a field referenced by the filter do not match.
		return false, nil
	}

	nv, err := out.ConvertToNative(reflect.TypeOf(true))
	if err != nil {
		return false, errors.Wrap(err, "query filter must evaluate to a bool")
	}

	return nv.(bool), nil
}

func (a *attempt) Query(ctx context.Context, q store.Query) ([]*store.StagedResult, error) {
	prg, err := a.store.filters.get(q.Filter)
	if err != nil {
		return nil, err
	}

	if err := a.store.hooks.BeforeQuery(q.Collection); err != nil {
		return nil, err
	}

	candidates, err := a.snapshot(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	results := make([]*store.StagedResult, 0, len(candidates))
	for _, res := range candidates {
		ok, err := matchFilter(prg, res)
		if err != nil {
			return nil, err
		}
		if ok {
			results = append(results, res)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Key.ID < results[j].Key.ID
	})

	return results, nil
}

// snapshot returns the documents of a collection as seen by this attempt:
// committed documents overlaid with the attempt's own staged writes.
func (a *attempt) snapshot(ctx context.Context, collection string) ([]*store.StagedResult, error) {
	s := a.store
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := a.checkUsableLocked(ctx); err != nil {
		return nil, err
	}

	var out []*store.StagedResult
	for key, doc := range s.docs {
		if key.Collection != collection {
			continue
		}

		if sw, ok := a.staged[key]; ok {
			if sw.op != store.StagedMutationRemove {
				out = append(out, a.result(key, sw))
			}
			continue
		}

		if doc.tombstone {
			continue
		}
		out = append(out, &store.StagedResult{
			Key:       key,
			Value:     doc.body,
			Cas:       doc.cas,
			AttemptID: a.id,
		})
	}

	return out, nil
}
