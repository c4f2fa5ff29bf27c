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
	"sync"
	"sync/atomic"

	"github.com/sourcenetwork/immutable"
)

// Binder associates a ResourceHolder with the current execution.  Current
// never fails; it returns None when nothing is bound.  Unbind is idempotent.
type Binder interface {
	Bind(ctx context.Context, holder *ResourceHolder) (context.Context, *BindToken)
	Unbind(token *BindToken)
	Current(ctx context.Context) immutable.Option[*ResourceHolder]
}

// BindToken identifies one binding and is used to undo it.
type BindToken struct {
	holder *ResourceHolder

	exec    *Execution
	binding *contextBinding
}

// Holder returns the holder that was bound.
func (t *BindToken) Holder() *ResourceHolder {
	return t.holder
}

type executionKey struct{}

// Execution is the binding slot of one logical call stack, playing the role
// a thread-local plays elsewhere.  Nested bindings stack: unbinding restores
// whatever was bound before.
type Execution struct {
	lock   sync.Mutex
	tokens []*BindToken
}

// NewExecution returns a context carrying a fresh Execution, or ctx itself
// when one is already attached.  Every goroutine calling Run with contexts
// that share an Execution sees the others' attempts and joins them.  Hand
// other goroutines a context from ForkExecution instead.
func NewExecution(ctx context.Context) context.Context {
	if executionFrom(ctx) != nil {
		return ctx
	}
	return ForkExecution(ctx)
}

// ForkExecution returns a child of ctx carrying a new, empty Execution.
// Attempts bound to the Execution of ctx are not visible through it.
func ForkExecution(ctx context.Context) context.Context {
	return context.WithValue(ctx, executionKey{}, &Execution{})
}

func executionFrom(ctx context.Context) *Execution {
	exec, _ := ctx.Value(executionKey{}).(*Execution)
	return exec
}

// ExecutionBinder binds holders to the Execution of a synchronous call stack.
type ExecutionBinder struct{}

var _ Binder = ExecutionBinder{}

// Bind pushes holder onto the Execution attached to ctx, attaching one first
// if needed.
func (ExecutionBinder) Bind(ctx context.Context, holder *ResourceHolder) (context.Context, *BindToken) {
	ctx = NewExecution(ctx)
	exec := executionFrom(ctx)

	token := &BindToken{
		holder: holder,
		exec:   exec,
	}

	exec.lock.Lock()
	exec.tokens = append(exec.tokens, token)
	exec.lock.Unlock()

	return ctx, token
}

// Unbind removes the binding identified by token.  Removing a binding which
// is not the most recent one leaves newer bindings in place.
func (ExecutionBinder) Unbind(token *BindToken) {
	if token == nil || token.exec == nil {
		return
	}
	exec := token.exec

	exec.lock.Lock()
	defer exec.lock.Unlock()

	for i := len(exec.tokens) - 1; i >= 0; i-- {
		if exec.tokens[i] == token {
			exec.tokens = append(exec.tokens[:i], exec.tokens[i+1:]...)
			return
		}
	}
}

func (ExecutionBinder) Current(ctx context.Context) immutable.Option[*ResourceHolder] {
	exec := executionFrom(ctx)
	if exec == nil {
		return immutable.None[*ResourceHolder]()
	}

	exec.lock.Lock()
	defer exec.lock.Unlock()

	if len(exec.tokens) == 0 {
		return immutable.None[*ResourceHolder]()
	}
	return immutable.Some(exec.tokens[len(exec.tokens)-1].holder)
}

type bindingKey struct{}

type contextBinding struct {
	holder   *ResourceHolder
	parent   *contextBinding
	released atomic.Bool
}

// ContextBinder carries the binding as an immutable context value, so every
// continuation scheduled from the bound context observes it and independent
// chains never observe each other.
type ContextBinder struct{}

var _ Binder = ContextBinder{}

// Bind returns a child of ctx carrying holder.  ctx itself is not modified.
func (ContextBinder) Bind(ctx context.Context, holder *ResourceHolder) (context.Context, *BindToken) {
	parent, _ := ctx.Value(bindingKey{}).(*contextBinding)
	binding := &contextBinding{
		holder: holder,
		parent: parent,
	}

	return context.WithValue(ctx, bindingKey{}, binding), &BindToken{
		holder:  holder,
		binding: binding,
	}
}

// Unbind marks the binding released.  Contexts derived from it which are
// still around fall back to the enclosing binding.
func (ContextBinder) Unbind(token *BindToken) {
	if token == nil || token.binding == nil {
		return
	}
	token.binding.released.Store(true)
}

func (ContextBinder) Current(ctx context.Context) immutable.Option[*ResourceHolder] {
	binding, _ := ctx.Value(bindingKey{}).(*contextBinding)
	for ; binding != nil; binding = binding.parent {
		if !binding.released.Load() {
			return immutable.Some(binding.holder)
		}
	}
	return immutable.None[*ResourceHolder]()
}

// CurrentAttempt returns the holder bound to ctx by either binder.  A
// context is in a transaction exactly when this is not None.
func CurrentAttempt(ctx context.Context) immutable.Option[*ResourceHolder] {
	if holder := (ExecutionBinder{}).Current(ctx); holder.HasValue() {
		return holder
	}
	return ContextBinder{}.Current(ctx)
}
