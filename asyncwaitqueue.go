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
)

// asyncWaitGroup tracks the asynchronous operations and joined bodies an
// attempt has in flight.  Unlike sync.WaitGroup, a wait can be abandoned when
// its context ends.
type asyncWaitGroup struct {
	lock  sync.Mutex
	count int
	idle  []chan struct{}
}

func (q *asyncWaitGroup) Add(n int) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.count += n
	if q.count < 0 {
		panic("asyncWaitGroup: negative counter")
	}
	if q.count == 0 {
		for _, ch := range q.idle {
			close(ch)
		}
		q.idle = nil
	}
}

func (q *asyncWaitGroup) Done() {
	q.Add(-1)
}

// WaitContext blocks until no operations are outstanding or ctx is done.
func (q *asyncWaitGroup) WaitContext(ctx context.Context) error {
	q.lock.Lock()
	if q.count == 0 {
		q.lock.Unlock()
		return nil
	}
	idleCh := make(chan struct{})
	q.idle = append(q.idle, idleCh)
	q.lock.Unlock()

	select {
	case <-idleCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
