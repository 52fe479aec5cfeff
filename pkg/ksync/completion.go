// Copyright 2024 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ksync

import (
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/spinlock"
	"github.com/kestrel-kernel/core/pkg/waitqueue"
)

// completionAll is the sentinel "done" value meaning CompleteAll was called;
// it is sticky and never decremented by WaitFor, per spec §4.3.
const completionAll = ^uint64(0)

// Completion is the one-shot or counted rendezvous of spec §4.3: a
// saturating counter, an embedded spinlock, and one waitqueue.
type Completion struct {
	lock  spinlock.Spinlock
	done  uint64
	queue waitqueue.Queue
}

// NewCompletion returns an initialized Completion with done == 0.
func NewCompletion(name string) *Completion {
	c := &Completion{}
	c.queue.Init(name, &c.lock)
	return c
}

// Complete increments done (saturating at the ALL sentinel) and wakes one
// waiter.
func (c *Completion) Complete() {
	c.lock.Lock()
	if c.done != completionAll {
		c.done++
	}
	waitqueue.WakeupOne(&c.queue, errno.OK, nil)
	c.lock.Unlock()
}

// CompleteAll sets done to the ALL sentinel, bulk-moves every current
// waiter to a throwaway queue bound to its own lock, then wakes them after
// releasing c.lock — avoiding a lock convoy where each woken waiter
// immediately re-contends on c.lock inside WakeupAll, per spec §4.3.
func (c *Completion) CompleteAll() {
	var drainLock spinlock.Spinlock
	var drained waitqueue.Queue
	drained.Init("completion.drain", &drainLock)

	c.lock.Lock()
	c.done = completionAll
	drainLock.Lock()
	drained.BulkMove(&c.queue)
	drainLock.Unlock()
	c.lock.Unlock()

	drainLock.Lock()
	waitqueue.WakeupAll(&drained, errno.OK, nil)
	drainLock.Unlock()
}

// WaitFor sleeps while done <= 0, then decrements done (unless done has
// reached the ALL sentinel, which is sticky and never decremented).
func (c *Completion) WaitFor() {
	c.lock.Lock()
	for c.done == 0 {
		waitqueue.Wait(&c.queue, &c.lock, nil)
		c.lock.Lock()
	}
	if c.done != completionAll {
		c.done--
	}
	c.lock.Unlock()
}

// TryWaitFor is the non-blocking variant of WaitFor: it returns true and
// consumes one unit of done if done > 0, else returns false immediately.
func (c *Completion) TryWaitFor() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.done == 0 {
		return false
	}
	if c.done != completionAll {
		c.done--
	}
	return true
}
