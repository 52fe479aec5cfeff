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

package waitqueue

import (
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/ilist"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// Queue is the FIFO waitqueue flavor of spec §4.2. All mutations require
// the bound lock to be held by the caller; Queue does not take the lock
// itself (it is "bound", not "owning").
type Queue struct {
	name string
	lock *spinlock.Spinlock
	list ilist.List[*Waiter]
}

// Init initializes q, binding it to lock, per spec's init(name, lock).
func (q *Queue) Init(name string, lock *spinlock.Spinlock) {
	*q = Queue{name: name, lock: lock}
}

// Name returns the queue's diagnostic name.
func (q *Queue) Name() string { return q.name }

// Size returns the number of waiters currently parked on q. The caller
// must hold the bound lock (Invariant/P2: q.size == |{w : w.queue == q}|
// at all times under q.lock).
func (q *Queue) Size() int { return q.list.Len() }

// Push enqueues w at the tail of q. The caller must hold the bound lock.
func (q *Queue) Push(w *Waiter) {
	w.owner = q
	w.linked = true
	q.list.PushBack(w)
}

// Pop dequeues and returns the head waiter, or nil if q is empty. The
// caller must hold the bound lock.
func (q *Queue) Pop() *Waiter {
	if q.list.Empty() {
		return nil
	}
	w := q.list.Front()
	q.removeLocked(w)
	return w
}

// Remove detaches w from q if it is currently linked into q. The caller
// must hold the bound lock.
func (q *Queue) Remove(w *Waiter) {
	if w.linked && w.owner == detacher(q) {
		q.removeLocked(w)
	}
}

func (q *Queue) removeLocked(w *Waiter) {
	q.list.Remove(w)
	w.linked = false
	w.owner = nil
}

// BulkMove splices every waiter in src onto the tail of q (which must be
// empty), leaving src empty, per spec §4.2's bulk_move and §7's ENOTEMPTY.
// Both q and src's bound locks must be held by the caller (they are
// typically the same lock, or q is a throwaway stack-local queue with no
// lock contention of its own).
func (q *Queue) BulkMove(src *Queue) errno.Errno {
	if q.list.Len() != 0 {
		return errno.ENOTEMPTY
	}
	src.list.ForEach(func(w *Waiter) { w.owner = q })
	q.list.PushBackList(&src.list)
	return errno.OK
}

// Wait is the generic sleep primitive: it is only valid to call while
// holding lock, and it panics if the calling hart does not hold lock
// (spec §4.2 step 1). It does not check whether the caller holds any
// other spinlock or is servicing an IRQ.
//
// interrupt, if non-nil, is a channel the caller closes to cut the wait
// short asynchronously (spec.md's "asynchronous wake via signal", and
// pkg/kernel's Task.Sleep also routes a direct scheduler-level wakeup
// through it); passing nil means only the queue's own waker can end the
// wait.
//
// On return, either (errno.OK-or-whatever-the-waker-set, data) if a waker
// dequeued w normally, or (errno.EINTR, nil) if interrupt fired first, in
// which case Wait detaches w from q itself before returning.
func Wait(q *Queue, lock *spinlock.Spinlock, interrupt <-chan struct{}) (errno.Errno, any) {
	assertWaitPreconditions(lock)
	w := newWaiter()
	q.Push(w)
	lock.Unlock()

	interrupted := park(w, interrupt)

	if interrupted {
		lock.Lock()
		q.Remove(w)
		lock.Unlock()
		return errno.EINTR, nil
	}
	return w.errno, w.data
}

// WakeupOne wakes the head waiter of q, if any, setting its errno/data.
// The caller must hold the bound lock. It returns false if q was empty.
func WakeupOne(q *Queue, e errno.Errno, data any) bool {
	w := q.Pop()
	if w == nil {
		return false
	}
	w.wake(e, data)
	return true
}

// WakeupAll wakes every waiter currently on q, setting the same errno/data
// on each, per spec §4.2 ("Wake-all iterates until empty"). The caller
// must hold the bound lock.
func WakeupAll(q *Queue, e errno.Errno, data any) int {
	n := 0
	for {
		w := q.Pop()
		if w == nil {
			return n
		}
		w.wake(e, data)
		n++
	}
}

func park(w *Waiter, interrupt <-chan struct{}) (interrupted bool) {
	if interrupt == nil {
		<-w.parked
		return false
	}
	select {
	case <-w.parked:
		return false
	case <-interrupt:
		return true
	}
}

func assertWaitPreconditions(lock *spinlock.Spinlock) {
	if !lock.Holding() {
		panic("waitqueue: Wait called without holding the bound lock")
	}
}
