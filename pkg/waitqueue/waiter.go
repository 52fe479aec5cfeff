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

// Package waitqueue implements the generic sleep/wake primitive of spec
// §4.2: a FIFO list flavor and a keyed (ordered) tree flavor, both bound to
// a caller-supplied spinlock, both carrying a stack-local Waiter with a
// waiter-local error/data slot.
//
// A goroutine parking on a Waiter's channel *is* "yield to the scheduler"
// here: blocking on a channel receive is exactly what makes the Go runtime
// schedule something else on the underlying OS thread, which is the same
// effect spec.md's wait(...) has on a hart.
package waitqueue

import (
	"github.com/kestrel-kernel/core/pkg/errno"
)

// detacher is implemented by whichever queue flavor currently holds a
// Waiter, so Wait can detach itself on an asynchronous (signal) wake
// without needing to know whether it was parked on a Queue or a
// KeyedQueue.
type detacher interface {
	removeLocked(w *Waiter)
}

// Waiter is the stack-local wait descriptor of spec.md's Data Model: it is
// created at entry to a wait, enqueued atomically with the sleep-state
// transition, and never outlives the call to Wait that created it.
type Waiter struct {
	next, prev *Waiter // ilist.Linker[*Waiter] for the FIFO flavor
	key        int64   // ordering key for the keyed-tree flavor
	seq        uint64  // insertion sequence, breaks ties among equal keys

	owner  detacher
	linked bool

	errno errno.Errno
	data  any

	parked chan struct{} // unbuffered; closed exactly once by a waker, never sent on
}

func newWaiter() *Waiter {
	return &Waiter{errno: errno.EINTR, parked: make(chan struct{})}
}

// SetNext implements ilist.Linker[*Waiter].
func (w *Waiter) SetNext(e *Waiter) { w.next = e }

// SetPrev implements ilist.Linker[*Waiter].
func (w *Waiter) SetPrev(e *Waiter) { w.prev = e }

// Next implements ilist.Linker[*Waiter].
func (w *Waiter) Next() *Waiter { return w.next }

// Prev implements ilist.Linker[*Waiter].
func (w *Waiter) Prev() *Waiter { return w.prev }

// Key returns the ordering key under which w was enqueued into a
// KeyedQueue. It is meaningless for FIFO-queue waiters.
func (w *Waiter) Key() int64 { return w.key }

// wake marks w for wakeup with the given errno/data and releases its
// parked goroutine. The caller must already have detached w from its
// queue (or be about to, atomically, under the same lock) before calling
// wake — wake itself does not touch queue linkage.
func (w *Waiter) wake(e errno.Errno, data any) {
	w.errno = e
	w.data = data
	close(w.parked)
}
