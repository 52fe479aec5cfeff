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

package kernel

import (
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/spinlock"
	"github.com/kestrel-kernel/core/pkg/waitqueue"
)

// Sleep implements spec §4.5/§4.8's wait_in_state(q, lock, &data, state):
// it performs the TCB state transition (RUNNING -> state) atomically with
// waitqueue.Wait's enqueue (by doing both under lock), then restores
// RUNNING on return. This is the one place pkg/kernel reaches into
// pkg/waitqueue's lower-level primitive, keeping waitqueue itself ignorant
// of thread state per the layering decision recorded in DESIGN.md.
//
// Before parking, Sleep checks FlagAwoken: if a wakeup already observed
// this thread as not-yet-sleeping (still RUNNING, racing the caller's
// decision to sleep), the flag is consumed and Sleep returns immediately
// rather than blocking, per spec §5's ordering guarantee
// ("wakeup that observes a not-yet-sleeping thread marks AWOKEN so the
// imminent sleep returns immediately").
//
// state must be Interruptible or Uninterruptible. Either flavor can be cut
// short by a direct Scheduler.Wakeup, which reports errno.OK; only an
// Interruptible sleep can additionally be cut short by Task.Interrupt
// (a signal), which reports errno.EINTR, per spec §4.8's "Cancellation"
// rule ("UNINTERRUPTIBLE waits ignore signals").
func (t *Task) Sleep(q *waitqueue.Queue, lock *spinlock.Spinlock, state State) (errno.Errno, any) {
	t.tcbLock.Lock()
	if t.flags&FlagAwoken != 0 {
		t.flags &^= FlagAwoken
		t.tcbLock.Unlock()
		return errno.OK, nil
	}
	t.state = state
	t.sleepingQ = q
	t.interrupt = make(chan struct{})
	t.wakeErrno = errno.EINTR
	interrupt := t.interrupt
	t.tcbLock.Unlock()

	e, data := waitqueue.Wait(q, lock, interrupt)

	t.tcbLock.Lock()
	if e == errno.EINTR && data == nil && t.interrupt == nil {
		// The interrupt channel fired rather than the queue's own wake;
		// report whichever reason closed it (signal vs. a direct wakeup).
		e = t.wakeErrno
	}
	t.state = Running
	t.sleepingQ = nil
	t.interrupt = nil
	t.tcbLock.Unlock()
	return e, data
}

// Interrupt cuts short t's current INTERRUPTIBLE sleep, if any, causing
// its Sleep call to return errno.EINTR. It is a no-op if t is not
// currently sleeping interruptibly — the signal-send path calls this
// unconditionally and relies on that no-op behavior. It never cuts short
// an UNINTERRUPTIBLE sleep, per spec §4.8.
func (t *Task) Interrupt() {
	t.tcbLock.Lock()
	if t.state != Interruptible {
		t.tcbLock.Unlock()
		return
	}
	ch := t.interrupt
	t.interrupt = nil
	t.wakeErrno = errno.EINTR
	t.tcbLock.Unlock()
	if ch != nil {
		close(ch)
	}
}
