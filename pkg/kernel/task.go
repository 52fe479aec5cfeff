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

// Package kernel implements the thread control block, thread group, and
// signal subsystem of spec §3/§4.5/§4.6: the layer that gives every lower
// package (spinlock, waitqueue, ksync, rcu) a reason to exist. Each Task
// is one long-lived goroutine running Task.run, standing in for "a kernel
// thread scheduled by a hart" the way gVisor's sentry runs one goroutine
// per Linux task.
package kernel

import (
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/ilist"
	"github.com/kestrel-kernel/core/pkg/klog"
	"github.com/kestrel-kernel/core/pkg/percpu"
	"github.com/kestrel-kernel/core/pkg/spinlock"
	"github.com/kestrel-kernel/core/pkg/waitqueue"
)

// State is a thread's lifecycle state, per spec §3's Thread (TCB) and the
// transition diagram in §4.5.
type State int

const (
	Unused State = iota
	Running
	Interruptible
	Uninterruptible
	Stopped
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Running:
		return "RUNNING"
	case Interruptible:
		return "INTERRUPTIBLE"
	case Uninterruptible:
		return "UNINTERRUPTIBLE"
	case Stopped:
		return "STOPPED"
	case Zombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Flag bits, per spec §3's Thread.flags.
type Flag uint32

const (
	FlagKilled     Flag = 1 << 0
	FlagSigPending Flag = 1 << 1
	FlagAwoken     Flag = 1 << 2
)

// Task is the TCB of spec §3. Exactly one goroutine (Task.run) drives a
// Task through its lifecycle; every other goroutine that touches a Task's
// mutable fields does so only under tcbLock, per Invariant 1.
type Task struct {
	// Linkage into a RunQueue or waitqueue.Queue. next/prev are owned by
	// whichever list currently holds this Task (ilist.Linker[*Task]).
	next, prev *Task

	tid  int32
	name string

	tcbLock spinlock.Spinlock // serializes state, flags, homeHart (Invariant 1)
	state   State
	flags   Flag

	homeHart  int // recorded on enqueue; -1 if never scheduled
	priority  int // lower value == higher priority tier, per §4.5's tiered run queue
	onRunQ    bool
	sleepingQ *waitqueue.Queue // non-nil while parked; cleared on wake (Invariant 2)

	group *ThreadGroup

	sigLock     *spinlock.Spinlock // == group.sigacts.lock; unified signal lock (§4.6)
	mask        SignalSet
	savedMask   SignalSet
	haveSaved   bool
	pending     PendingSet
	interrupt   chan struct{} // closed exactly once to cut a Sleep short asynchronously
	wakeErrno   errno.Errno   // errno Sleep reports when interrupt fires; EINTR for a signal, OK for a direct Scheduler.Wakeup
	exitCode    int
	entry       func(a1, a2 any)
	a1, a2      any
	stopWait    chan struct{} // closed when a STOPPED task is continued
	firstWake   chan struct{} // closed by the first Wakeup while still UNUSED
}

// SetNext implements ilist.Linker[*Task].
func (t *Task) SetNext(e *Task) { t.next = e }

// SetPrev implements ilist.Linker[*Task].
func (t *Task) SetPrev(e *Task) { t.prev = e }

// Next implements ilist.Linker[*Task].
func (t *Task) Next() *Task { return t.next }

// Prev implements ilist.Linker[*Task].
func (t *Task) Prev() *Task { return t.prev }

// TID returns the task's unique non-negative thread id.
func (t *Task) TID() int32 { return t.tid }

// Name returns the task's diagnostic name.
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state. The caller should not
// rely on this remaining accurate past the call without tcbLock.
func (t *Task) State() State {
	t.tcbLock.Lock()
	defer t.tcbLock.Unlock()
	return t.state
}

// HomeHart returns the hart id the task was last enqueued on, or -1.
func (t *Task) HomeHart() int {
	t.tcbLock.Lock()
	defer t.tcbLock.Unlock()
	return t.homeHart
}

var _ = ilist.Linker[*Task](&Task{})

func current() *Task {
	c := percpu.Self()
	if c == nil {
		return nil
	}
	cur := c.Current()
	if cur == nil {
		return nil
	}
	t, _ := cur.(*Task)
	return t
}

func (t *Task) logf(format string, args ...any) {
	klog.WithFields(klog.Fields{"tid": t.tid, "name": t.name}).Debugf(format, args...)
}

// exitLocked transitions t to ZOMBIE, recording exit code, per the
// RUNNING--exit-->ZOMBIE edge of spec §4.5's lifecycle diagram. Caller must
// hold t.tcbLock.
func (t *Task) exitLocked(code int) {
	t.state = Zombie
	t.exitCode = code
	t.onRunQ = false
	t.sleepingQ = nil
}

// wakeDirectLocked detaches t's current Sleep call from its interrupt
// channel for a plain Scheduler.Wakeup (as opposed to a signal), arranging
// for Sleep to report errno.OK rather than EINTR. Returns the channel to
// close once the caller has released t.tcbLock, or nil if t is not
// currently parked in Sleep. Caller must hold t.tcbLock.
func (t *Task) wakeDirectLocked() chan struct{} {
	ch := t.interrupt
	if ch == nil {
		return nil
	}
	t.interrupt = nil
	t.wakeErrno = errno.OK
	return ch
}
