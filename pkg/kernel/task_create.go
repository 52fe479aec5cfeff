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
	"github.com/kestrel-kernel/core/pkg/klog"
)

// CreateKthread implements spec §4.5's create_kthread(name, entry, arg1,
// arg2, stack_order) -> tid|-errno. The new Task starts UNUSED and
// transitions to RUNNING on its first Wakeup, per the lifecycle
// diagram; it becomes the sole member of a fresh ThreadGroup unless group
// is non-nil, in which case it joins that group (CLONE_THREAD-style).
//
// stackOrder is accepted for fidelity to the spec.md signature but has no
// effect in this goroutine-backed simulation (there is no kernel stack to
// size); a real port would use it to size the Task's stack allocation.
func (k *Kernel) CreateKthread(pids *PIDTable, name string, entry func(a1, a2 any), a1, a2 any, stackOrder int, group *ThreadGroup) (*Task, errno.Errno) {
	t := &Task{
		name:     name,
		state:    Unused,
		homeHart: -1,
		entry:    entry,
		a1:       a1,
		a2:       a2,
	}
	if e := pids.Allocate(t); e != errno.OK {
		return nil, e
	}
	if group == nil {
		t.group = NewThreadGroup(t)
		t.sigLock = &t.group.sigacts.Lock
	} else {
		group.AddMember(t)
	}

	klog.WithFields(klog.Fields{"tid": t.tid, "name": name}).Infof("kthread created")
	go t.run(k)
	return t, errno.OK
}

// run is the Task's own long-lived goroutine: it parks until first
// Wakeup, then repeatedly invokes entry and yields, standing in for
// "a hart context-switching into this thread's kernel stack."
//
// The state check and the channel it parks on are fetched-or-created under
// the same tcbLock acquisition, rather than in two separate critical
// sections, so a concurrent Wakeup can never land in the gap between them:
// if Wakeup already flipped state away from UNUSED before this loop
// re-acquires the lock, the loop condition simply sees that and exits
// without ever creating (or waiting on) a channel nobody will close.
func (t *Task) run(k *Kernel) {
	t.tcbLock.Lock()
	for t.state == Unused {
		if t.firstWake == nil {
			t.firstWake = make(chan struct{})
		}
		ch := t.firstWake
		t.tcbLock.Unlock()
		<-ch
		t.tcbLock.Lock()
	}
	t.tcbLock.Unlock()

	if t.entry != nil {
		t.entry(t.a1, t.a2)
	}
	t.Exit(0)
}

// Exit transitions t to ZOMBIE with the given exit code, per the
// RUNNING--exit-->ZOMBIE edge, and drops t's reference on its thread
// group. This package has no reap operation: the Task stays ZOMBIE and
// its PID-table slot is not released.
func (t *Task) Exit(code int) {
	t.tcbLock.Lock()
	t.exitLocked(code)
	t.tcbLock.Unlock()
	t.group.release()
}
