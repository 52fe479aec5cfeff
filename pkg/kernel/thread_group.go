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
	"github.com/kestrel-kernel/core/pkg/kassert"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// ThreadGroup is the POSIX process abstraction of spec §3: a list of
// member Tasks, a refcount, a TGID equal to the leader's TID, a one-shot
// group-exit flag/code, and shared-pending signal state for
// process-directed signals.
type ThreadGroup struct {
	tgid   int32
	leader *Task

	lock    spinlock.Spinlock // guards members/liveThreads/groupExit*
	members []*Task
	refcount int

	groupExit     bool
	groupExitCode int

	sigacts *SigActs
	shared  PendingSet // process-directed pending, per spec §3
}

// NewThreadGroup creates a group led by leader, owning a fresh SigActs.
func NewThreadGroup(leader *Task) *ThreadGroup {
	tg := &ThreadGroup{
		tgid:    leader.tid,
		leader:  leader,
		sigacts: NewSigActs(),
	}
	tg.addMemberLocked(leader)
	return tg
}

// TGID returns the group's id (the leader's TID).
func (tg *ThreadGroup) TGID() int32 { return tg.tgid }

// Leader returns the group's leader task.
func (tg *ThreadGroup) Leader() *Task { return tg.leader }

func (tg *ThreadGroup) addMemberLocked(t *Task) {
	tg.members = append(tg.members, t)
	tg.refcount++
	t.group = tg
	t.sigLock = &tg.sigacts.Lock
}

// AddMember adds t to tg (e.g. a new thread created with CLONE_THREAD),
// sharing tg's sigacts per spec's CLONE_SIGHAND note.
func (tg *ThreadGroup) AddMember(t *Task) {
	tg.sigacts.Ref()
	tg.lock.Lock()
	tg.addMemberLocked(t)
	tg.lock.Unlock()
}

// LiveThreads reports how many member threads are neither ZOMBIE nor
// UNUSED, backing Invariant 4: "thread_group.live_threads > 0 iff any
// member thread's state != ZOMBIE and != UNUSED."
func (tg *ThreadGroup) LiveThreads() int {
	tg.lock.Lock()
	defer tg.lock.Unlock()
	n := 0
	for _, m := range tg.members {
		if s := m.State(); s != Zombie && s != Unused {
			n++
		}
	}
	return n
}

// Members returns a snapshot of the group's current member list.
func (tg *ThreadGroup) Members() []*Task {
	tg.lock.Lock()
	defer tg.lock.Unlock()
	out := make([]*Task, len(tg.members))
	copy(out, tg.members)
	return out
}

// Exit marks the group as exiting with code, a one-shot transition: later
// calls are no-ops, matching spec's "group_exit one-shot."
func (tg *ThreadGroup) Exit(code int) {
	tg.lock.Lock()
	defer tg.lock.Unlock()
	if tg.groupExit {
		return
	}
	tg.groupExit = true
	tg.groupExitCode = code
}

// ExitStatus reports whether the group has begun exiting and, if so, its
// exit code.
func (tg *ThreadGroup) ExitStatus() (exiting bool, code int) {
	tg.lock.Lock()
	defer tg.lock.Unlock()
	return tg.groupExit, tg.groupExitCode
}

// release drops one reference; when it reaches zero the group is
// destroyed, which asserts its shared pending queues are empty, per
// spec's Data Model ("shared pending queues must be empty at
// destruction").
func (tg *ThreadGroup) release() {
	tg.lock.Lock()
	tg.refcount--
	dead := tg.refcount == 0
	empty := tg.shared.Bits() == 0
	tg.lock.Unlock()
	if dead {
		kassert.Assert(empty, "thread group %d destroyed with non-empty shared pending signals", tg.tgid)
	}
}
