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
	"sync/atomic"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/rcu"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// PIDTable is the RCU-protected tid->Task lookup table used by kill/tkill,
// grounded in the same "RCU without hazard to deletion" pattern spec §7's
// REDESIGN FLAGS calls for the IRQ table: an array of RCU-protected
// pointers, freed only through rcu.CallRCU, per the Data Model's "TCB
// memory outlives the ZOMBIE transition until... an RCU grace period
// covering any in-flight lookup has elapsed."
type PIDTable struct {
	lock spinlock.Spinlock // pid_lock; outermost per spec's lock ordering
	next int32
	rows []atomic.Pointer[Task]
}

// NewPIDTable allocates a table with room for maxTasks tids.
func NewPIDTable(maxTasks int) *PIDTable {
	return &PIDTable{rows: make([]atomic.Pointer[Task], maxTasks), next: 0}
}

// Allocate reserves the next free tid for t and RCU-publishes the
// mapping. It returns ENOMEM if the table is full.
func (p *PIDTable) Allocate(t *Task) errno.Errno {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i := 0; i < len(p.rows); i++ {
		idx := (int(p.next) + i) % len(p.rows)
		if p.rows[idx].Load() == nil {
			t.tid = int32(idx)
			rcu.AssignPointer(&p.rows[idx], t)
			p.next = int32((idx + 1) % len(p.rows))
			return errno.OK
		}
	}
	return errno.ENOMEM
}

// Lookup performs an RCU read-side lookup of tid, per spec §4.4's
// reader-side protocol: rcu.ReadLock, dereference, rcu.ReadUnlock around
// the returned pointer's use.
func (p *PIDTable) Lookup(tid int32) *Task {
	if tid < 0 || int(tid) >= len(p.rows) {
		return nil
	}
	rcu.ReadLock()
	defer rcu.ReadUnlock()
	return rcu.Dereference(&p.rows[tid])
}

// Release unpublishes tid's mapping by storing nil into the slot at once,
// then queues a no-op CallRCU callback. A Lookup that already loaded the
// pointer still holds the (if ZOMBIE) Task, which the Go garbage collector
// keeps alive; the slot is cleared at once, not after a grace period.
func (p *PIDTable) Release(tid int32) {
	if tid < 0 || int(tid) >= len(p.rows) {
		return
	}
	p.lock.Lock()
	row := &p.rows[tid]
	rcu.AssignPointer(row, nil)
	p.lock.Unlock()
	rcu.CallRCU(&rcu.Head{}, func() {})
}
