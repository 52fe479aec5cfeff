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

// Package rcu implements the quiescent-state-based read-copy-update
// protocol of spec §4.4/§4.11: read-side critical sections that are cheap
// counters plus acquire/release fences, writer-publishes-pointer via
// Dereference/AssignPointer, and a deferred-free grace-period state machine
// driven by each hart's idle-loop quiescent-state checkpoint rather than a
// dedicated RCU kthread.
package rcu

import (
	"sync"
	"sync/atomic"

	"github.com/kestrel-kernel/core/pkg/percpu"
)

// Head is embedded by any RCU-protected object so it can be scheduled for
// a deferred free via CallRCU, per spec's Data Model ("an RCU-free hook").
type Head struct {
	free func()
	gen  uint64
	next *Head
}

// readDepth tracks per-hart RCU read-side nesting, the SMP analogue of
// spec's "on UP, these at minimum disable preemption": on this simulation
// there is no preemption to disable, so the counter alone delimits the
// critical section for grace-period tracking.
var readDepth [256]atomic.Int32

// quiescentGen records, per hart, the last grace-period generation that
// hart was observed NOT inside a read-side critical section — i.e. the
// generation as of its most recent quiescent-state checkpoint.
var quiescentGen [256]atomic.Uint64

// ReadLock enters an RCU read-side critical section on the calling hart.
func ReadLock() {
	readDepth[hartIndex()].Add(1)
}

// ReadUnlock exits an RCU read-side critical section on the calling hart.
func ReadUnlock() {
	readDepth[hartIndex()].Add(-1)
}

// Dereference is an acquire-load of an RCU-protected pointer, per spec
// §4.4's "rcu_dereference(p) is an acquire-load". Go's memory model gives
// atomic.Pointer loads the acquire semantics this needs directly.
func Dereference[T any](p *atomic.Pointer[T]) *T {
	return p.Load()
}

// AssignPointer is a release-store publishing v as the new value of an
// RCU-protected pointer, per spec §4.4's "rcu_assign_pointer(p, v) is a
// release-store". The caller is responsible for scheduling the old value's
// free via CallRCU after unpublishing it, if it was previously non-nil and
// no longer reachable any other way.
func AssignPointer[T any](p *atomic.Pointer[T], v *T) {
	p.Store(v)
}

// grace is the global grace-period state machine. It guards numHarts,
// generation, and waiters; quiescentGen/readDepth stay lock-free since
// they're touched on every read-side critical section and every idle tick.
var grace struct {
	mu         sync.Mutex
	numHarts   int
	generation uint64
	pending    []*Head // callbacks awaiting a completed grace period
	waiters    []chan struct{}
}

// Init tells the RCU subsystem how many harts exist, so grace-period
// advancement knows how many quiescentGen slots to check. Call once at
// boot, before any hart starts ticking.
func Init(numHarts int) {
	grace.mu.Lock()
	defer grace.mu.Unlock()
	grace.numHarts = numHarts
	grace.generation = 1
	for i := 0; i < numHarts && i < len(quiescentGen); i++ {
		quiescentGen[i].Store(0)
	}
}

// CallRCU schedules free to run after a full grace period has elapsed
// since this call, per spec §4.4's call_rcu(head, free_fn, data) (data is
// captured by the closure the caller passes as free, the idiomatic Go
// rendition of a C callback-plus-opaque-pointer pair).
func CallRCU(head *Head, free func()) {
	grace.mu.Lock()
	head.free = free
	head.gen = grace.generation
	grace.pending = append(grace.pending, head)
	grace.mu.Unlock()
}

// QuiescentState records that the calling hart has passed through a
// quiescent state (idle entry, context switch, or an explicit checkpoint),
// advances the grace-period state machine if every hart has now done so
// since the oldest pending callback was scheduled, drains callbacks whose
// grace period elapsed, and wakes SynchronizeRCU waiters. Per spec §4.11
// this is called from each CPU's idle loop in place of a dedicated RCU
// kthread.
//
// It is a no-op if the calling hart is still inside an RCU read-side
// critical section (readDepth != 0): recording a hart as quiescent while
// one of its own readers is still active would let a grace period
// complete, and a pending free run, while that reader could still be
// dereferencing the old pointer — violating the one-grace-period
// publication guarantee this package exists to provide.
func QuiescentState() {
	idx := hartIndex()
	if readDepth[idx].Load() != 0 {
		return
	}
	grace.mu.Lock()
	quiescentGen[idx].Store(grace.generation)
	advanceLocked()
	grace.mu.Unlock()
}

// advanceLocked must be called with grace.mu held. It checks whether every
// known hart has observed the current generation; if so it starts a new
// generation, drains any callback whose scheduling generation now
// precedes the completed one, and wakes synchronize_rcu waiters.
func advanceLocked() {
	if grace.numHarts == 0 {
		return
	}
	for i := 0; i < grace.numHarts; i++ {
		if quiescentGen[i].Load() < grace.generation {
			return
		}
	}
	completed := grace.generation
	grace.generation++

	var remaining []*Head
	for _, h := range grace.pending {
		if h.gen <= completed {
			h.free()
		} else {
			remaining = append(remaining, h)
		}
	}
	grace.pending = remaining

	waiters := grace.waiters
	grace.waiters = nil
	for _, w := range waiters {
		close(w)
	}
}

// SynchronizeRCU blocks the calling goroutine until one full grace period
// elapses, per spec §4.4. It must not be called with a spinlock held or
// from IRQ context (spec §4.11's suspension-point rule); callers are
// expected to have already asserted that via spinlock.AssertNoneHeld.
func SynchronizeRCU() {
	grace.mu.Lock()
	ch := make(chan struct{})
	grace.waiters = append(grace.waiters, ch)
	grace.mu.Unlock()
	<-ch
}

// Stats reports a snapshot of the grace-period state machine, for tests
// and diagnostics.
type Stats struct {
	Generation   uint64
	PendingCalls int
	Waiters      int
}

// StatsSnapshot returns the current grace-period stats.
func StatsSnapshot() Stats {
	grace.mu.Lock()
	defer grace.mu.Unlock()
	return Stats{
		Generation:   grace.generation,
		PendingCalls: len(grace.pending),
		Waiters:      len(grace.waiters),
	}
}

func hartIndex() int {
	c := percpu.Self()
	if c == nil {
		return 0
	}
	id := c.ID()
	if id < 0 {
		return 0
	}
	return id % len(readDepth)
}
