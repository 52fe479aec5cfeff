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
	"time"

	"github.com/kestrel-kernel/core/pkg/ilist"
	"github.com/kestrel-kernel/core/pkg/ipi"
	"github.com/kestrel-kernel/core/pkg/percpu"
	"github.com/kestrel-kernel/core/pkg/rcu"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// numPriorityTiers bounds the priority-tiered run queue of spec §4.5
// ("priority-tiered; within a tier, FIFO with a quantum"). Five tiers is
// plenty for a teaching kernel and matches the number of niceness buckets
// the Design Notes imply without naming a constant.
const numPriorityTiers = 5

// RunQueue is a per-hart run queue: a priority-tiered list of runnable
// Tasks, protected by its own spinlock, per spec's Data Model ("Run-queue.
// Per-CPU; a list of runnable threads ordered by priority tier").
type RunQueue struct {
	hart int
	lock spinlock.Spinlock
	tiers [numPriorityTiers]ilist.List[*Task]
	size  int
}

// NewRunQueue returns an empty run queue bound to hart.
func NewRunQueue(hart int) *RunQueue {
	return &RunQueue{hart: hart}
}

// clampTier keeps a task's priority within the valid tier range.
func clampTier(p int) int {
	if p < 0 {
		return 0
	}
	if p >= numPriorityTiers {
		return numPriorityTiers - 1
	}
	return p
}

// enqueue places t at the tail of its priority tier. The caller must hold
// rq.lock.
func (rq *RunQueue) enqueue(t *Task) {
	tier := clampTier(t.priority)
	rq.tiers[tier].PushBack(t)
	t.onRunQ = true
	rq.size++
}

// pickNextLocked returns and dequeues the highest-priority runnable task,
// or nil if rq is empty. The caller must hold rq.lock.
func (rq *RunQueue) pickNextLocked() *Task {
	for i := range rq.tiers {
		if !rq.tiers[i].Empty() {
			t := rq.tiers[i].Front()
			rq.tiers[i].Remove(t)
			t.onRunQ = false
			rq.size--
			return t
		}
	}
	return nil
}

// Len returns the number of runnable tasks currently queued, across all
// tiers.
func (rq *RunQueue) Len() int {
	rq.lock.Lock()
	defer rq.lock.Unlock()
	return rq.size
}

// Scheduler owns one RunQueue per hart and the Wakeup/Yield policy of spec
// §4.5. Its Wakeup and Continue set Task.state to RUNNING; the other state
// writes (Sleep, Exit, and signal delivery's STOPPED transition) live in
// task_sleep.go, task.go and signal_deliver.go, all under the same tcbLock.
type Scheduler struct {
	runQueues []*RunQueue
}

// NewScheduler allocates one run queue per hart.
func NewScheduler(numHarts int) *Scheduler {
	s := &Scheduler{runQueues: make([]*RunQueue, numHarts)}
	for i := range s.runQueues {
		s.runQueues[i] = NewRunQueue(i)
	}
	return s
}

func (s *Scheduler) runQueueFor(hart int) *RunQueue {
	if hart < 0 || hart >= len(s.runQueues) {
		hart = 0
	}
	return s.runQueues[hart]
}

// Wakeup transitions t to RUNNING and places it on its home run queue,
// per spec §4.5: "Wakeups touch the TCB under tcb_lock: if STOPPED, the
// wake is deferred (only SIGCONT resumes); if INTERRUPTIBLE, state becomes
// RUNNING...; a wakeup targeting UNINTERRUPTIBLE is ignored unless the
// wakeup is itself uninterruptible." Wakeup on a ZOMBIE is a no-op. An
// UNUSED task is one CreateKthread has made but not yet woken; its first
// Wakeup makes it RUNNING.
func (s *Scheduler) Wakeup(t *Task, uninterruptibleWake bool) {
	t.tcbLock.Lock()
	switch t.state {
	case Zombie, Stopped:
		// STOPPED is handled by Continue, not Wakeup; ZOMBIE is a no-op
		// per spec's Failure semantics ("wakeup on a ZOMBIE/UNUSED thread
		// is a no-op").
		t.tcbLock.Unlock()
		return
	case Uninterruptible:
		if !uninterruptibleWake {
			t.tcbLock.Unlock()
			return
		}
	case Running:
		// t hasn't yet transitioned into a sleep state — mark AWOKEN so
		// its imminent Sleep call (or task_create.go's run(), parked on
		// firstWake) returns immediately instead of blocking, per spec
		// §5's ordering guarantee.
		t.flags |= FlagAwoken
		t.tcbLock.Unlock()
		return
	case Unused:
		// The one case spec.md's "(ready) --wakeup--> RUNNING" edge
		// covers: a freshly created_kthread's very first wakeup. Fall
		// through to the common RUNNING transition below; task_create.go's
		// run() goroutine is parked on firstWake until this happens.
	}
	t.state = Running
	t.sleepingQ = nil
	if t.homeHart < 0 {
		// First enqueue: record a home CPU, per spec's "a thread has a
		// home CPU recorded on enqueue."
		t.homeHart = 0
	}
	hart := t.homeHart
	fw := t.firstWake
	t.firstWake = nil
	// If t is genuinely parked in Sleep (on some waitqueue this scheduler
	// knows nothing about), release it directly rather than relying on
	// the run-queue placement below, which by itself cannot resume a
	// blocked goroutine — only close the channel it is actually parked
	// on, per spec §4.5's INTERRUPTIBLE/UNINTERRUPTIBLE -> RUNNING edge.
	wake := t.wakeDirectLocked()
	t.tcbLock.Unlock()

	if fw != nil {
		close(fw)
	}
	if wake != nil {
		close(wake)
	}

	rq := s.runQueueFor(hart)
	rq.lock.Lock()
	rq.enqueue(t)
	rq.lock.Unlock()

	s.pokeHart(hart)
}

// pokeHart forces a reschedule checkpoint on hart: if it is the calling
// hart it just needs NEEDS_RESCHED set, otherwise an IPI_RESCHEDULE is
// needed to force the remote hart to notice, per spec §4.5's Affinity
// paragraph.
func (s *Scheduler) pokeHart(hart int) {
	if cpu := percpu.Self(); cpu != nil && cpu.ID() == hart {
		cpu.SetFlag(percpu.NeedsResched)
		return
	}
	ipi.SendSingle(hart, ipi.ReasonReschedule)
}

// Continue wakes a STOPPED task (SIGCONT), the one path that can revive a
// stopped thread per the state diagram's STOPPED--continue-->RUNNING edge.
func (s *Scheduler) Continue(t *Task) {
	t.tcbLock.Lock()
	if t.state != Stopped {
		t.tcbLock.Unlock()
		return
	}
	t.state = Running
	hart := t.homeHart
	sw := t.stopWait
	t.stopWait = nil
	t.tcbLock.Unlock()

	if sw != nil {
		close(sw)
	}
	rq := s.runQueueFor(hart)
	rq.lock.Lock()
	rq.enqueue(t)
	rq.lock.Unlock()
	s.pokeHart(hart)
}

// PickNext picks the next runnable task on hart, or nil (the caller falls
// back to an idle loop), per spec §4.5's "falling back to the idle
// thread".
func (s *Scheduler) PickNext(hart int) *Task {
	rq := s.runQueueFor(hart)
	rq.lock.Lock()
	defer rq.lock.Unlock()
	return rq.pickNextLocked()
}

// idleSpin bounds how long IdleLoop sleeps between PickNext polls when a
// hart's run queue is empty, so an idle hart doesn't busy-loop.
const idleSpin = time.Millisecond

// Yield implements spec §4.5's scheduler_yield, "the single switch point":
// it clears hart's NEEDS_RESCHED latch, picks the next runnable task off
// hart's run queue (falling back to nil, the idle case), and records this
// hart's quiescent state per §4.11 ("a hart passing through scheduler_yield
// is a quiescent point for RCU"). Every suspension point in §5 ultimately
// funnels through here.
func (s *Scheduler) Yield(hart int) *Task {
	if cpu := percpu.Self(); cpu != nil {
		cpu.ClearFlag(percpu.NeedsResched)
	}
	next := s.PickNext(hart)
	rcu.QuiescentState()
	return next
}

// IdleLoop is the per-hart run loop: it binds the calling goroutine to cpu
// (standing in for "this goroutine IS hart N"), then repeatedly calls Yield.
// Every Task already drives itself via its own long-lived goroutine
// (task_create.go's run()), so "dispatching" the picked task here means
// recording it as this hart's Current() for diagnostics and Invariant-2
// bookkeeping, not invoking its code directly; IdleLoop instead falls back
// to a brief idleSpin sleep when the run queue is empty, per spec §4.5's
// "falling back to the idle thread." It returns when stop is closed,
// unbinding the goroutine first.
//
// This is the real production driver PickNext and rcu.QuiescentState were
// missing: cmd/kestrelsim spawns one IdleLoop per hart from Machine.Boot.
func (s *Scheduler) IdleLoop(hart int, cpu *percpu.CPU, stop <-chan struct{}) {
	percpu.BindCurrentGoroutine(cpu)
	defer percpu.UnbindCurrentGoroutine()

	for {
		select {
		case <-stop:
			return
		default:
		}

		t := s.Yield(hart)
		if t == nil {
			cpu.SetCurrent((*Task)(nil))
			time.Sleep(idleSpin)
			continue
		}
		cpu.SetCurrent(t)
	}
}
