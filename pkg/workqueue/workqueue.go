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

// Package workqueue implements the bounded work-queue of spec §4.10: one
// manager goroutine per Workqueue growing a pool of worker goroutines up
// to [min_active, max_active], plus the queue_work / create_work_struct
// surface callers use to hand off deferred work. The pool never shrinks
// while the queue is active: workers exit only after Destroy.
package workqueue

import (
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/ilist"
	"github.com/kestrel-kernel/core/pkg/klog"
	"github.com/kestrel-kernel/core/pkg/spinlock"
	"github.com/kestrel-kernel/core/pkg/waitqueue"
)

// DefaultMaxActive and MaxWorkqueueActive implement B2: max_active == 0
// means "use the default"; max_active > MAX_WORKQUEUE_ACTIVE is clamped.
const (
	DefaultMaxActive   = 4
	MaxWorkqueueActive = 64
	defaultMinActive   = 1
)

// Workqueue is spec's Data Model "workqueue: name, lock, min/max_active,
// pending work list, worker list, idle_queue, active flag."
type Workqueue struct {
	name string
	lock spinlock.Spinlock

	minActive int
	maxActive int
	active    bool

	pending    ilist.List[*Work]
	pendingLen int

	workers   ilist.List[*worker]
	nrWorkers int

	idleQueue waitqueue.Queue

	managerWake chan struct{}
	stopCh      chan struct{}

	// SpawnHook, if non-nil, stands in for the firmware/allocator call a
	// real create_kthread would make; tests use it to inject ENOMEM
	// without touching the manager loop itself. nil means "always
	// succeeds."
	SpawnHook func() errno.Errno
}

// worker is one pool member: a goroutine running workerLoop, linked into
// wq.workers for spec's "on worker exit the worker removes itself from
// the worker list."
type worker struct {
	next, prev *worker
}

func (w *worker) SetNext(e *worker) { w.next = e }
func (w *worker) SetPrev(e *worker) { w.prev = e }
func (w *worker) Next() *worker     { return w.next }
func (w *worker) Prev() *worker     { return w.prev }

var _ = ilist.Linker[*worker](&worker{})

// Create implements spec's workqueue_create(name, max_active), with
// min_active fixed at the package default (the C-level API spec.md names
// takes only max_active; min_active is internal policy, exercised
// directly via CreateWithMinActive for callers — and tests — that need
// control over it, e.g. S5).
func Create(name string, maxActive int) (*Workqueue, errno.Errno) {
	return CreateWithMinActive(name, maxActive, defaultMinActive)
}

// CreateWithMinActive is Create with an explicit min_active, per spec
// §4.10's "min_active <= n <= max_active" and S5's "max_active=4,
// min_active=1".
func CreateWithMinActive(name string, maxActive, minActive int) (*Workqueue, errno.Errno) {
	if maxActive < 0 {
		return nil, errno.EINVAL
	}
	if maxActive == 0 {
		maxActive = DefaultMaxActive
	}
	if maxActive > MaxWorkqueueActive {
		maxActive = MaxWorkqueueActive
	}
	if minActive < 0 {
		minActive = 0
	}
	if minActive > maxActive {
		minActive = maxActive
	}

	wq := &Workqueue{
		name:        name,
		minActive:   minActive,
		maxActive:   maxActive,
		active:      true,
		managerWake: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	wq.idleQueue.Init(name+".idle", &wq.lock)

	klog.WithFields(klog.Fields{"name": name, "min_active": minActive, "max_active": maxActive}).
		Infof("workqueue created")
	go wq.managerLoop()
	return wq, errno.OK
}

// Name returns the workqueue's diagnostic name.
func (wq *Workqueue) Name() string { return wq.name }

// NrWorkers returns the current worker pool size, per S5's "nr_workers
// returns to between min_active and max_active."
func (wq *Workqueue) NrWorkers() int {
	wq.lock.Lock()
	defer wq.lock.Unlock()
	return wq.nrWorkers
}

// PendingLen returns the number of work items not yet handed to a worker.
func (wq *Workqueue) PendingLen() int {
	wq.lock.Lock()
	defer wq.lock.Unlock()
	return wq.pendingLen
}

// QueueWork implements spec's queue_work(wq, work) -> bool: under wq.lock,
// refuses if the queue is inactive, else appends work and wakes the
// manager.
func QueueWork(wq *Workqueue, w *Work) bool {
	wq.lock.Lock()
	if !wq.active {
		wq.lock.Unlock()
		return false
	}
	wq.pending.PushBack(w)
	wq.pendingLen++
	wq.lock.Unlock()

	wq.pokeManager()
	return true
}

func (wq *Workqueue) pokeManager() {
	select {
	case wq.managerWake <- struct{}{}:
	default:
	}
}

// Destroy marks wq inactive and wakes the manager and every idle worker so
// they observe the inactive queue at their next pop and exit, per spec's
// worker-loop step 1 ("if none and queue is inactive, exit"). It does not
// wait for drain; callers that need that guarantee should drain pending
// work (e.g. via a completion) before calling Destroy.
func (wq *Workqueue) Destroy() {
	wq.lock.Lock()
	wq.active = false
	n := waitqueue.WakeupAll(&wq.idleQueue, errno.OK, nil)
	wq.lock.Unlock()

	close(wq.stopCh)
	klog.WithFields(klog.Fields{"name": wq.name, "idle_woken": n}).Infof("workqueue destroyed")
}
