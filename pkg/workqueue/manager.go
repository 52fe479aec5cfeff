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

package workqueue

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/klog"
	"github.com/kestrel-kernel/core/pkg/waitqueue"
)

// managerLoop implements spec §4.10's manager loop. It runs for the
// lifetime of the Workqueue; Destroy's close(wq.stopCh) is its only exit.
func (wq *Workqueue) managerLoop() {
	for {
		wq.lock.Lock()
		wq.growPoolLocked()
		wq.wakeIdleToCoverPendingLocked()
		wq.lock.Unlock()

		select {
		case <-wq.managerWake:
		case <-wq.stopCh:
			return
		}
	}
}

// growPoolLocked implements step 1: "while n < min_active, or pending > n
// and n < max_active, create a worker (failure breaks the loop)." Creation
// itself must not run with wq.lock held (it may retry with backoff, and a
// spinlock held across a sleep is exactly the misuse spec §7 assigns to
// kassert elsewhere) — so this drops the lock around each attempt and
// re-evaluates the condition after reacquiring it.
func (wq *Workqueue) growPoolLocked() {
	for wq.shouldGrowLocked() {
		wq.lock.Unlock()
		e := wq.spawnWorkerWithBackoff()
		wq.lock.Lock()
		if e != errno.OK {
			klog.WithFields(klog.Fields{"name": wq.name, "nr_workers": wq.nrWorkers}).
				Warningf("workqueue: worker creation failed, pool may stay below min_active")
			return
		}
	}
}

func (wq *Workqueue) shouldGrowLocked() bool {
	if wq.nrWorkers < wq.minActive {
		return true
	}
	return wq.pendingLen > wq.nrWorkers && wq.nrWorkers < wq.maxActive
}

// wakeIdleToCoverPendingLocked implements step 2: "while any idle workers
// exist and running workers cannot cover pending work, wake one idle
// worker from the idle_queue," handing it the next pending Work directly
// through the wait descriptor's data slot.
func (wq *Workqueue) wakeIdleToCoverPendingLocked() {
	for wq.pendingLen > 0 && wq.idleQueue.Size() > 0 {
		w := wq.popPendingLocked()
		waitqueue.WakeupOne(&wq.idleQueue, errno.OK, w)
	}
}

func (wq *Workqueue) popPendingLocked() *Work {
	if wq.pending.Empty() {
		return nil
	}
	w := wq.pending.Front()
	wq.pending.Remove(w)
	wq.pendingLen--
	return w
}

var errTransientENOMEM = errors.New("workqueue: transient ENOMEM spawning worker")

// spawnWorkerWithBackoff wraps trySpawnWorker in the backoff/retry policy
// named in the DOMAIN STACK: ENOMEM is treated as transient and retried
// with exponential backoff; any other failure (there is none today besides
// OK/ENOMEM, but the shape stays general) is permanent and stops retrying
// immediately.
func (wq *Workqueue) spawnWorkerWithBackoff() errno.Errno {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 50 * time.Millisecond

	var result errno.Errno
	op := func() error {
		result = wq.trySpawnWorker()
		if result == errno.ENOMEM {
			return errTransientENOMEM
		}
		return nil
	}
	backoff.Retry(op, b)
	return result
}

// trySpawnWorker allocates and launches one worker goroutine, per step 1's
// "create a worker." SpawnHook, when set, stands in for the allocation
// failure a real create_kthread could report.
func (wq *Workqueue) trySpawnWorker() errno.Errno {
	if wq.SpawnHook != nil {
		if e := wq.SpawnHook(); e != errno.OK {
			return e
		}
	}

	wq.lock.Lock()
	wk := &worker{}
	wq.workers.PushBack(wk)
	wq.nrWorkers++
	wq.lock.Unlock()

	go wq.workerLoop(wk)
	return errno.OK
}

// workerLoop implements spec §4.10's worker loop.
func (wq *Workqueue) workerLoop(wk *worker) {
	wq.lock.Lock()
	for {
		work := wq.popPendingLocked()
		if work == nil {
			if !wq.active {
				break
			}
			_, data := waitqueue.Wait(&wq.idleQueue, &wq.lock, nil)
			wq.lock.Lock()
			if data == nil {
				continue // spurious wake (e.g. Destroy's WakeupAll); retry the pop
			}
			work = data.(*Work)
		}

		wq.lock.Unlock()
		work.Func(work)
		wq.lock.Lock()
	}

	wq.workers.Remove(wk)
	wq.nrWorkers--
	wq.lock.Unlock()
}
