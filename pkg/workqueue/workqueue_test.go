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
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/ksync"
)

// B2: workqueue_create(name, 0) uses the default max_active; <0 returns
// error; > MAX_WORKQUEUE_ACTIVE is clamped.
func TestCreateMaxActiveBoundary(t *testing.T) {
	if wq, e := Create("zero", 0); e != errno.OK || wq.maxActive != DefaultMaxActive {
		t.Errorf("Create(0) = (maxActive=%d, %v), want (%d, OK)", wq.maxActive, e, DefaultMaxActive)
	}
	if _, e := Create("negative", -1); e != errno.EINVAL {
		t.Errorf("Create(-1) = %v, want EINVAL", e)
	}
	if wq, e := Create("huge", MaxWorkqueueActive+100); e != errno.OK || wq.maxActive != MaxWorkqueueActive {
		t.Errorf("Create(huge) = (maxActive=%d, %v), want (%d, OK)", wq.maxActive, e, MaxWorkqueueActive)
	}
}

func TestQueueWorkRefusedOnInactiveQueue(t *testing.T) {
	wq, _ := Create("inactive-test", 2)
	wq.Destroy()

	w := CreateWorkStruct(func(*Work) {}, nil)
	if ok := QueueWork(wq, w); ok {
		t.Errorf("QueueWork() on destroyed queue = true, want false")
	}
}

func TestCreateWorkStructRoundTrip(t *testing.T) {
	calls := 0
	w := CreateWorkStruct(func(*Work) { calls++ }, "payload")
	if w.Data != "payload" {
		t.Errorf("Data = %v, want %q", w.Data, "payload")
	}
	w.Func(w)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	FreeWorkStruct(w)
	if w.Func != nil || w.Data != nil {
		t.Errorf("FreeWorkStruct left Func=%v Data=%v, want both nil", w.Func, w.Data)
	}
}

// A single queued item on a fresh queue is picked up and run without the
// caller doing anything beyond QueueWork.
func TestQueueWorkRunsFunc(t *testing.T) {
	wq, e := Create("single", 2)
	if e != errno.OK {
		t.Fatalf("Create() = %v", e)
	}

	done := make(chan int, 1)
	w := CreateWorkStruct(func(w *Work) { done <- w.Data.(int) }, 42)
	if ok := QueueWork(wq, w); !ok {
		t.Fatalf("QueueWork() = false")
	}

	select {
	case got := <-done:
		if got != 42 {
			t.Errorf("work ran with Data = %d, want 42", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("work never ran")
	}
}

// S5: max_active=4, min_active=1, 16 items whose func blocks on a shared
// completion. Expect the manager to spawn exactly 4 workers and 12 items
// to remain pending until the completion fires, then full drain.
func TestBoundedGrowthAndDrain(t *testing.T) {
	wq, e := CreateWithMinActive("s5", 4, 1)
	if e != errno.OK {
		t.Fatalf("CreateWithMinActive() = %v", e)
	}

	gate := ksync.NewCompletion("s5.gate")
	var started atomic.Int32
	var finished atomic.Int32

	const n = 16
	for i := 0; i < n; i++ {
		w := CreateWorkStruct(func(*Work) {
			started.Add(1)
			gate.WaitFor()
			finished.Add(1)
		}, i)
		if ok := QueueWork(wq, w); !ok {
			t.Fatalf("QueueWork()[%d] = false", i)
		}
	}

	waitForCondition(t, func() bool { return wq.NrWorkers() == 4 })
	waitForCondition(t, func() bool { return started.Load() == 4 })

	if got := wq.PendingLen(); got != n-4 {
		t.Errorf("PendingLen() = %d, want %d", got, n-4)
	}

	gate.CompleteAll()

	waitForCondition(t, func() bool { return finished.Load() == n })
	waitForCondition(t, func() bool { return wq.PendingLen() == 0 })

	nr := wq.NrWorkers()
	if nr < 1 || nr > 4 {
		t.Errorf("NrWorkers() after drain = %d, want between 1 and 4", nr)
	}
}

// Transient ENOMEM on the first worker-creation attempt is retried (via
// backoff) until it succeeds, rather than permanently stalling the pool
// below min_active.
func TestSpawnRetriesThroughTransientENOMEM(t *testing.T) {
	wq, _ := Create("retry", 2)
	var attempts atomic.Int32
	wq.SpawnHook = func() errno.Errno {
		if attempts.Add(1) == 1 {
			return errno.ENOMEM
		}
		return errno.OK
	}

	done := make(chan struct{})
	w := CreateWorkStruct(func(*Work) { close(done) }, nil)
	QueueWork(wq, w)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("work never ran despite retried spawn")
	}
	if attempts.Load() < 2 {
		t.Errorf("attempts = %d, want >= 2 (first ENOMEM, then success)", attempts.Load())
	}
}

func TestApplyReconfigureAdjustsBounds(t *testing.T) {
	wq, _ := Create("reconfig", 2)
	patch := []byte(`[{"op":"replace","path":"/maxActive","value":8},{"op":"replace","path":"/minActive","value":2}]`)
	if e := ApplyReconfigure(wq, patch); e != errno.OK {
		t.Fatalf("ApplyReconfigure() = %v", e)
	}
	wq.lock.Lock()
	maxA, minA := wq.maxActive, wq.minActive
	wq.lock.Unlock()
	if maxA != 8 || minA != 2 {
		t.Errorf("bounds after reconfigure = (%d, %d), want (2, 8)", minA, maxA)
	}
}

func TestApplyReconfigureRejectsUnknownPath(t *testing.T) {
	wq, _ := Create("reconfig-bad", 2)
	patch := []byte(`[{"op":"replace","path":"/name","value":"nope"}]`)
	if e := ApplyReconfigure(wq, patch); e != errno.EINVAL {
		t.Errorf("ApplyReconfigure() = %v, want EINVAL", e)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
