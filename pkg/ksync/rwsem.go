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

package ksync

import (
	"fmt"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/spinlock"
	"github.com/kestrel-kernel/core/pkg/waitqueue"
)

// RWSem is the reader/writer semaphore of spec §4.3: an embedded spinlock, a
// reader count, the holding writer's hart id (-1 if none), separate read and
// write waitqueues, and a PrioWrite policy bit controlling which side wakes
// first when both are waiting.
type RWSem struct {
	lock      spinlock.Spinlock
	readers   int
	holder    int32 // hart id of the current writer, -1 if none
	prioWrite bool
	readQ     waitqueue.Queue
	writeQ    waitqueue.Queue
}

// NewRWSem returns an initialized, unheld RWSem. prioWrite selects the
// PRIO_WRITE policy: when true, a pending writer blocks new readers (writer
// starvation avoidance); when false, readers are favored.
func NewRWSem(name string, prioWrite bool) *RWSem {
	s := &RWSem{holder: -1, prioWrite: prioWrite}
	s.readQ.Init(name+".read", &s.lock)
	s.writeQ.Init(name+".write", &s.lock)
	return s
}

// AcquireRead blocks while a writer holds s, or (under PRIO_WRITE) while any
// writer is waiting.
func (s *RWSem) AcquireRead() {
	s.lock.Lock()
	for s.holder != -1 || (s.prioWrite && s.writeQ.Size() > 0) {
		waitqueue.Wait(&s.readQ, &s.lock, nil)
		s.lock.Lock()
	}
	s.readers++
	s.lock.Unlock()
}

// AcquireWrite blocks while readers > 0 or any writer holds s. Double
// acquisition by the same writer is a programmer error and panics, per
// spec §4.3.
func (s *RWSem) AcquireWrite() {
	s.lock.Lock()
	if s.holder == int32(hartID()) {
		s.lock.Unlock()
		panic("ksync: RWSem double write-acquire by the same hart")
	}
	for s.readers > 0 || s.holder != -1 {
		waitqueue.Wait(&s.writeQ, &s.lock, nil)
		s.lock.Lock()
	}
	s.holder = int32(hartID())
	s.lock.Unlock()
}

// ReleaseRead decrements the reader count and, on reaching zero, wakes
// waiters per the PRIO_WRITE policy.
func (s *RWSem) ReleaseRead() {
	s.lock.Lock()
	if s.readers == 0 {
		s.lock.Unlock()
		panic("ksync: RWSem read-release with no readers held")
	}
	s.readers--
	if s.readers == 0 {
		s.wakeLocked()
	}
	s.lock.Unlock()
}

// ReleaseWrite clears the holding writer and wakes waiters per the
// PRIO_WRITE policy. It panics if the calling hart is not the holder.
func (s *RWSem) ReleaseWrite() {
	s.lock.Lock()
	if s.holder != int32(hartID()) {
		s.lock.Unlock()
		panic(fmt.Sprintf("ksync: RWSem write-release by non-holder (holder=%d, caller=%d)", s.holder, hartID()))
	}
	s.holder = -1
	s.wakeLocked()
	s.lock.Unlock()
}

// wakeLocked wakes the writer side first or the reader side first according
// to prioWrite, and must be called with s.lock held.
func (s *RWSem) wakeLocked() {
	if s.prioWrite {
		if waitqueue.WakeupOne(&s.writeQ, errno.OK, nil) {
			return
		}
		waitqueue.WakeupAll(&s.readQ, errno.OK, nil)
		return
	}
	if waitqueue.WakeupAll(&s.readQ, errno.OK, nil) > 0 {
		return
	}
	waitqueue.WakeupOne(&s.writeQ, errno.OK, nil)
}
