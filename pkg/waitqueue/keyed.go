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

package waitqueue

import (
	"github.com/google/btree"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// keyedItem is the btree.Item wrapping a Waiter, ordered by (key, seq) so
// that waiters sharing a key are still woken in FIFO arrival order — spec
// §4.2's "wake the earliest waiter whose key matches".
type keyedItem struct{ w *Waiter }

func (a keyedItem) Less(than btree.Item) bool {
	b := than.(keyedItem)
	if a.w.key != b.w.key {
		return a.w.key < b.w.key
	}
	return a.w.seq < b.w.seq
}

// degree is the btree branching factor. 32 is google/btree's own suggested
// default for small in-memory trees; there's no benchmark-backed reason to
// deviate for a kernel waitqueue, which is expected to hold at most a
// handful of waiters at once.
const degree = 32

// KeyedQueue is the ordered-tree waitqueue flavor of spec §4.2: same
// contract as Queue, plus an ordering key and find_min_ge(key), used to
// wake the earliest waiter whose key is at or above a threshold (e.g. a
// condition variable keyed by generation count, or a semaphore keyed by
// how many tokens a waiter needs).
type KeyedQueue struct {
	name string
	lock *spinlock.Spinlock
	tree *btree.BTree
	len  int
	next uint64
}

// Init initializes q, binding it to lock.
func (q *KeyedQueue) Init(name string, lock *spinlock.Spinlock) {
	*q = KeyedQueue{name: name, lock: lock, tree: btree.New(degree)}
}

// Name returns the queue's diagnostic name.
func (q *KeyedQueue) Name() string { return q.name }

// Size returns the number of waiters currently parked on q. The caller
// must hold the bound lock.
func (q *KeyedQueue) Size() int { return q.len }

// Push enqueues w under key. The caller must hold the bound lock.
func (q *KeyedQueue) Push(w *Waiter, key int64) {
	w.key = key
	w.seq = q.next
	q.next++
	w.owner = q
	w.linked = true
	q.tree.ReplaceOrInsert(keyedItem{w})
	q.len++
}

// FindMinGE returns and detaches the waiter with the smallest key that is
// >= key, or nil if none qualifies. The caller must hold the bound lock.
func (q *KeyedQueue) FindMinGE(key int64) *Waiter {
	var found *Waiter
	pivot := keyedItem{&Waiter{key: key, seq: 0}}
	q.tree.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		found = item.(keyedItem).w
		return false // stop at the first (minimal) match
	})
	if found == nil {
		return nil
	}
	q.removeLocked(found)
	return found
}

// Remove detaches w from q if it is currently linked into q. The caller
// must hold the bound lock.
func (q *KeyedQueue) Remove(w *Waiter) {
	if w.linked && w.owner == detacher(q) {
		q.removeLocked(w)
	}
}

func (q *KeyedQueue) removeLocked(w *Waiter) {
	q.tree.Delete(keyedItem{w})
	w.linked = false
	w.owner = nil
	q.len--
}

// WaitKeyed is the keyed-tree analogue of Wait: it parks the calling
// goroutine on a Waiter enqueued under key, honoring the same lock and
// interruptibility contract as Wait.
func WaitKeyed(q *KeyedQueue, key int64, lock *spinlock.Spinlock, interrupt <-chan struct{}) (errno.Errno, any) {
	assertWaitPreconditions(lock)
	w := newWaiter()
	q.Push(w, key)
	lock.Unlock()

	interrupted := park(w, interrupt)

	if interrupted {
		lock.Lock()
		q.Remove(w)
		lock.Unlock()
		return errno.EINTR, nil
	}
	return w.errno, w.data
}

// WakeupKeyMin wakes the waiter with the smallest key >= key, if any,
// setting its errno/data. The caller must hold the bound lock. It returns
// false if no qualifying waiter was found.
func WakeupKeyMin(q *KeyedQueue, key int64, e errno.Errno, data any) bool {
	w := q.FindMinGE(key)
	if w == nil {
		return false
	}
	w.wake(e, data)
	return true
}
