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

// Package timer implements the per-hart tickless timer of spec §4.9: an
// ordered tree keyed by expiration tick (google/btree, the same library
// pkg/waitqueue's KeyedQueue uses for its ordered index) plus a redundant
// sorted linked list, a monotonic current_tick, and retry-limited forced
// removal of callbacks that never call Stop.
package timer

import (
	"fmt"

	"github.com/google/btree"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/ilist"
	"github.com/kestrel-kernel/core/pkg/kassert"
	"github.com/kestrel-kernel/core/pkg/klog"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// treeDegree matches pkg/waitqueue's KeyedQueue choice: google/btree's own
// suggested default for small-to-medium ordered sets.
const treeDegree = 32

// Callback is invoked by Tick for an expired Node. Callbacks run with
// timer.lock already held (per spec §4.9's "tick handler runs with
// timer.lock held") and must not sleep; a callback that wants to
// deregister its own node calls n.Stop() (not Root.Remove, which would
// try to reacquire the lock Tick is already holding and deadlock). A
// node left armed after its callback returns is retried on a later Tick,
// up to the Root's retry limit, before being forcibly removed.
type Callback func(n *Node)

// Node is one armed timer, per spec's Data Model ("node: expiration tick,
// callback, opaque data, retry counter, tree/list linkage").
type Node struct {
	expires uint64
	seq     uint64 // tie-break for the tree's ordering and btree.Item identity
	cb      Callback
	Data    any

	retries    int
	inTree     bool
	root       *Root

	next, prev *Node // ilist.Linker, backs the redundant sorted list
}

func (n *Node) SetNext(e *Node) { n.next = e }
func (n *Node) SetPrev(e *Node) { n.prev = e }
func (n *Node) Next() *Node     { return n.next }
func (n *Node) Prev() *Node     { return n.prev }

var _ = ilist.Linker[*Node](&Node{})

// Expires returns the tick this node is armed to fire at.
func (n *Node) Expires() uint64 { return n.expires }

// Stop deregisters n from within its own callback, where the owning
// Root's lock is already held by the calling Tick — see Callback's doc.
// It is a no-op if n is not currently armed. A thread other than the one
// running Tick must use Root.Remove instead, which takes the lock itself.
func (n *Node) Stop() {
	if n.root == nil {
		return
	}
	n.root.removeLocked(n)
}

// nodeItem adapts *Node to btree.Item, ordered by (expires, seq) exactly
// like pkg/waitqueue/keyed.go's keyedItem — the same tie-break shape,
// grounded on the same library.
type nodeItem struct{ n *Node }

func (a nodeItem) Less(other btree.Item) bool {
	b := other.(nodeItem)
	if a.n.expires != b.n.expires {
		return a.n.expires < b.n.expires
	}
	return a.n.seq < b.n.seq
}

// Root is a per-hart timer_root: the ordered tree, the redundant sorted
// list, current_tick, and a next_tick cache, per spec §4.9's Data Model.
type Root struct {
	Lock spinlock.Spinlock

	tree       *btree.BTree
	list       ilist.List[*Node]
	nextSeq    uint64
	currentTick uint64
	nextTick    uint64 // 0 means "no armed timer"
	retryLimit  int
	valid       bool
}

// NewRoot returns an initialized, empty Root. retryLimit bounds how many
// times a callback that never calls Stop is retried before forced
// removal (spec §4.9, S6).
func NewRoot(retryLimit int) *Root {
	return &Root{
		tree:       btree.New(treeDegree),
		retryLimit: retryLimit,
		valid:      true,
	}
}

// CurrentTick returns the root's monotonic tick counter.
func (r *Root) CurrentTick() uint64 {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	return r.currentTick
}

// Len returns the number of currently-armed nodes.
func (r *Root) Len() int {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	return r.tree.Len()
}

// Add implements spec §4.9's timer_add: fails EINVAL if expires is
// already at or before current_tick (B3), if n is already armed in a
// tree, or if the root is invalid.
func (r *Root) Add(n *Node, expires uint64, cb Callback) errno.Errno {
	r.Lock.Lock()
	defer r.Lock.Unlock()

	if !r.valid {
		return errno.EINVAL
	}
	if n.inTree {
		return errno.EINVAL
	}
	if expires <= r.currentTick {
		return errno.EINVAL
	}

	n.expires = expires
	n.cb = cb
	n.seq = r.nextSeq
	r.nextSeq++
	n.retries = 0
	n.inTree = true
	n.root = r

	r.tree.ReplaceOrInsert(nodeItem{n})
	r.spliceSortedLocked(n)
	r.refreshNextTickLocked()
	return errno.OK
}

// spliceSortedLocked inserts n into the redundant sorted list using the
// tree's predecessor to find the splice point, per spec §4.9's "redundant
// linked list (sorted, insertion uses tree predecessor to splice)".
// Caller must hold r.Lock.
func (r *Root) spliceSortedLocked(n *Node) {
	var pred *Node
	r.tree.DescendLessOrEqual(nodeItem{n}, func(item btree.Item) bool {
		cand := item.(nodeItem).n
		if cand != n {
			pred = cand
			return false
		}
		return true
	})
	if pred == nil {
		r.list.PushFront(n)
		return
	}
	r.list.InsertAfter(pred, n)
}

// Remove implements spec §4.9's timer_remove. It is a no-op if n is not
// currently armed (matching the "callback must call timer_remove, or it
// is retried" contract — removal is idempotent from the callback's own
// perspective).
func (r *Root) Remove(n *Node) {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	r.removeLocked(n)
}

func (r *Root) removeLocked(n *Node) {
	if !n.inTree {
		return
	}
	kassert.Assert(n.root == r, "timer: Remove called on a node owned by a different Root")
	r.tree.Delete(nodeItem{n})
	r.list.Remove(n)
	n.inTree = false
	n.root = nil
	r.refreshNextTickLocked()
}

func (r *Root) refreshNextTickLocked() {
	if r.tree.Len() == 0 {
		r.nextTick = 0
		return
	}
	r.nextTick = r.list.Front().expires
}

// NextTick returns the earliest armed expiration, or 0 if no timer is
// armed — the hart's idle loop uses this to decide how long it may sleep
// before the next tick matters.
func (r *Root) NextTick() uint64 {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	return r.nextTick
}

// Tick implements spec §4.9's timer_tick(ticks): advances current_tick by
// one, and for each node with expires <= current_tick, invokes its
// callback once, with timer.lock held. A callback that does not call
// n.Stop is retried on a later Tick where it is still expired (it stays
// armed at its original position; expires doesn't change), up to
// retryLimit times, after which the node is forcibly removed and a
// warning logged (S6: fires retryLimit times total, then is gone).
func (r *Root) Tick() {
	r.Lock.Lock()
	defer r.Lock.Unlock()

	r.currentTick++

	// Snapshot the due nodes before invoking any callback: a callback
	// may call Stop (or Add a new node), mutating r.list/r.tree, and
	// this traversal must not observe those mutations mid-walk.
	var due []*Node
	for n := r.list.Front(); n != nil && n.expires <= r.currentTick; n = n.Next() {
		due = append(due, n)
	}

	for _, n := range due {
		cb := n.cb
		if cb != nil {
			cb(n)
		}
		if !n.inTree {
			// callback called Stop; nothing more to do for n.
			continue
		}
		n.retries++
		if n.retries >= r.retryLimit {
			klog.WithFields(klog.Fields{"expires": n.expires, "retries": n.retries}).
				Warningf("timer: forcibly removing node that never called Stop")
			r.removeLocked(n)
		}
		// else: still armed at the same (expires, seq) key, under the
		// retry limit — the next Tick where it's still due retries it.
	}
	r.refreshNextTickLocked()
}

// Invalidate marks r invalid; subsequent Add calls return EINVAL, per
// spec §4.9's "or the root is invalid" failure mode (e.g. a hart being
// taken offline).
func (r *Root) Invalidate() {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	r.valid = false
}

func (n *Node) String() string {
	return fmt.Sprintf("timer.Node{expires=%d, seq=%d}", n.expires, n.seq)
}
