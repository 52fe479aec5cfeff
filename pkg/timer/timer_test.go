package timer

import (
	"testing"

	"github.com/kestrel-kernel/core/pkg/errno"
)

func TestAddFiresAtExpiration(t *testing.T) {
	r := NewRoot(3)
	fired := 0
	n := &Node{}
	if e := r.Add(n, 5, func(n *Node) { fired++; n.Stop() }); e != errno.OK {
		t.Fatalf("Add() = %v", e)
	}
	for i := 0; i < 4; i++ {
		r.Tick()
	}
	if fired != 0 {
		t.Fatalf("fired too early: %d", fired)
	}
	r.Tick() // current_tick now 5
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after self-removal", r.Len())
	}
}

// B3: timer_add with expires <= current_tick returns EINVAL.
func TestAddAtOrBeforeCurrentTickReturnsEINVAL(t *testing.T) {
	r := NewRoot(3)
	r.Tick() // current_tick = 1
	n := &Node{}
	if e := r.Add(n, 1, func(*Node) {}); e != errno.EINVAL {
		t.Errorf("Add(expires=current_tick) = %v, want EINVAL", e)
	}
	if e := r.Add(n, 0, func(*Node) {}); e != errno.EINVAL {
		t.Errorf("Add(expires<current_tick) = %v, want EINVAL", e)
	}
}

func TestAddAlreadyArmedReturnsEINVAL(t *testing.T) {
	r := NewRoot(3)
	n := &Node{}
	r.Add(n, 10, func(*Node) {})
	if e := r.Add(n, 20, func(*Node) {}); e != errno.EINVAL {
		t.Errorf("Add() on already-armed node = %v, want EINVAL", e)
	}
}

func TestAddOnInvalidatedRootReturnsEINVAL(t *testing.T) {
	r := NewRoot(3)
	r.Invalidate()
	if e := r.Add(&Node{}, 10, func(*Node) {}); e != errno.EINVAL {
		t.Errorf("Add() on invalidated root = %v, want EINVAL", e)
	}
}

// S6: register a timer at current_tick+1 with retry_limit=3 and a callback
// that never calls Remove. Advance ticks 1,1,1,1. Expect exactly 3 firings
// and then forced removal; later ticks fire nothing.
func TestRetryLimitForcesRemovalAfterNFirings(t *testing.T) {
	r := NewRoot(3)
	fired := 0
	n := &Node{}
	r.Add(n, 1, func(*Node) { fired++ }) // never calls Remove

	r.Tick() // tick 1: due, fires (retry 1)
	r.Tick() // tick 2: still due, fires (retry 2)
	r.Tick() // tick 3: still due, fires (retry 3 == limit -> forced removal)
	if fired != 3 {
		t.Fatalf("fired = %d, want 3", fired)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after forced removal", r.Len())
	}
	r.Tick() // tick 4: nothing armed
	if fired != 3 {
		t.Errorf("fired after forced removal = %d, want 3 (no further firings)", fired)
	}
}

func TestMultipleNodesFireInExpirationOrder(t *testing.T) {
	r := NewRoot(3)
	var order []int
	a, b, c := &Node{}, &Node{}, &Node{}
	r.Add(c, 3, func(n *Node) { order = append(order, 3); n.Stop() })
	r.Add(a, 1, func(n *Node) { order = append(order, 1); n.Stop() })
	r.Add(b, 2, func(n *Node) { order = append(order, 2); n.Stop() })

	for i := 0; i < 3; i++ {
		r.Tick()
	}
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
		}
	}
}

func TestNextTickReflectsEarliestArmedNode(t *testing.T) {
	r := NewRoot(3)
	if got := r.NextTick(); got != 0 {
		t.Errorf("NextTick() on empty root = %d, want 0", got)
	}
	n1, n2 := &Node{}, &Node{}
	r.Add(n1, 10, func(*Node) {})
	r.Add(n2, 5, func(*Node) {})
	if got := r.NextTick(); got != 5 {
		t.Errorf("NextTick() = %d, want 5", got)
	}
}
