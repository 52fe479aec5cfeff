package spinlock

import (
	"sync"
	"testing"

	"github.com/kestrel-kernel/core/pkg/percpu"
)

func bindHart(t *testing.T, table *percpu.Table, id int) *percpu.CPU {
	t.Helper()
	c := table.CPU(id)
	percpu.BindCurrentGoroutine(c)
	t.Cleanup(percpu.UnbindCurrentGoroutine)
	return c
}

func TestLockUnlockRecordsOwner(t *testing.T) {
	table := percpu.NewTable(2)
	bindHart(t, table, 0)
	l := New()
	l.Lock()
	if !l.Holding() {
		t.Errorf("Holding() = false immediately after Lock()")
	}
	l.Unlock()
	if l.Holding() {
		t.Errorf("Holding() = true after Unlock()")
	}
}

// L1: spin_lock; spin_unlock restores interrupt state exactly; push_off;
// pop_off matched pairs compose.
func TestMatchedPushPopCompose(t *testing.T) {
	table := percpu.NewTable(1)
	c := bindHart(t, table, 0)
	l1, l2 := New(), New()
	l1.Lock()
	if got := c.SpinDepth(); got != 1 {
		t.Fatalf("SpinDepth after one lock = %d, want 1", got)
	}
	l2.Lock()
	if got := c.SpinDepth(); got != 2 {
		t.Fatalf("SpinDepth after nested lock = %d, want 2", got)
	}
	l2.Unlock()
	l1.Unlock()
	if got := c.SpinDepth(); got != 0 {
		t.Fatalf("SpinDepth after matched unlocks = %d, want 0", got)
	}
}

func TestUnlockByNonOwnerPanics(t *testing.T) {
	table := percpu.NewTable(2)
	c0 := table.CPU(0)
	c1 := table.CPU(1)
	l := New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		percpu.BindCurrentGoroutine(c0)
		defer percpu.UnbindCurrentGoroutine()
		l.Lock()
	}()
	wg.Wait()
	defer func() {
		// Release l as its owner so its held count does not leak into
		// later tests that share hart 0's bucket.
		percpu.BindCurrentGoroutine(c0)
		defer percpu.UnbindCurrentGoroutine()
		l.Unlock()
	}()

	percpu.BindCurrentGoroutine(c1)
	defer percpu.UnbindCurrentGoroutine()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Unlock by non-owning hart did not panic")
		}
	}()
	l.Unlock()
}

func TestAssertNoneHeldPanicsWhileHeld(t *testing.T) {
	table := percpu.NewTable(1)
	bindHart(t, table, 0)
	l := New()
	l.Lock()
	defer l.Unlock()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("AssertNoneHeld did not panic while a spinlock is held")
		}
	}()
	AssertNoneHeld()
}

func TestAssertNoneHeldOKWhenFree(t *testing.T) {
	table := percpu.NewTable(1)
	bindHart(t, table, 0)
	AssertNoneHeld() // must not panic
}

func TestConcurrentMutualExclusion(t *testing.T) {
	table := percpu.NewTable(4)
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(hart int) {
			defer wg.Done()
			percpu.BindCurrentGoroutine(table.CPU(hart))
			defer percpu.UnbindCurrentGoroutine()
			for j := 0; j < 1000; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if counter != 4000 {
		t.Errorf("counter = %d, want 4000 (races would corrupt this)", counter)
	}
}
