package ilist

import "testing"

type node struct {
	val        int
	next, prev *node
}

func (n *node) SetNext(e *node) { n.next = e }
func (n *node) SetPrev(e *node) { n.prev = e }
func (n *node) Next() *node     { return n.next }
func (n *node) Prev() *node     { return n.prev }

func collect(l *List[*node]) []int {
	var out []int
	l.ForEach(func(n *node) { out = append(out, n.val) })
	return out
}

func TestPushBackFront(t *testing.T) {
	l := &List[*node]{}
	a, b, c := &node{val: 1}, &node{val: 2}, &node{val: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushFront(c)
	if got, want := collect(l), []int{3, 1, 2}; !intsEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if l.Len() != 3 {
		t.Errorf("Len() = %d, want 3", l.Len())
	}
	if l.Front() != c || l.Back() != b {
		t.Errorf("Front/Back mismatch")
	}
}

func TestRemoveMiddle(t *testing.T) {
	l := &List[*node]{}
	a, b, c := &node{val: 1}, &node{val: 2}, &node{val: 3}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)
	l.Remove(b)
	if got, want := collect(l), []int{1, 3}; !intsEqual(got, want) {
		t.Errorf("order after remove = %v, want %v", got, want)
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
}

func TestRemoveHeadAndTail(t *testing.T) {
	l := &List[*node]{}
	a, b := &node{val: 1}, &node{val: 2}
	l.PushBack(a)
	l.PushBack(b)
	l.Remove(a)
	if l.Front() != b {
		t.Errorf("Front() after removing head = %v, want %v", l.Front(), b)
	}
	l.Remove(b)
	if !l.Empty() {
		t.Errorf("list should be empty")
	}
}

// L4: push(q, w); remove(q, w) yields size(q) unchanged and w detached.
func TestPushRemoveRoundTrip(t *testing.T) {
	l := &List[*node]{}
	a := &node{val: 1}
	l.PushBack(&node{val: 2})
	before := l.Len()
	l.PushBack(a)
	l.Remove(a)
	if l.Len() != before {
		t.Errorf("Len() = %d, want %d (L4 round-trip)", l.Len(), before)
	}
	if a.next != nil || a.prev != nil {
		t.Errorf("removed node still linked: next=%v prev=%v", a.next, a.prev)
	}
}

func TestPushBackList(t *testing.T) {
	dst := &List[*node]{}
	dst.PushBack(&node{val: 1})
	src := &List[*node]{}
	src.PushBack(&node{val: 2})
	src.PushBack(&node{val: 3})

	dst.PushBackList(src)
	if got, want := collect(dst), []int{1, 2, 3}; !intsEqual(got, want) {
		t.Errorf("order after PushBackList = %v, want %v", got, want)
	}
	if !src.Empty() {
		t.Errorf("source list should be empty after PushBackList")
	}
}

func TestPushBackListEmptySource(t *testing.T) {
	dst := &List[*node]{}
	dst.PushBack(&node{val: 1})
	src := &List[*node]{}
	dst.PushBackList(src)
	if dst.Len() != 1 {
		t.Errorf("Len() = %d, want 1", dst.Len())
	}
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
