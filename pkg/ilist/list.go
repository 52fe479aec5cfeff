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

// Package ilist implements the intrusive doubly-linked list of spec §2 row
// 2 / Design Notes ("the link belongs to the containing object"). The
// teacher generates this kind of list per-type from a text template
// (go_generics); this module expresses the same "borrowed view over a set
// of links" idea with a type parameter instead, since generics didn't
// exist when the teacher's list package was written.
package ilist

// Linker is implemented by *E for element type E: the element owns its own
// link fields and lends them to at most one List at a time.
type Linker[E any] interface {
	SetNext(e E)
	SetPrev(e E)
	Next() E
	Prev() E
}

// List is an intrusive doubly-linked list header. It is not circular: the
// head's Prev and the tail's Next are the zero value of E. The zero value
// is an empty list ready to use.
type List[E Linker[E]] struct {
	head E
	tail E
	len  int
}

// Len returns the number of elements currently linked into l.
func (l *List[E]) Len() int { return l.len }

// Empty reports whether l has no elements.
func (l *List[E]) Empty() bool { return l.len == 0 }

// Front returns the first element, or the zero value of E if l is empty.
func (l *List[E]) Front() E { return l.head }

// Back returns the last element, or the zero value of E if l is empty.
func (l *List[E]) Back() E { return l.tail }

// PushBack appends e to the tail of l. e must not already be linked into
// any list.
func (l *List[E]) PushBack(e E) {
	var zero E
	e.SetNext(zero)
	e.SetPrev(l.tail)
	if l.len == 0 {
		l.head = e
	} else {
		l.tail.SetNext(e)
	}
	l.tail = e
	l.len++
}

// PushFront prepends e to the head of l. e must not already be linked into
// any list.
func (l *List[E]) PushFront(e E) {
	var zero E
	e.SetPrev(zero)
	e.SetNext(l.head)
	if l.len == 0 {
		l.tail = e
	} else {
		l.head.SetPrev(e)
	}
	l.head = e
	l.len++
}

// InsertAfter splices e into l immediately after pred. e must not already
// be linked into any list; pred must currently be linked into l.
func (l *List[E]) InsertAfter(pred, e E) {
	next := pred.Next()
	e.SetPrev(pred)
	e.SetNext(next)
	pred.SetNext(e)
	if isZero(next) {
		l.tail = e
	} else {
		next.SetPrev(e)
	}
	l.len++
}

// Remove detaches e from l. e must currently be linked into l; the caller
// is responsible for that invariant (the list itself has no way to check
// membership in O(1), matching the teacher's own intrusive-list contract).
func (l *List[E]) Remove(e E) {
	var zero E
	prev, next := e.Prev(), e.Next()
	if isZero(prev) {
		l.head = next
	} else {
		prev.SetNext(next)
	}
	if isZero(next) {
		l.tail = prev
	} else {
		next.SetPrev(prev)
	}
	e.SetNext(zero)
	e.SetPrev(zero)
	l.len--
}

// PushBackList moves every element of other onto the back of l, leaving
// other empty. It's used by waitqueue.BulkMove (spec §4.2) to splice a
// drained source list into an empty destination without per-element
// removal overhead.
func (l *List[E]) PushBackList(other *List[E]) {
	if other.Empty() {
		return
	}
	if l.Empty() {
		l.head = other.head
	} else {
		l.tail.SetNext(other.head)
		other.head.SetPrev(l.tail)
	}
	l.tail = other.tail
	l.len += other.len
	*other = List[E]{}
}

// ForEach calls fn for every element from front to back. fn must not
// mutate l's linkage; collect elements first if removal during iteration
// is required.
func (l *List[E]) ForEach(fn func(E)) {
	var zero E
	for e := l.head; !isZero(e); e = e.Next() {
		fn(e)
		_ = zero
	}
}

func isZero[E any](e E) bool {
	var zero E
	return any(e) == any(zero)
}
