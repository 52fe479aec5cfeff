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

import "github.com/kestrel-kernel/core/pkg/ilist"

// Func is invoked by a worker for one Work item, per spec §4.10's
// "invoke work.func(work)".
type Func func(w *Work)

// Work is spec's Data Model "work" entry: "caller-owned. Fields: list
// link, function pointer, opaque datum. May belong to at most one
// workqueue at a time." The link fields make it an ilist.Linker so it can
// be spliced directly onto a Workqueue's pending list without a wrapper
// allocation.
type Work struct {
	next, prev *Work

	Func Func
	Data any
}

func (w *Work) SetNext(e *Work) { w.next = e }
func (w *Work) SetPrev(e *Work) { w.prev = e }
func (w *Work) Next() *Work     { return w.next }
func (w *Work) Prev() *Work     { return w.prev }

var _ = ilist.Linker[*Work](&Work{})

// InitWorkStruct implements spec's init_work_struct: binds fn/data into an
// already-allocated Work, leaving it detached from any queue.
func InitWorkStruct(w *Work, fn Func, data any) {
	w.next, w.prev = nil, nil
	w.Func = fn
	w.Data = data
}

// CreateWorkStruct implements spec's create_work_struct: allocates and
// initializes a Work in one call.
func CreateWorkStruct(fn Func, data any) *Work {
	w := &Work{}
	InitWorkStruct(w, fn, data)
	return w
}

// FreeWorkStruct implements spec's free_work_struct. Work is caller-owned
// heap memory in the original; here that just means clearing the fields so
// a reused Work can't be mistaken for still being linked into a queue.
func FreeWorkStruct(w *Work) {
	*w = Work{}
}
