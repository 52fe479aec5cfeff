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

// Package irq implements the IRQ/trap routing table of spec §4.7: a
// fixed-size table of RCU-protected Descriptors indexed by IRQ number,
// registered under a write lock and looked up lock-free from Dispatch's
// RCU read section.
package irq

import (
	"sync/atomic"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/klog"
	"github.com/kestrel-kernel/core/pkg/percpu"
	"github.com/kestrel-kernel/core/pkg/rcu"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// CLINTIRQCount and PLICIRQOffset/PLICIRQRange size the table per spec
// §4.7: "CPU exception causes in [0, CLINT_IRQ_CNT) plus external
// controller IRQs offset by PLIC_IRQ_OFFSET."
const (
	CLINTIRQCount = 16
	PLICIRQOffset = CLINTIRQCount
	PLICIRQRange  = 64
	TableSize     = CLINTIRQCount + PLICIRQRange
)

// Handler is invoked by Dispatch with the IRQ number, the opaque data
// pointer registered alongside it, and the device pointer, per spec
// §4.7's "(irq_num, data, dev)".
type Handler func(irqNum int, data, dev any)

// Descriptor is spec §4.7's IRQ descriptor: "heap-allocated; contains
// handler function, opaque data, device pointer, IRQ number, a counter,
// and an RCU-free hook." A Descriptor is immutable once published — a
// differently-configured handler for the same IRQ means unregister then
// register a fresh Descriptor.
type Descriptor struct {
	rcu.Head

	IRQ     int
	Handler Handler
	Data    any
	Dev     any

	count atomic.Uint64
}

// Count returns how many times Dispatch has invoked this descriptor's
// handler.
func (d *Descriptor) Count() uint64 { return d.count.Load() }

// Mode picks between spec.md's default exclusive single-descriptor slot
// and the supplemental shared-line chain (IRQ_ALIAS_CHAIN): a second
// device sharing one PLIC line gets its own Descriptor instead of being
// refused with EEXIST.
type Mode int

const (
	Exclusive Mode = iota
	Shared
)

// slot holds one table entry. The RCU-protected state is the published
// snapshot slice itself (list): registration/unregistration builds a new
// slice copy-on-write and republishes it, so Dispatch's RCU read section
// always sees a consistent, unmutated view — the same "snapshot, don't
// mutate in place" discipline spec §4.4 describes for rcu_assign_pointer,
// extended here from a single pointer to a small immutable slice so a
// shared IRQ line can fan out to every chained descriptor.
type slot struct {
	lock spinlock.Spinlock // serializes registration/unregistration on this slot
	list atomic.Pointer[[]*Descriptor]
	mode Mode
}

// Table is the fixed-size IRQ table of spec §4.7's Data Model.
type Table struct {
	slots [TableSize]slot
}

// NewTable returns an empty IRQ table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) slotFor(irqNum int) (*slot, errno.Errno) {
	if irqNum < 0 || irqNum >= TableSize {
		return nil, errno.EINVAL
	}
	return &t.slots[irqNum], errno.OK
}

func currentList(s *slot) []*Descriptor {
	p := rcu.Dereference(&s.list)
	if p == nil {
		return nil
	}
	return *p
}

// RegisterHandler implements spec §4.7's register_irq_handler(irq, desc):
// takes the slot's write lock, refuses EEXIST if occupied (Exclusive
// mode, or a second Exclusive registration attempted on an
// already-occupied Shared slot), and RCU-publishes the new Descriptor.
func RegisterHandler(t *Table, irqNum int, h Handler, data, dev any, mode Mode) (*Descriptor, errno.Errno) {
	s, e := t.slotFor(irqNum)
	if e != errno.OK {
		return nil, e
	}
	d := &Descriptor{IRQ: irqNum, Handler: h, Data: data, Dev: dev}

	s.lock.Lock()
	defer s.lock.Unlock()

	existing := currentList(s)
	if len(existing) > 0 && (mode == Exclusive || s.mode == Exclusive) {
		return nil, errno.EEXIST
	}
	s.mode = mode

	next := make([]*Descriptor, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = d
	rcu.AssignPointer(&s.list, &next)
	return d, errno.OK
}

// UnregisterHandler implements spec §4.7's unregister_irq_handler(irq):
// RCU-retracts the pointer (by publishing a fresh slice omitting d) and
// defers d's free via call_rcu, so any Dispatch already inside its RCU
// read section with the old slice still finishes safely (S4).
func UnregisterHandler(t *Table, irqNum int, d *Descriptor) errno.Errno {
	s, e := t.slotFor(irqNum)
	if e != errno.OK {
		return e
	}

	s.lock.Lock()
	existing := currentList(s)
	idx := -1
	for i, cur := range existing {
		if cur == d {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.lock.Unlock()
		return errno.ENOENT
	}
	next := make([]*Descriptor, 0, len(existing)-1)
	next = append(next, existing[:idx]...)
	next = append(next, existing[idx+1:]...)
	var pub *[]*Descriptor
	if len(next) > 0 {
		pub = &next
	}
	rcu.AssignPointer(&s.list, pub)
	s.lock.Unlock()

	rcu.CallRCU(&d.Head, func() {})
	return errno.OK
}

// Dispatch implements spec §4.7's do_irq(trapframe) routing step: enters
// an RCU read section, loads the slot's published descriptor snapshot,
// atomically increments each descriptor's per-IRQ counter, and invokes
// its handler with (irq_num, data, dev) — in Shared mode this fans out to
// every descriptor chained onto the line. A missing handler is logged and
// reported as ENODEV. Nested interrupts are prohibited — EnterIRQ/ExitIRQ
// assert the per-hart depth stays <= 1, per spec §4.7's dedicated-
// interrupt-stack paragraph.
func Dispatch(t *Table, irqNum int, dev any) errno.Errno {
	s, e := t.slotFor(irqNum)
	if e != errno.OK {
		return e
	}

	c := percpu.Self()
	if c != nil {
		c.EnterIRQ()
		defer c.ExitIRQ()
	}

	rcu.ReadLock()
	defer rcu.ReadUnlock()

	list := currentList(s)
	if len(list) == 0 {
		klog.WithFields(klog.Fields{"irq": irqNum}).Warningf("irq: no handler registered")
		return errno.ENODEV
	}
	for _, d := range list {
		if d.Handler == nil {
			continue
		}
		d.count.Add(1)
		d.Handler(irqNum, d.Data, dev)
	}
	return errno.OK
}
