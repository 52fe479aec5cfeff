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

package percpu

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Flag is one of the per-hart bitflags of spec §2 row 3.
type Flag uint32

const (
	// NeedsResched asks the current thread on this hart to yield at its
	// next checkpoint.
	NeedsResched Flag = 1 << iota
	// InIRQ marks this hart as currently running an IRQ handler.
	InIRQ
	// Boot marks the hart that performed early boot (hart 0, by
	// convention).
	Boot
	// Crashed marks a hart that has observed IPI_CRASH and halted.
	Crashed
)

// CPU is the per-hart control block of spec §2 row 3 / Design Notes
// ("current as per-CPU state"). Each field that is hammered by every hart
// independently gets its own cache line via cpu.CacheLinePad so that, e.g.,
// hart 0 spinning on its own spin-depth counter never bounces hart 1's
// cache line.
type CPU struct {
	id int

	_     cpu.CacheLinePad
	flags atomic.Uint32

	_          cpu.CacheLinePad
	spinDepth  atomic.Int32
	savedIRQEn atomic.Bool // interrupts-enabled bit saved by push_off

	_             cpu.CacheLinePad
	irqStackDepth atomic.Int32 // nested-IRQ detector, asserted <= 1

	_       cpu.CacheLinePad
	current atomic.Pointer[any] // *kernel.Task, via interface indirection

	_ cpu.CacheLinePad
}

// ID returns this hart's index into the Table.
func (c *CPU) ID() int { return c.id }

// SetFlag atomically sets f.
func (c *CPU) SetFlag(f Flag) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearFlag atomically clears f.
func (c *CPU) ClearFlag(f Flag) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// HasFlag reports whether f is currently set.
func (c *CPU) HasFlag(f Flag) bool { return c.flags.Load()&uint32(f) != 0 }

// PushOff increments this hart's spinlock-depth counter, saving the prior
// interrupt-enable bit on the 0->1 transition, per spec §4.1. irqEnabled is
// the caller-observed interrupt-enable state immediately before disabling.
func (c *CPU) PushOff(irqEnabled bool) {
	if c.spinDepth.Add(1) == 1 {
		c.savedIRQEn.Store(irqEnabled)
	}
}

// PopOff decrements the spinlock-depth counter, reporting whether
// interrupts should now be re-enabled (the saved bit, valid only on the
// 1->0 transition). It panics if called with interrupts already enabled on
// this hart, mirroring spec §4.1's "fatal" wording for misuse.
func (c *CPU) PopOff(irqEnabledNow bool) bool {
	if irqEnabledNow {
		panic(fmt.Sprintf("percpu: pop_off on hart %d with interrupts enabled", c.id))
	}
	depth := c.spinDepth.Add(-1)
	if depth < 0 {
		panic(fmt.Sprintf("percpu: pop_off on hart %d without matching push_off", c.id))
	}
	if depth == 0 {
		return c.savedIRQEn.Load()
	}
	return false
}

// SpinDepth returns the current spinlock nesting depth on this hart.
func (c *CPU) SpinDepth() int32 { return c.spinDepth.Load() }

// EnterIRQ increments the nested-IRQ depth counter and asserts it stays at
// or below 1, per spec §4.7 ("nested interrupts are prohibited").
func (c *CPU) EnterIRQ() {
	c.SetFlag(InIRQ)
	if d := c.irqStackDepth.Add(1); d > 1 {
		panic(fmt.Sprintf("percpu: nested IRQ on hart %d (depth %d)", c.id, d))
	}
}

// ExitIRQ reverses EnterIRQ.
func (c *CPU) ExitIRQ() {
	c.irqStackDepth.Add(-1)
	c.ClearFlag(InIRQ)
}

// Current returns the task currently running on this hart, or nil.
func (c *CPU) Current() any {
	p := c.current.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetCurrent records the task currently running on this hart.
func (c *CPU) SetCurrent(t any) {
	c.current.Store(&t)
}

// Table is the fixed-size array of per-hart control blocks indexed by hart
// id, the SMP analogue of spec.md's single per-hart register.
type Table struct {
	cpus []*CPU
}

// NewTable allocates a Table for n harts, marking hart 0 as the boot hart.
func NewTable(n int) *Table {
	if n <= 0 {
		n = 1
	}
	t := &Table{cpus: make([]*CPU, n)}
	for i := range t.cpus {
		t.cpus[i] = &CPU{id: i}
	}
	t.cpus[0].SetFlag(Boot)
	return t
}

// NumHarts returns the number of harts in the table.
func (t *Table) NumHarts() int { return len(t.cpus) }

// CPU returns the control block for hart id, or nil if out of range.
func (t *Table) CPU(id int) *CPU {
	if id < 0 || id >= len(t.cpus) {
		return nil
	}
	return t.cpus[id]
}

// All returns every hart's control block, in hart-id order.
func (t *Table) All() []*CPU {
	out := make([]*CPU, len(t.cpus))
	copy(out, t.cpus)
	return out
}
