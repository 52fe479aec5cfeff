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

// Binary kestrelsim is a small simulated machine for exercising this
// module's concurrency core from the command line, the idiomatic-Go
// analogue of the teacher's runsc: where runsc drives a container's OCI
// lifecycle through subcommands backed by a sandboxed sentry process, this
// drives a simulated hart/firmware/timer/IRQ/workqueue lifecycle through
// subcommands backed by a Machine.
package main

import (
	"fmt"
	"strings"

	"github.com/kestrel-kernel/core/pkg/bootconfig"
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/fw"
	"github.com/kestrel-kernel/core/pkg/ipi"
	"github.com/kestrel-kernel/core/pkg/irq"
	"github.com/kestrel-kernel/core/pkg/kernel"
	"github.com/kestrel-kernel/core/pkg/percpu"
	"github.com/kestrel-kernel/core/pkg/rcu"
	"github.com/kestrel-kernel/core/pkg/timer"
	"github.com/kestrel-kernel/core/pkg/workqueue"
)

// Machine bundles one instance of every per-hart and global subsystem this
// module exports, sized from a bootconfig.Config — everything a "boot"
// subcommand needs to stand up before a "tick" or "irq" subcommand can act
// on it.
type Machine struct {
	Config bootconfig.Config

	FW     *fw.Fake
	CPUs   *percpu.Table
	Sched  *kernel.Scheduler
	Kernel *kernel.Kernel
	PIDs   *kernel.PIDTable

	Timers []*timer.Root // one per hart, per spec §4.9's "per-hart timer_root"
	IRQs   *irq.Table
	WQ     *workqueue.Workqueue

	stop chan struct{} // closed by Shutdown to retire every hart's IdleLoop
}

// Boot stands up a fresh Machine from cfg, per spec §4.11/§6's
// environment assumptions: a firmware call interface, a per-hart timer
// comparator, and an IRQ table, all backed here by pkg/fw.Fake instead of
// real CLINT/PLIC hardware.
func Boot(cfg bootconfig.Config) *Machine {
	rcu.Init(cfg.NumHarts)

	fake := fw.NewFake(cfg.NumHarts)
	ipi.SetFirmware(fake)

	m := &Machine{
		Config: cfg,
		FW:     fake,
		CPUs:   percpu.NewTable(cfg.NumHarts),
		Sched:  kernel.NewScheduler(cfg.NumHarts),
		PIDs:   kernel.NewPIDTable(4096),
		Timers: make([]*timer.Root, cfg.NumHarts),
		IRQs:   irq.NewTable(),
	}
	m.Kernel = &kernel.Kernel{Scheduler: m.Sched, NumHarts: cfg.NumHarts}
	for i := range m.Timers {
		m.Timers[i] = timer.NewRoot(cfg.TimerRetryLimit)
	}
	wq, _ := workqueue.CreateWithMinActive("kestrelsim.wq", cfg.MaxWorkqueueActive, cfg.MinWorkqueueActive)
	m.WQ = wq

	m.stop = make(chan struct{})
	for _, cpu := range m.CPUs.All() {
		hart, cpu := cpu.ID(), cpu
		go m.Sched.IdleLoop(hart, cpu, m.stop)
	}
	return m
}

// Shutdown retires every hart's IdleLoop goroutine spawned by Boot. The CLI
// is one-shot per subcommand invocation, so every command that calls Boot
// must call Shutdown before returning.
func (m *Machine) Shutdown() {
	close(m.stop)
}

// Tick advances every hart's timer root by one, per spec §4.9's
// timer_tick(ticks) — a free-running simulation drives all harts in
// lockstep rather than modeling independent comparator interrupts.
func (m *Machine) Tick() {
	for _, r := range m.Timers {
		r.Tick()
	}
}

// InjectIRQ implements the CLI's "irq" subcommand: route one do_irq
// dispatch through the shared table, per spec §4.7.
func (m *Machine) InjectIRQ(irqNum int, dev any) error {
	if e := irq.Dispatch(m.IRQs, irqNum, dev); e != errno.OK {
		return fmt.Errorf("dispatch irq %d: %v", irqNum, e)
	}
	return nil
}

// Stats renders a human-readable snapshot of every subsystem's counters,
// the CLI's "stat" subcommand body.
func (m *Machine) Stats() string {
	var b strings.Builder
	fmt.Fprintf(&b, "harts: %d\n", m.Config.NumHarts)
	for i, r := range m.Timers {
		fmt.Fprintf(&b, "  hart %d: current_tick=%d next_tick=%d armed=%d\n",
			i, r.CurrentTick(), r.NextTick(), r.Len())
	}
	fmt.Fprintf(&b, "workqueue %q: workers=%d pending=%d\n", m.WQ.Name(), m.WQ.NrWorkers(), m.WQ.PendingLen())
	fmt.Fprintf(&b, "firmware: resets=%d console_bytes=%d\n", m.FW.ResetCount(), len(m.FW.ConsoleOutput()))
	return b.String()
}
