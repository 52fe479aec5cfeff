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

package kernel

import (
	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/ipi"
)

// Kernel ties a Scheduler to signal delivery's "poke the target" step, so
// signal_send.go can wake sleepers and force reschedule checkpoints
// without signal.go depending on sched.go's types directly beyond this one
// shared struct.
type Kernel struct {
	Scheduler *Scheduler
	NumHarts  int
}

// SendToTask delivers signo to t (spec §4.6 "Sending (per-thread)"). si is
// ignored unless t's disposition for signo has SA_SIGINFO set.
func (k *Kernel) SendToTask(t *Task, signo int, si SigInfo) errno.Errno {
	if signo < 1 || signo > NSIG {
		return errno.EINVAL
	}
	sa := t.group.sigacts
	sa.Lock.Lock()
	action := sa.sa[signo]
	if action.Disposition == SigIgnore && signo != SIGKILL && signo != SIGSTOP {
		sa.Lock.Unlock()
		return errno.OK
	}
	t.pending.Enqueue(signo, si, action.Flags&SASiginfo != 0)
	term, stop, cont, _ := sa.ClassifyLocked(signo)
	sa.Lock.Unlock()

	k.pokeTarget(t, term, stop, cont)
	return errno.OK
}

// SendToGroup delivers signo to tg (spec §4.6 "Sending (group-directed)").
// SIGKILL fans out to every member, bypassing the shared queue but still
// recording the bit on each member; SIGCONT's side effects always run even
// if SIGCONT is already pending; SIGSTOP cancels any pending SIGCONT.
func (k *Kernel) SendToGroup(tg *ThreadGroup, signo int, si SigInfo) errno.Errno {
	if signo < 1 || signo > NSIG {
		return errno.EINVAL
	}
	if signo == SIGKILL {
		for _, m := range tg.Members() {
			k.SendToTask(m, signo, si)
		}
		return errno.OK
	}

	sa := tg.sigacts
	sa.Lock.Lock()
	tg.shared.Enqueue(signo, si, sa.sa[signo].Flags&SASiginfo != 0)

	if signo == SIGCONT {
		tg.shared.ClearBit(SIGSTOP)
		for _, m := range tg.Members() {
			m.tcbLock.Lock()
			m.pending.ClearBit(SIGSTOP)
			m.tcbLock.Unlock()
		}
	}
	if signo == SIGSTOP {
		tg.shared.ClearBit(SIGCONT)
	}
	term, stop, cont, _ := sa.ClassifyLocked(signo)
	members := make([]*Task, len(tg.members))
	copy(members, tg.members)
	sa.Lock.Unlock()

	if signo == SIGCONT {
		for _, m := range members {
			if m.State() == Stopped {
				k.Scheduler.Continue(m)
			}
		}
	}

	recipient := pickRecipient(members, signo)
	if recipient != nil {
		k.pokeTarget(recipient, term, stop, cont)
	}
	return errno.OK
}

// pickRecipient prefers the group leader if it does not mask signo, else
// any member that does not mask it, per spec §4.6.
func pickRecipient(members []*Task, signo int) *Task {
	var fallback *Task
	for _, m := range members {
		m.tcbLock.Lock()
		masked := m.mask.Has(signo)
		m.tcbLock.Unlock()
		if masked {
			continue
		}
		if m.group != nil && m.group.leader == m {
			return m
		}
		if fallback == nil {
			fallback = m
		}
	}
	return fallback
}

// pokeTarget implements spec §4.6 step 4: "outside the lock, poke the
// target: wake an INTERRUPTIBLE sleeper; if running, either set
// NEEDS_RESCHED locally or send IPI_RESCHEDULE; for CONT, wake a STOPPED
// thread; for TERM, set KILLED and wake if stopped."
func (k *Kernel) pokeTarget(t *Task, term, stop, cont bool) {
	t.tcbLock.Lock()
	if term {
		t.flags |= FlagKilled
	}
	state := t.state
	t.tcbLock.Unlock()

	switch state {
	case Interruptible:
		// Cuts the task's own Task.Sleep/waitqueue.Wait call short rather
		// than routing through Scheduler.Wakeup: the task's goroutine is
		// the one that must observe EINTR and detach itself from whatever
		// queue it's parked on, per spec §4.8's cancellation rule.
		t.Interrupt()
	case Running:
		ipi.SendSingle(t.HomeHart(), ipi.ReasonReschedule)
	case Stopped:
		if cont || term {
			k.Scheduler.Continue(t)
		}
	}
}
