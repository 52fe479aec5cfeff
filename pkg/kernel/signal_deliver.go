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

import "github.com/kestrel-kernel/core/pkg/errno"

// DeliveryOutcome describes what Deliver did on one pass of the loop, so
// the caller (the task's own run loop, at a user-return checkpoint) can
// react: run a default action, enter a handler, or re-check for more.
type DeliveryOutcome int

const (
	// DeliveryNone means nothing was pending-and-unmasked this pass.
	DeliveryNone DeliveryOutcome = iota
	// DeliveryKilled means a term signal was observed; t.flags now has
	// FlagKilled and the caller should unwind to exit.
	DeliveryKilled
	// DeliveryStopped means the task just returned from a STOPPED
	// transition (SIGSTOP delivered, continued, woke up).
	DeliveryStopped
	// DeliveryHandled means a caught signal's handler ran via Action.Handler.
	DeliveryHandled
)

// Deliver runs one pass of the delivery loop of spec §4.6's "At
// user-return checkpoints the thread runs a delivery loop under
// sigacts.lock." t must be the calling goroutine's own task (delivery only
// ever happens synchronously on the victim thread, never from a sender).
func (k *Kernel) Deliver(t *Task) DeliveryOutcome {
	sa := t.group.sigacts
	for {
		sa.Lock.Lock()
		t.tcbLock.Lock()
		effective := (t.pending.Bits() | t.group.shared.Bits()).Pending(t.mask)
		t.tcbLock.Unlock()

		if effective != 0 {
			if term := effective & sa.sigterm; term != 0 {
				t.tcbLock.Lock()
				t.flags |= FlagKilled
				t.tcbLock.Unlock()
				sa.Lock.Unlock()
				return DeliveryKilled
			}
			if cont := effective & sa.sigcont; cont != 0 {
				t.tcbLock.Lock()
				t.pending.ClearBit(SIGSTOP)
				t.tcbLock.Unlock()
				t.group.shared.ClearBit(SIGSTOP)
				hasHandler := sa.sa[SIGCONT].Disposition == SigHandler
				if !hasHandler {
					t.tcbLock.Lock()
					t.pending.ClearBit(SIGCONT)
					t.tcbLock.Unlock()
					t.group.shared.ClearBit(SIGCONT)
					sa.Lock.Unlock()
					continue
				}
				// Falls through to generic dequeue-and-deliver below.
			}
			if stop := effective & sa.sigstop; stop != 0 {
				signo := stop.Lowest()
				t.tcbLock.Lock()
				t.pending.ClearBit(signo)
				t.tcbLock.Unlock()
				t.group.shared.ClearBit(signo)
				t.tcbLock.Lock()
				t.state = Stopped
				sw := make(chan struct{})
				t.stopWait = sw
				t.tcbLock.Unlock()
				sa.Lock.Unlock()
				<-sw
				return DeliveryStopped
			}

			signo := effective.Lowest()
			act := sa.sa[signo]
			si, fromPerThread := t.pending.Dequeue(signo)
			if !fromPerThread {
				si, _ = t.group.shared.Dequeue(signo)
			}
			sa.Lock.Unlock()

			if act.Disposition == SigHandler && act.Handler != nil {
				t.runHandler(act, si)
				return DeliveryHandled
			}
			// SIG_DFL for a signal with no term/stop/cont classification
			// in this simplified core is a no-op default action.
			continue
		}
		sa.Lock.Unlock()
		return DeliveryNone
	}
}

// runHandler applies SA_NODEFER/sa_mask blocking, optionally SA_RESETHAND,
// and invokes the handler, per spec §4.6's delivery bullet (b).
func (t *Task) runHandler(act Action, si SigInfo) {
	t.tcbLock.Lock()
	if act.Flags&SANodefer == 0 {
		t.savedMask = t.mask
		t.haveSaved = true
		t.mask |= act.Mask.Add(si.Signo)
	}
	t.tcbLock.Unlock()

	act.Handler(t, si)

	if act.Flags&SAResethand != 0 {
		t.group.sigacts.SetAction(si.Signo, Action{Disposition: SigDefault})
	}
}

// SigReturn restores the mask saved at the most recent handler entry and
// recomputes SIGPENDING, per spec §4.6's sigreturn.
func (t *Task) SigReturn() errno.Errno {
	t.tcbLock.Lock()
	defer t.tcbLock.Unlock()
	if !t.haveSaved {
		return errno.EINVAL
	}
	t.mask = t.savedMask
	t.haveSaved = false
	t.recomputeSigPendingLocked()
	return errno.OK
}

// recomputeSigPendingLocked refreshes FlagSigPending, per Invariant 3.
// Caller must hold t.tcbLock (and ideally t.sigLock, held by all call
// sites in this package).
func (t *Task) recomputeSigPendingLocked() {
	if (t.pending.Bits() | t.group.shared.Bits()).Pending(t.mask) != 0 {
		t.flags |= FlagSigPending
	} else {
		t.flags &^= FlagSigPending
	}
}
