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
	"github.com/mohae/deepcopy"

	"github.com/kestrel-kernel/core/pkg/errno"
	"github.com/kestrel-kernel/core/pkg/spinlock"
)

// defaultTerminates/defaultStops/defaultContinues classify SIG_DFL's
// built-in action for the signals this core names, per spec §4.6's four
// derived masks. Every other signal defaults to "ignored" for SIG_DFL
// purposes in this simplified core, matching spec.md's scope of only the
// named signals (SIGKILL, SIGSTOP, SIGCONT, SIGINT and friends) rather
// than the full POSIX default-action table (an explicit Non-goal: "full
// POSIX signal semantics beyond what is listed").
var defaultTerminates = map[int]bool{SIGKILL: true, SIGINT: true}
var defaultStops = map[int]bool{SIGSTOP: true}
var defaultContinues = map[int]bool{SIGCONT: true}

// SigActs is the reference-counted, shared-or-copied disposition table of
// spec §3: per-signal Action entries plus four derived classifier masks
// kept consistent with sa[signo].Disposition on every change, all behind
// one spinlock (the "unified signal lock").
type SigActs struct {
	Lock spinlock.Spinlock // the unified signal lock; also guards per-task pending

	sa [NSIG + 1]Action

	sigterm   SignalSet
	sigstop   SignalSet
	sigcont   SignalSet
	sigignore SignalSet

	refcount int
}

// NewSigActs returns a fresh disposition table with every signal at
// SIG_DFL, refcount 1.
func NewSigActs() *SigActs {
	sa := &SigActs{refcount: 1}
	for signo := 1; signo <= NSIG; signo++ {
		sa.recomputeLocked(signo)
	}
	return sa
}

// Ref increments the reference count, for CLONE_SIGHAND-style sharing.
func (sa *SigActs) Ref() {
	sa.Lock.Lock()
	sa.refcount++
	sa.Lock.Unlock()
}

// Unref decrements the reference count and reports whether it reached
// zero (the caller should then drop the table).
func (sa *SigActs) Unref() bool {
	sa.Lock.Lock()
	defer sa.Lock.Unlock()
	sa.refcount--
	return sa.refcount == 0
}

// Copy returns an independent SigActs with the same disposition table,
// for a fork without CLONE_SIGHAND, per spec's Data Model ("copied on
// fork"). The dispositions are deep-copied (handler closures aside, which
// are copied by reference like any Go func value) via
// github.com/mohae/deepcopy rather than a hand-rolled field-by-field copy,
// since spec.md names the behavior without specifying an algorithm for it.
func (sa *SigActs) Copy() *SigActs {
	sa.Lock.Lock()
	defer sa.Lock.Unlock()
	saCopy := deepcopy.Copy(sa.sa).([NSIG + 1]Action)
	out := &SigActs{refcount: 1, sa: saCopy}
	out.sigterm, out.sigstop, out.sigcont, out.sigignore =
		sa.sigterm, sa.sigstop, sa.sigcont, sa.sigignore
	return out
}

// recomputeLocked refreshes the four derived masks for signo from its
// current disposition. Caller must hold sa.Lock.
func (sa *SigActs) recomputeLocked(signo int) {
	a := sa.sa[signo]
	sa.sigterm = sa.sigterm.Remove(signo)
	sa.sigstop = sa.sigstop.Remove(signo)
	sa.sigcont = sa.sigcont.Remove(signo)
	sa.sigignore = sa.sigignore.Remove(signo)

	switch a.Disposition {
	case SigIgnore:
		sa.sigignore = sa.sigignore.Add(signo)
	case SigDefault:
		if defaultTerminates[signo] {
			sa.sigterm = sa.sigterm.Add(signo)
		} else if defaultStops[signo] {
			sa.sigstop = sa.sigstop.Add(signo)
		} else if defaultContinues[signo] {
			sa.sigcont = sa.sigcont.Add(signo)
		} else {
			sa.sigignore = sa.sigignore.Add(signo)
		}
	case SigHandler:
		// A caught signal is neither term/stop/cont by this classifier;
		// signal_deliver.go routes it to the handler directly.
	}
}

// SetAction installs act for signo, per spec's sigaction syscall. SIGKILL
// and SIGSTOP reject any disposition change, per spec §4.6's "disposition
// changes to them fail."
func (sa *SigActs) SetAction(signo int, act Action) (Action, errno.Errno) {
	if signo < 1 || signo > NSIG {
		return Action{}, errno.EINVAL
	}
	if signo == SIGKILL || signo == SIGSTOP {
		return Action{}, errno.EPERM
	}
	sa.Lock.Lock()
	defer sa.Lock.Unlock()
	old := sa.sa[signo]
	act.Mask = act.Mask.Unmaskable()
	sa.sa[signo] = act
	sa.recomputeLocked(signo)
	return old, errno.OK
}

// Action returns signo's current disposition.
func (sa *SigActs) Action(signo int) Action {
	sa.Lock.Lock()
	defer sa.Lock.Unlock()
	return sa.sa[signo]
}

// ClassifyLocked reports whether signo is currently classified as
// terminate/stop/continue/ignore. Caller must hold sa.Lock.
func (sa *SigActs) ClassifyLocked(signo int) (term, stop, cont, ignore bool) {
	return sa.sigterm.Has(signo), sa.sigstop.Has(signo), sa.sigcont.Has(signo), sa.sigignore.Has(signo)
}
