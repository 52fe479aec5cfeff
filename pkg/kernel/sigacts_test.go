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
	"testing"

	"github.com/google/go-cmp/cmp"
)

// actionSnapshot strips Action down to its comparable fields — Handler is
// a func value, which cmp cannot diff — for structural comparison of two
// SigActs tables.
type actionSnapshot struct {
	Disposition Disposition
	Flags       SAFlag
	Mask        SignalSet
}

type sigActsSnapshot struct {
	Actions                              [NSIG + 1]actionSnapshot
	SigTerm, SigStop, SigCont, SigIgnore SignalSet
}

func snapshotSigActs(sa *SigActs) sigActsSnapshot {
	sa.Lock.Lock()
	defer sa.Lock.Unlock()
	var out sigActsSnapshot
	for i, a := range sa.sa {
		out.Actions[i] = actionSnapshot{a.Disposition, a.Flags, a.Mask}
	}
	out.SigTerm, out.SigStop, out.SigCont, out.SigIgnore = sa.sigterm, sa.sigstop, sa.sigcont, sa.sigignore
	return out
}

// P4: sigterm/sigstop/sigcont/sigignore are pairwise disjoint and cover
// exactly the signals whose current handler is the default of that
// category.
func TestNewSigActsClassifiesDefaultDispositions(t *testing.T) {
	sa := NewSigActs()
	snap := snapshotSigActs(sa)

	if !snap.SigTerm.Has(SIGKILL) || !snap.SigTerm.Has(SIGINT) {
		t.Errorf("sigterm = %v, want SIGKILL and SIGINT set", snap.SigTerm)
	}
	if !snap.SigStop.Has(SIGSTOP) {
		t.Errorf("sigstop = %v, want SIGSTOP set", snap.SigStop)
	}
	if !snap.SigCont.Has(SIGCONT) {
		t.Errorf("sigcont = %v, want SIGCONT set", snap.SigCont)
	}
	overlap := snap.SigTerm&snap.SigStop | snap.SigTerm&snap.SigCont | snap.SigStop&snap.SigCont
	if overlap != 0 {
		t.Errorf("sigterm/sigstop/sigcont overlap: %v", overlap)
	}
}

// Copy produces a structurally identical but independent table: diffing
// immediately after Copy finds nothing, and a mutation to the copy is
// invisible in a second diff against the original.
func TestSigActsCopyIsIndependent(t *testing.T) {
	orig := NewSigActs()
	cp := orig.Copy()

	if diff := cmp.Diff(snapshotSigActs(orig), snapshotSigActs(cp)); diff != "" {
		t.Errorf("Copy() produced a divergent table (-orig +copy):\n%s", diff)
	}

	cp.Lock.Lock()
	cp.sa[SIGINT].Disposition = SigIgnore
	cp.recomputeLocked(SIGINT)
	cp.Lock.Unlock()

	if diff := cmp.Diff(snapshotSigActs(orig), snapshotSigActs(cp)); diff == "" {
		t.Errorf("mutating the copy's SIGINT disposition left the original indistinguishable from it")
	}
	origSnap := snapshotSigActs(orig)
	if !origSnap.SigTerm.Has(SIGINT) {
		t.Errorf("original's sigterm lost SIGINT after mutating an unrelated copy")
	}
}
