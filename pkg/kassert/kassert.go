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

// Package kassert implements the programmer-error assertion discipline of
// spec §7: violations of invariants that can never legitimately happen at
// runtime (holding a spinlock across a sleep, double-acquiring a
// non-recursive lock, inconsistent queue counters, state-machine
// impossibilities) panic rather than returning an errno.
package kassert

import (
	"fmt"

	"github.com/kestrel-kernel/core/pkg/klog"
)

// CrashHook is invoked by Panic before the Go panic unwinds, a seam for
// propagating the crash via IPI_CRASH (spec §7, §4.8) before the hart
// halts. It defaults to a no-op so leaf packages can use this package
// without an import cycle onto pkg/ipi. No package in this module assigns
// it, so by default Panic only logs and unwinds; no crash is propagated.
var CrashHook func(reason string) = func(string) {}

// Assert panics with the formatted message if cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		Panic(format, args...)
	}
}

// Panic logs the formatted message at Error level and panics. Callers that
// are running on a hart should have already arranged for CrashHook to
// propagate the crash; Panic itself only logs and unwinds.
func Panic(format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	klog.Errorf("kassert: %s", reason)
	CrashHook(reason)
	panic(reason)
}
