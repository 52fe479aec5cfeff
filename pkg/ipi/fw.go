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

// Package ipi implements inter-processor interrupts (spec §4.8): a
// per-hart pending-reason bitmask set with atomic OR, delivered through
// pkg/fw's ecall-style SendIPI(base, mask) rather than a direct hardware
// poke. Nothing here touches pkg/kernel directly, so the scheduler's
// crash/reschedule paths depend on ipi, not the other way around.
package ipi

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-kernel/core/pkg/fw"
)

// Reason is one bit of a hart's pending-reason bitmask, per spec §4.8.
type Reason uint32

const (
	ReasonCrash      Reason = 1 << 0
	ReasonCallFunc   Reason = 1 << 1 // reserved, a placeholder per spec.md
	ReasonReschedule Reason = 1 << 2
	ReasonTLBFlush   Reason = 1 << 3
	ReasonGeneric    Reason = 1 << 4
)

var firmware fw.Firmware = noopFirmware{}

// SetFirmware installs the fw.Firmware backend used by Send*. Call once at
// boot, before any hart starts ticking.
func SetFirmware(f fw.Firmware) { firmware = f }

type noopFirmware struct{}

func (noopFirmware) SetTimer(int, uint64)             {}
func (noopFirmware) SendIPI(int, uint64)              {}
func (noopFirmware) StartHart(int, func()) error      { return nil }
func (noopFirmware) StopHart(int) error               { return nil }
func (noopFirmware) HartState(int) fw.HartStatus      { return fw.HartStopped }
func (noopFirmware) Reset()                           {}
func (noopFirmware) ConsoleWrite(p []byte) (int, error) { return len(p), nil }

// pending holds, per hart, the atomically-OR'd reason bitmask awaiting
// delivery.
var pending [256]atomic.Uint32

// SendSingle sets reason in hart's pending mask and requests a software
// interrupt on it via the mask+base calling convention (base=hart,
// mask=1).
func SendSingle(hart int, reason Reason) {
	if hart < 0 || hart >= len(pending) {
		return
	}
	for {
		old := pending[hart].Load()
		if pending[hart].CompareAndSwap(old, old|uint32(reason)) {
			break
		}
	}
	firmware.SendIPI(hart, 1)
}

// SendMask sets reason on every hart whose bit is set in mask, delivering
// concurrently and waiting for every firmware request to have been issued
// before returning — the multi-target analogue of spec §4.8's single-hart
// send, using errgroup as the join point the way this module's other
// multi-hart fan-outs (S4-S6 style test scenarios) do.
func SendMask(mask []int, reason Reason) {
	var g errgroup.Group
	for _, h := range mask {
		h := h
		g.Go(func() error {
			SendSingle(h, reason)
			return nil
		})
	}
	_ = g.Wait()
}

// SendAllButSelf sends reason to every hart in [0, numHarts) except self.
func SendAllButSelf(numHarts, self int, reason Reason) {
	var g errgroup.Group
	for h := 0; h < numHarts; h++ {
		if h == self {
			continue
		}
		h := h
		g.Go(func() error {
			SendSingle(h, reason)
			return nil
		})
	}
	_ = g.Wait()
}

// SendAll sends reason to every hart in [0, numHarts), including self.
func SendAll(numHarts int, reason Reason) {
	var g errgroup.Group
	for h := 0; h < numHarts; h++ {
		h := h
		g.Go(func() error {
			SendSingle(h, reason)
			return nil
		})
	}
	_ = g.Wait()
}

// Handlers holds the caller-supplied callbacks Deliver invokes, one per
// pending reason bit (Crash runs for ReasonCrash, and so on). A nil
// callback means that reason is cleared without any action.
type Handlers struct {
	Reschedule func()
	Crash      func()
	TLBFlush   func()
	CallFunc   func()
	Generic    func()
}

// Deliver clears hart's pending mask (atomic swap to zero, per spec §4.8)
// and invokes the handler for each reason bit that was set, in the fixed
// order RESCHEDULE, CRASH, TLB_FLUSH, CALL_FUNC, GENERIC. It is meant to
// be called from the software-interrupt trap path on hart itself.
func Deliver(hart int, h Handlers) {
	if hart < 0 || hart >= len(pending) {
		return
	}
	mask := Reason(pending[hart].Swap(0))
	if mask == 0 {
		return
	}
	if mask&ReasonReschedule != 0 && h.Reschedule != nil {
		h.Reschedule()
	}
	if mask&ReasonCrash != 0 && h.Crash != nil {
		h.Crash()
	}
	if mask&ReasonTLBFlush != 0 && h.TLBFlush != nil {
		h.TLBFlush()
	}
	if mask&ReasonCallFunc != 0 && h.CallFunc != nil {
		h.CallFunc()
	}
	if mask&ReasonGeneric != 0 && h.Generic != nil {
		h.Generic()
	}
}

// Pending returns hart's current pending-reason mask without clearing it,
// for diagnostics and tests.
func Pending(hart int) Reason {
	if hart < 0 || hart >= len(pending) {
		return 0
	}
	return Reason(pending[hart].Load())
}
