// Copyright 2026 The nvkm Authors.
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

// Package gk104sim simulates enough of a GK104-class PFIFO for the scheduler
// to run against: a register file with the device's side effects (write-1-
// clear status registers, instantly completing run-list swaps and channel
// kicks) plus fault and error injection hooks.
package gk104sim

import (
	"fmt"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/hwio"
	"nvkm.dev/nvkm/pkg/sync"
)

// Sim is a simulated PFIFO. It implements hwio.IO for the register aperture
// and allocates simulated device memory. Interrupts are delivered by calling
// the registered IRQ handler on a fresh goroutine, mirroring how a real
// interrupt preempts whatever the driver is doing.
type Sim struct {
	mu   sync.Mutex
	regs map[uint32]uint32
	mem  []*hwio.RAM
	next uint64

	irq func()

	submits     []Submit
	holdPending map[uint32]bool
}

// Submit records one observed run-list submission.
type Submit struct {
	Engine uint32
	Count  uint32
	Chids  []uint32
}

// New creates a simulator. Device memory starts at a nonzero base so a zero
// instance address never aliases a real allocation.
func New() *Sim {
	return &Sim{
		regs:        make(map[uint32]uint32),
		next:        0x100000,
		holdPending: make(map[uint32]bool),
	}
}

// SetIRQ registers the interrupt handler, normally Device.Intr.
func (s *Sim) SetIRQ(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq = fn
}

func (s *Sim) fireIRQ() {
	fn := s.irq
	if fn != nil {
		// Interrupts preempt; the handler must not run under the caller.
		go fn()
	}
}

// Alloc implements the scheduler's memory allocator.
func (s *Sim) Alloc(size, align uint32) (hwio.Mem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := uint64(align)
	s.next = (s.next + a - 1) &^ (a - 1)
	m := hwio.NewRAM(s.next, size)
	s.next += uint64(size)
	s.mem = append(s.mem, m)
	return m, nil
}

// lookupMem finds the allocation containing addr.
//
// Precondition: s.mu must be locked.
func (s *Sim) lookupMem(addr uint64) *hwio.RAM {
	for _, m := range s.mem {
		if addr >= m.Addr() && addr < m.Addr()+uint64(m.Size()) {
			return m
		}
	}
	return nil
}

// Flush implements the scheduler's Bar collaborator. Simulated memory is
// always coherent.
func (s *Sim) Flush() {}

// Read32 implements hwio.IO.
func (s *Sim) Read32(addr uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// Write32 implements hwio.IO, applying the device's register side effects.
func (s *Sim) Write32(addr, val uint32) {
	s.mu.Lock()

	switch {
	case addr == gk104.RegRunlistSubmit:
		s.regs[addr] = val
		s.commitRunlist(val)
		s.mu.Unlock()
		s.fireIRQ()
		return

	case addr == gk104.RegPBDMAEnable:
		// Three PBDMA units are present.
		s.regs[addr] = val & 0x7

	case addr == gk104.RegChannelKick:
		// Preempts complete immediately: the pending bit never sticks.
		s.regs[addr] = val &^ gk104.ChannelKickPending

	case addr == gk104.RegFaultTrigger:
		s.regs[addr] = val
		if val&0x00000100 != 0 {
			// A synthesized fault surfaces as MMU fault status; the
			// driver polls for it rather than taking the interrupt.
			s.regs[gk104.RegIntr] |= gk104.IntrMMUFault
		}

	case s.isW1C(addr):
		s.regs[addr] &^= val

	default:
		s.regs[addr] = val
	}

	s.mu.Unlock()
}

// isW1C reports whether addr is a write-1-clear status register.
func (s *Sim) isW1C(addr uint32) bool {
	switch addr {
	case gk104.RegIntr, gk104.RegRunlistDone, gk104.RegChswStatus,
		gk104.RegFaultUnits, gk104.RegPBDMAIntrUnit:
		return true
	}
	for unit := uint32(0); unit < 8; unit++ {
		if addr == gk104.PBDMAIntr0(unit) || addr == gk104.PBDMAIntr1(unit) {
			return true
		}
	}
	return false
}

// commitRunlist completes a run-list submission: it snapshots the submitted
// entries, clears the pending status, and raises the runlist-done interrupt.
//
// Precondition: s.mu must be locked.
func (s *Sim) commitRunlist(val uint32) {
	engine := val >> 20
	count := val & 0xfffff

	sub := Submit{Engine: engine, Count: count}
	base := uint64(s.regs[gk104.RegRunlistBase]) << 12
	if buf := s.lookupMem(base); buf != nil {
		for i := uint32(0); i < count; i++ {
			sub.Chids = append(sub.Chids, buf.Rd32(uint32(base-buf.Addr())+i*8))
		}
	}
	s.submits = append(s.submits, sub)

	if s.holdPending[engine] {
		s.regs[gk104.RunlistStatus(engine)] |= gk104.RunlistPending
	} else {
		s.regs[gk104.RunlistStatus(engine)] &^= gk104.RunlistPending
	}
	s.regs[gk104.RegRunlistDone] |= 1 << engine
	s.regs[gk104.RegIntr] |= gk104.IntrRunlist
}

// HoldRunlistPending makes submissions for engine raise the done interrupt
// while leaving the pending status bit set, mimicking a late completion of a
// previous swap.
func (s *Sim) HoldRunlistPending(engine uint32, hold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdPending[engine] = hold
	if !hold {
		s.regs[gk104.RunlistStatus(engine)] &^= gk104.RunlistPending
	}
}

// Submits returns every run-list submission observed so far.
func (s *Sim) Submits() []Submit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submit, len(s.submits))
	copy(out, s.submits)
	return out
}

// LastSubmit returns the most recent submission for engine, or nil.
func (s *Sim) LastSubmit(engine uint32) *Submit {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.submits) - 1; i >= 0; i-- {
		if s.submits[i].Engine == engine {
			sub := s.submits[i]
			return &sub
		}
	}
	return nil
}

// AdvanceGet moves a channel's GPFIFO consumer pointer, simulating engine
// progress. The control page is located through the programmed user bar.
func (s *Sim) AdvanceGet(chid, get uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := uint64(s.regs[gk104.RegUserBar]&^0x10000000) << 12
	m := s.lookupMem(base)
	if m == nil {
		return fmt.Errorf("gk104sim: user bar not programmed")
	}
	m.Wr32(uint32(base-m.Addr())+chid*0x200+0x20, get)
	return nil
}

// SetEngineStatus programs an engine's raw status word, used to present a
// busy engine mid context switch.
func (s *Sim) SetEngineStatus(engine, status uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[gk104.EngineStatus(engine)] = status
}

// EngineCtxswLoad composes an engine status word for a busy engine loading
// the given channel.
func EngineCtxswLoad(chid uint32) uint32 {
	return gk104.EngineStatusBusy |
		gk104.CtxswStatusLoad<<gk104.EngineStatusCtxShft |
		chid<<gk104.EngineStatusNextShft
}

// EngineCtxswSave composes an engine status word for a busy engine saving
// the given channel.
func EngineCtxswSave(chid uint32) uint32 {
	return gk104.EngineStatusBusy |
		gk104.CtxswStatusSave<<gk104.EngineStatusCtxShft |
		chid
}

// FireCtxswTimeout raises the scheduler's CTXSW_TIMEOUT error interrupt,
// which drives one stall-accounting check.
func (s *Sim) FireCtxswTimeout() {
	s.mu.Lock()
	s.regs[gk104.RegSchedStatus] = gk104.SchedReasonCtxswTimeout
	s.regs[gk104.RegIntr] |= gk104.IntrSched
	s.mu.Unlock()
	s.fireIRQ()
}

// FireEngineEvent raises the engine nonstall interrupt.
func (s *Sim) FireEngineEvent() {
	s.mu.Lock()
	s.regs[gk104.RegIntr] |= gk104.IntrEngine
	s.mu.Unlock()
	s.fireIRQ()
}

// InjectMMUFault raises an MMU fault from the given reporting unit against
// the given channel. The faulting instance is taken from the channel's bind
// register, so the channel must be started.
func (s *Sim) InjectMMUFault(unit, chid uint32, addr uint64, info uint32) {
	s.mu.Lock()
	inst := s.regs[gk104.ChanInst(chid)] & 0x0fffffff
	s.regs[gk104.FaultInst(unit)] = inst
	s.regs[gk104.FaultAddrLo(unit)] = uint32(addr)
	s.regs[gk104.FaultAddrHi(unit)] = uint32(addr >> 32)
	s.regs[gk104.FaultInfo(unit)] = info
	s.regs[gk104.RegFaultUnits] |= 1 << unit
	s.regs[gk104.RegIntr] |= gk104.IntrMMUFault
	s.mu.Unlock()
	s.fireIRQ()
}

// InjectPBDMAError raises PBDMA general-error bits on one unit, attributed
// to the given channel.
func (s *Sim) InjectPBDMAError(unit, chid, bits uint32) {
	s.mu.Lock()
	s.regs[gk104.PBDMAChan(unit)] = chid
	s.regs[gk104.PBDMAIntr0(unit)] |= bits
	s.regs[gk104.RegPBDMAIntrUnit] |= 1 << unit
	s.regs[gk104.RegIntr] |= gk104.IntrPBDMA
	s.mu.Unlock()
	s.fireIRQ()
}

// InjectSoftwareMethod presents a software method in a PBDMA unit's method
// shadow and raises the DEVICE error that delivers it.
func (s *Sim) InjectSoftwareMethod(unit, chid, subc, mthd, data uint32) {
	s.mu.Lock()
	s.regs[gk104.PBDMAChan(unit)] = chid
	s.regs[gk104.PBDMAMethod(unit)] = subc<<gk104.PBDMAMethodSubcShft |
		mthd&gk104.PBDMAMethodAddrMask
	s.regs[gk104.PBDMAData(unit)] = data
	s.regs[gk104.PBDMAIntr0(unit)] |= gk104.PBDMAIntr0Device
	s.regs[gk104.RegPBDMAIntrUnit] |= 1 << unit
	s.regs[gk104.RegIntr] |= gk104.IntrPBDMA
	s.mu.Unlock()
	s.fireIRQ()
}
