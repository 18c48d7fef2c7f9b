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

// Package gk104 defines the PFIFO register layout and status encodings of
// GK104-class devices, plus the static tables used to decode fault and error
// codes into names.
package gk104

// PFIFO register offsets.
const (
	RegPBDMAEnable   = 0x000204 // one bit per present PBDMA unit
	RegIntr          = 0x002100 // coalesced interrupt status, write-1-clear
	RegIntrEn        = 0x002140 // interrupt enable mask
	RegUserBar       = 0x002254 // user memory aperture base
	RegBindStatus    = 0x00252c // bind error reason
	RegSchedStatus   = 0x00254c // scheduler error reason
	RegChswStatus    = 0x00256c // channel switch error status
	RegFaultUnits    = 0x00259c // bitmask of fault-reporting units, ack by write
	RegPBDMAIntrUnit = 0x0025a0 // bitmask of interrupting PBDMA units
	RegRunlistBase   = 0x002270 // runlist buffer address >> 12
	RegRunlistSubmit = 0x002274 // (engine << 20) | entry count; triggers swap
	RegSchedDisable  = 0x002630 // per-engine runlist scheduling disable
	RegEngineAck     = 0x00262c // per-engine recovery acknowledgment
	RegChannelKick   = 0x002634 // channel preempt ("kick") trigger/status
	RegRunlistDone   = 0x002a00 // per-engine runlist-committed, write-1-clear
	RegCtxswTimeout  = 0x002a0c // context-switch timeout period, usec, bit 31 enable
	RegFaultTrigger  = 0x002a30 // synthesized MMU fault trigger
	RegGRFIFOCtrl    = 0x400500 // pushbuffer fetch access control

	// Per-aperture fault acknowledgment registers, touched (read-modify-
	// write of zero bits) to re-arm translation for non-engine units.
	RegBAR1Fault = 0x001704
	RegBAR3Fault = 0x001714
	RegIFBFault  = 0x001718
)

// RegIntr / RegIntrEn bits, in dispatch priority order.
const (
	IntrBind           = 0x00000001
	IntrPIO            = 0x00000010
	IntrSched          = 0x00000100
	IntrChsw           = 0x00010000
	IntrFBFlushTimeout = 0x00800000
	IntrLB             = 0x01000000
	IntrDroppedFault   = 0x08000000
	IntrMMUFault       = 0x10000000
	IntrPBDMA          = 0x20000000
	IntrRunlist        = 0x40000000
	IntrEngine         = 0x80000000
)

// RegGRFIFOCtrl bits.
const (
	GRFIFOCtrlAccess    = 0x00000001
	GRFIFOCtrlSemaphore = 0x00010000
)

// RunlistStatus returns the runlist status register of the given engine.
// Bit 20 is set while a submitted runlist is still pending.
func RunlistStatus(engine uint32) uint32 { return 0x002284 + engine*0x08 }

// RunlistPending is the pending bit in RunlistStatus.
const RunlistPending = 0x00100000

// EngineStatus returns the engine status register of the given engine.
func EngineStatus(engine uint32) uint32 { return 0x002640 + engine*0x08 }

// EngineStatus fields.
const (
	EngineStatusBusy     = 0x80000000
	EngineStatusNextMask = 0x0fff0000 // chid being loaded
	EngineStatusNextShft = 16
	EngineStatusCtxMask  = 0x0000e000 // context-switch sub-state
	EngineStatusCtxShft  = 13
	EngineStatusPrevMask = 0x00000fff // chid being saved
)

// Context-switch sub-states reported in EngineStatus.
const (
	CtxswStatusLoad   = 5
	CtxswStatusSave   = 6
	CtxswStatusSwitch = 7
)

// ChannelKickPending is set in RegChannelKick while a preempt is in flight.
const ChannelKickPending = 0x80000000

// Per-channel control registers, 8 bytes per channel.

// ChanInst returns the channel instance register: bit 31 valid, low bits the
// instance block address >> 12.
func ChanInst(chid uint32) uint32 { return 0x800000 + chid*8 }

// ChanInstValid is the valid bit in ChanInst.
const ChanInstValid = 0x80000000

// ChanCtrl returns the channel control register.
func ChanCtrl(chid uint32) uint32 { return 0x800004 + chid*8 }

// ChanCtrl bits. The engine binding occupies bits 16-19.
const (
	ChanCtrlEnable     = 0x00000400
	ChanCtrlDisable    = 0x00000800
	ChanCtrlEngineMask = 0x000f0000
	ChanCtrlEngineShft = 16
)

// MMU fault reporting registers, 0x10 bytes per unit.

// FaultInst returns the faulting instance register of the given unit.
func FaultInst(unit uint32) uint32 { return 0x002800 + unit*0x10 }

// FaultAddrLo returns the fault address low word register.
func FaultAddrLo(unit uint32) uint32 { return 0x002804 + unit*0x10 }

// FaultAddrHi returns the fault address high word register.
func FaultAddrHi(unit uint32) uint32 { return 0x002808 + unit*0x10 }

// FaultInfo returns the fault information register.
func FaultInfo(unit uint32) uint32 { return 0x00280c + unit*0x10 }

// FaultInfo fields.
const (
	FaultInfoReasonMask = 0x0000000f
	FaultInfoHub        = 0x00000040
	FaultInfoWrite      = 0x00000080
	FaultInfoClientMask = 0x00001f00
	FaultInfoClientShft = 8
	FaultInfoGPCMask    = 0x1f000000
	FaultInfoGPCShft    = 24
)

// PBDMA unit registers, 0x2000 bytes per unit.

// PBDMACtrl returns the unit control register.
func PBDMACtrl(unit uint32) uint32 { return 0x04013c + unit*0x2000 }

// PBDMAMethod returns the shadowed method header register. Writing
// PBDMAMethodSkip releases a method the host consumed in software.
func PBDMAMethod(unit uint32) uint32 { return 0x0400c0 + unit*0x2000 }

// PBDMAData returns the shadowed method data register.
func PBDMAData(unit uint32) uint32 { return 0x0400c4 + unit*0x2000 }

// PBDMAIntr0 returns the general error status register, write-1-clear.
func PBDMAIntr0(unit uint32) uint32 { return 0x040108 + unit*0x2000 }

// PBDMAIntr0En returns the general error enable mask.
func PBDMAIntr0En(unit uint32) uint32 { return 0x04010c + unit*0x2000 }

// PBDMAChan returns the register holding the unit's current chid.
func PBDMAChan(unit uint32) uint32 { return 0x040120 + unit*0x2000 }

// PBDMAIntr1 returns the host-copy-engine error status register.
func PBDMAIntr1(unit uint32) uint32 { return 0x040148 + unit*0x2000 }

// PBDMAIntr1En returns the host-copy-engine error enable mask.
func PBDMAIntr1En(unit uint32) uint32 { return 0x04014c + unit*0x2000 }

// PBDMAHCEDbg0 returns the first HCE debug register.
func PBDMAHCEDbg0(unit uint32) uint32 { return 0x040150 + unit*0x2000 }

// PBDMAHCEDbg1 returns the second HCE debug register.
func PBDMAHCEDbg1(unit uint32) uint32 { return 0x040154 + unit*0x2000 }

// PBDMAMethod fields and control words.
const (
	PBDMAMethodSubcMask = 0x00070000
	PBDMAMethodSubcShft = 16
	PBDMAMethodAddrMask = 0x00003ffc

	// PBDMAMethodSkip acknowledges a software method.
	PBDMAMethodSkip = 0x80600008

	// PBDMAMethodDrop drops an illegal method.
	PBDMAMethodDrop = 0x00000008
)

// PBDMAIntr0 error bits handled specially.
const (
	PBDMAIntr0Method = 0x00200000
	PBDMAIntr0Device = 0x00800000
)
