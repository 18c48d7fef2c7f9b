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

package fifo

import (
	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/hwio"
	"nvkm.dev/nvkm/pkg/log"
)

// Intr services the device's coalesced interrupt. Bits are handled in fixed
// order and individually acknowledged; any bit without a handler is masked
// off so it cannot storm.
func (d *Device) Intr() {
	mask := d.io.Read32(gk104.RegIntrEn)
	stat := d.io.Read32(gk104.RegIntr) & mask

	if stat&gk104.IntrBind != 0 {
		d.intrBind()
		d.io.Write32(gk104.RegIntr, gk104.IntrBind)
		stat &^= gk104.IntrBind
	}

	if stat&gk104.IntrPIO != 0 {
		log.Warningf("fifo: PIO_ERROR")
		d.io.Write32(gk104.RegIntr, gk104.IntrPIO)
		stat &^= gk104.IntrPIO
	}

	if stat&gk104.IntrSched != 0 {
		d.intrSched()
		d.io.Write32(gk104.RegIntr, gk104.IntrSched)
		stat &^= gk104.IntrSched
	}

	if stat&gk104.IntrChsw != 0 {
		d.intrChsw()
		d.io.Write32(gk104.RegIntr, gk104.IntrChsw)
		stat &^= gk104.IntrChsw
	}

	if stat&gk104.IntrFBFlushTimeout != 0 {
		log.Warningf("fifo: FB_FLUSH_TIMEOUT")
		d.io.Write32(gk104.RegIntr, gk104.IntrFBFlushTimeout)
		stat &^= gk104.IntrFBFlushTimeout
	}

	if stat&gk104.IntrLB != 0 {
		log.Warningf("fifo: LB_ERROR")
		d.io.Write32(gk104.RegIntr, gk104.IntrLB)
		stat &^= gk104.IntrLB
	}

	if stat&gk104.IntrDroppedFault != 0 {
		d.intrDroppedFault()
		d.io.Write32(gk104.RegIntr, gk104.IntrDroppedFault)
		stat &^= gk104.IntrDroppedFault
	}

	if stat&gk104.IntrMMUFault != 0 {
		units := d.io.Read32(gk104.RegFaultUnits)
		for u := units; u != 0; {
			unit := uint32(0)
			for u&(1<<unit) == 0 {
				unit++
			}
			d.intrFault(unit)
			u &^= 1 << unit
		}
		d.io.Write32(gk104.RegIntr, gk104.IntrMMUFault)
		stat &^= gk104.IntrMMUFault
	}

	if stat&gk104.IntrPBDMA != 0 {
		units := d.io.Read32(gk104.RegPBDMAIntrUnit)
		for unit := uint32(0); unit < d.pbdmaNr; unit++ {
			if units&(1<<unit) == 0 {
				continue
			}
			d.intrPbdma0(unit)
			d.intrPbdma1(unit)
		}
		d.io.Write32(gk104.RegPBDMAIntrUnit, units)
		d.io.Write32(gk104.RegIntr, gk104.IntrPBDMA)
		stat &^= gk104.IntrPBDMA
	}

	if stat&gk104.IntrRunlist != 0 {
		done := d.io.Read32(gk104.RegRunlistDone)
		for engn := uint32(0); engn < uint32(len(d.engines)); engn++ {
			if done&(1<<engn) == 0 {
				continue
			}
			select {
			case d.engines[engn].wait <- struct{}{}:
			default:
			}
			d.io.Write32(gk104.RegRunlistDone, 1<<engn)
		}
		d.io.Write32(gk104.RegIntr, gk104.IntrRunlist)
		stat &^= gk104.IntrRunlist
	}

	if stat&gk104.IntrEngine != 0 {
		d.io.Write32(gk104.RegIntr, gk104.IntrEngine)
		d.events.notifyEngine()
		stat &^= gk104.IntrEngine
	}

	if stat != 0 {
		log.Warningf("fifo: INTR 0x%08x, masking", stat)
		hwio.Mask32(d.io, gk104.RegIntrEn, stat, 0)
		d.io.Write32(gk104.RegIntr, stat)
	}
}

func (d *Device) intrBind() {
	code := d.io.Read32(gk104.RegBindStatus) & 0xff
	log.Warningf("fifo: BIND_ERROR %02x [%s]", code, gk104.BindReason.Name(code))
}

func (d *Device) intrSched() {
	code := d.io.Read32(gk104.RegSchedStatus) & 0xff
	if code == gk104.SchedReasonCtxswTimeout {
		d.intrSchedCtxsw()
		return
	}
	log.Warningf("fifo: SCHED_ERROR %02x [%s]", code, gk104.SchedReason.Name(code))
}

func (d *Device) intrChsw() {
	stat := d.io.Read32(gk104.RegChswStatus)
	log.Warningf("fifo: CHSW_ERROR %08x", stat)
	d.io.Write32(gk104.RegChswStatus, stat)
}

func (d *Device) intrDroppedFault() {
	units := d.io.Read32(gk104.RegFaultUnits)
	log.Warningf("fifo: DROPPED_MMU_FAULT %08x", units)
	d.io.Write32(gk104.RegFaultUnits, units)
}

// intrFault decodes and reports one unit's MMU fault, and for engine units
// hands the implicated channel to recovery. The channel is found by matching
// the faulting instance address against the channel table.
func (d *Device) intrFault(unit uint32) {
	inst := d.io.Read32(gk104.FaultInst(unit))
	lo := d.io.Read32(gk104.FaultAddrLo(unit))
	hi := d.io.Read32(gk104.FaultAddrHi(unit))
	info := d.io.Read32(gk104.FaultInfo(unit))

	reason := info & gk104.FaultInfoReasonMask
	hub := info&gk104.FaultInfoHub != 0
	write := info&gk104.FaultInfoWrite != 0
	client := (info & gk104.FaultInfoClientMask) >> gk104.FaultInfoClientShft
	gpc := (info & gk104.FaultInfoGPCMask) >> gk104.FaultInfoGPCShft

	var clientName string
	if hub {
		clientName = gk104.FaultHubClient.Name(client)
	} else {
		clientName = gk104.FaultGPCClient.Name(client)
	}

	rw := "read"
	if write {
		rw = "write"
	}
	log.Warningf("fifo: %s fault at %02x%08x [%s] from %s/%s",
		rw, hi, lo, gk104.FaultReason.Name(reason),
		gk104.FaultUnitName(unit), clientName)
	if !hub {
		log.Debugf("fifo: fault gpc %d", gpc)
	}

	funit, known := gk104.FaultUnits[unit]
	switch {
	case !known:
		return
	case funit.Engine < 0 && !funit.PBDMA:
		// Non-engine apertures re-arm by touching their control register.
		switch funit.Name {
		case "BAR1":
			d.io.Write32(gk104.RegBAR1Fault, d.io.Read32(gk104.RegBAR1Fault))
		case "BAR3":
			d.io.Write32(gk104.RegBAR3Fault, d.io.Read32(gk104.RegBAR3Fault))
		case "IFB":
			d.io.Write32(gk104.RegIFBFault, d.io.Read32(gk104.RegIFBFault))
		}
		return
	}

	instAddr := uint64(inst&0x0fffffff) << 12

	d.mu.Lock()
	var victim *Channel
	for _, c := range d.channels {
		if c != nil && c.state != ChanKilled && c.inst.Addr() == instAddr {
			victim = c
			break
		}
	}
	d.mu.Unlock()
	if victim == nil {
		log.Warningf("fifo: fault from unbound instance %010x", instAddr)
		return
	}

	engine := victim.engine
	if funit.Engine >= 0 {
		engine = uint32(funit.Engine)
	}

	d.events.notifyError(victim.chid, ErrorMMUFault)
	d.pmBusy()
	d.mmuFaultRecover(engine, victim, unit)
}
