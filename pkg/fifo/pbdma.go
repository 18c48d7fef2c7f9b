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
	"nvkm.dev/nvkm/pkg/log"
)

// swMthd delivers a software method held in a PBDMA unit's method shadow to
// the owning channel's software object. Returns true when the method was
// consumed.
func (d *Device) swMthd(chid, mthd, data uint32) bool {
	d.mu.Lock()
	c := d.lookup(chid)
	var obj SoftwareMethod
	if c != nil {
		obj = c.swObj
	}
	d.mu.Unlock()

	if mthd == 0x0000 {
		// Object bind; nothing for software classes to do.
		return true
	}
	if obj == nil {
		return false
	}
	// The handler may call back into the device, so it runs unlocked.
	if err := obj.Mthd(mthd, data); err != nil {
		log.Debugf("fifo: channel %d mthd %04x: %v", chid, mthd, err)
		return false
	}
	return true
}

// intrPbdma0 services one PBDMA unit's general error status. DEVICE errors
// carrying a software method are dispatched and released; METHOD errors are
// dropped; anything else is reported (rate limited) and acknowledged.
func (d *Device) intrPbdma0(unit uint32) {
	mask := d.io.Read32(gk104.PBDMAIntr0En(unit))
	stat := d.io.Read32(gk104.PBDMAIntr0(unit)) & mask
	if stat == 0 {
		return
	}

	chid := d.io.Read32(gk104.PBDMAChan(unit)) & 0xfff
	show := stat

	if stat&gk104.PBDMAIntr0Device != 0 {
		mthd := d.io.Read32(gk104.PBDMAMethod(unit))
		data := d.io.Read32(gk104.PBDMAData(unit))
		addr := mthd & gk104.PBDMAMethodAddrMask
		if d.swMthd(chid, addr, data) {
			show &^= gk104.PBDMAIntr0Device
		}
		d.io.Write32(gk104.PBDMAMethod(unit), gk104.PBDMAMethodSkip)
	}

	if stat&gk104.PBDMAIntr0Method != 0 {
		// Illegal method; drop it so the unit can advance.
		d.io.Write32(gk104.PBDMAMethod(unit), gk104.PBDMAMethodDrop)
		show &^= gk104.PBDMAIntr0Method
	}

	if show != 0 {
		mthd := d.io.Read32(gk104.PBDMAMethod(unit))
		data := d.io.Read32(gk104.PBDMAData(unit))
		subc := (mthd & gk104.PBDMAMethodSubcMask) >> gk104.PBDMAMethodSubcShft
		d.pbdmaLog.Warningf(
			"fifo: PBDMA%d: %08x [%s] ch %d subc %d mthd %04x data %08x",
			unit, show, gk104.PBDMAIntr0Bits.String(show), chid, subc,
			mthd&gk104.PBDMAMethodAddrMask, data)
		d.events.notifyError(chid, ErrorPBDMA)
	}

	d.io.Write32(gk104.PBDMAIntr0(unit), stat)
}

// intrPbdma1 services one PBDMA unit's host-copy-engine error status.
func (d *Device) intrPbdma1(unit uint32) {
	mask := d.io.Read32(gk104.PBDMAIntr1En(unit))
	stat := d.io.Read32(gk104.PBDMAIntr1(unit)) & mask
	if stat == 0 {
		return
	}

	chid := d.io.Read32(gk104.PBDMAChan(unit)) & 0xfff
	d.pbdmaLog.Warningf("fifo: PBDMA%d: %08x [%s] ch %d %08x %08x",
		unit, stat, gk104.PBDMAIntr1Bits.String(stat), chid,
		d.io.Read32(gk104.PBDMAHCEDbg0(unit)),
		d.io.Read32(gk104.PBDMAHCEDbg1(unit)))
	d.events.notifyError(chid, ErrorPBDMA)

	d.io.Write32(gk104.PBDMAIntr1(unit), stat)
}
