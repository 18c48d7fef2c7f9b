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
	"nvkm.dev/nvkm/pkg/sync"
)

// mmuFaultRecover is the synchronous half of fault recovery: it fences off
// further pushbuffer fetches, kills the implicated channel, and merges the
// fault into the single pending recovery record. The heavy reset work runs
// on the recovery worker.
func (d *Device) mmuFaultRecover(engine uint32, c *Channel, unit uint32) {
	log.Warningf("fifo: %s engine fault on channel %d, recovering",
		d.engineName(engine), c.chid)

	// The victim is being killed; its watchdog must not escalate again.
	c.watchdogStop()

	// Mask the fault and scheduler interrupts until recovery re-arms them;
	// the stale fault status would otherwise re-raise immediately.
	hwio.Mask32(d.io, gk104.RegIntrEn, 0x10000100, 0)

	// Stop further command fetches while the engine is torn down.
	hwio.Mask32(d.io, gk104.RegGRFIFOCtrl,
		gk104.GRFIFOCtrlAccess|gk104.GRFIFOCtrlSemaphore, 0)
	c.enable(false)

	d.mu.Lock()
	c.state = ChanKilled
	d.fault.engines |= 1 << engine
	d.fault.chid = int(c.chid)
	d.fault.units |= 1 << unit
	queued := d.recoverQueued
	d.recoverQueued = true
	d.mu.Unlock()

	d.events.notifyUnblock()
	if !queued {
		d.recoverC <- struct{}{}
	}
}

func (d *Device) recoverWorker() {
	defer d.workerWG.Done()
	for {
		select {
		case <-d.stopC:
			return
		case <-d.recoverC:
			d.recoverWork()
		}
	}
}

// recoverWork is the asynchronous half: it takes the pending fault record,
// resets every implicated engine, rebuilds their run lists, and re-arms the
// fault reporting machinery. Per-engine reset failures are logged and do not
// abort the pass.
func (d *Device) recoverWork() {
	held := d.pmGet()
	defer d.pmPut(held)

	d.mu.Lock()
	rec := d.fault
	d.fault = faultRecord{chid: -1}
	d.recoverQueued = false
	d.recoverActive = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.recoverActive = false
		d.recoverDone.Broadcast()
		d.mu.Unlock()
	}()

	engm := rec.engines
	log.Debugf("fifo: recover engines 0x%x units 0x%x chid %d",
		engm, rec.units, rec.chid)

	// Engines reset poorly while clock-gated.
	if d.pmu != nil {
		d.pmu.DisableClkGating()
	}

	hwio.Mask32(d.io, gk104.RegSchedDisable, engm, engm)

	if engm&(1<<gk104.EngineGR) != 0 && d.gr != nil {
		d.gr.HaltFECS()
	}

	var wg sync.WaitGroupErr
	for engn := uint32(0); engn < uint32(len(d.engines)); engn++ {
		if engm&(1<<engn) == 0 || d.engines[engn].eng == nil {
			continue
		}
		eng := d.engines[engn].eng
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.Fini(false); err != nil {
				log.Warningf("fifo: stopping %s: %v", eng.Name(), err)
				wg.ReportError(err)
				return
			}
			if err := eng.Init(); err != nil {
				log.Warningf("fifo: restarting %s: %v", eng.Name(), err)
				wg.ReportError(err)
			}
		}()
	}
	if err := wg.Error(); err != nil {
		log.Warningf("fifo: engine reset incomplete: %v", err)
	}

	hwio.Mask32(d.io, gk104.RegGRFIFOCtrl,
		gk104.GRFIFOCtrlAccess|gk104.GRFIFOCtrlSemaphore,
		gk104.GRFIFOCtrlAccess|gk104.GRFIFOCtrlSemaphore)

	for engn := uint32(0); engn < uint32(len(d.engines)); engn++ {
		if engm&(1<<engn) == 0 || d.engines[engn].eng == nil {
			continue
		}
		if err := d.runlistUpdate(engn); err != nil {
			log.Warningf("fifo: rebuilding runlist %d: %v", engn, err)
		}
	}

	d.io.Write32(gk104.RegFaultUnits, rec.units)
	d.io.Write32(gk104.RegEngineAck, engm)
	hwio.Mask32(d.io, gk104.RegSchedDisable, engm, 0)
	hwio.Mask32(d.io, gk104.RegIntrEn, 0x10000100, 0x10000100)

	if d.pmu != nil {
		d.pmu.EnableClkGating()
	}
}

// schedCtxswRecover escalates a context-switch timeout into MMU fault
// recovery by synthesizing a fault against the stalled channel: there is no
// direct way to evict a context wedged mid-switch, but the fault path can.
func (d *Device) schedCtxswRecover(engine uint32, c *Channel) {
	log.Warningf("fifo: engine %s: channel %d ctxsw timeout, triggering fault",
		d.engineName(engine), c.chid)

	// Take the fault paths out of interrupt dispatch; the synthesized fault
	// is observed by polling and handed to recovery directly.
	hwio.Mask32(d.io, gk104.RegIntrEn, gk104.IntrMMUFault|gk104.IntrSched, 0)
	d.io.Write32(gk104.RegIntr, gk104.IntrSched)

	d.io.Write32(gk104.RegFaultTrigger, 0x00000100|engine)
	if err := hwio.Poll(d.io, gk104.RegIntr, gk104.IntrMMUFault,
		gk104.IntrMMUFault, d.conf.RunlistTimeout()); err != nil {
		log.Warningf("fifo: synthesized fault did not surface: %v", err)
	}
	d.io.Write32(gk104.RegFaultTrigger, 0x00000000)

	d.mmuFaultRecover(engine, c, 0)
}
