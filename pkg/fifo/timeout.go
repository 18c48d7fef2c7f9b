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
	"time"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/log"
)

// intrSchedCtxsw runs the context-switch timeout monitor: hardware raises
// SCHED/CTXSW_TIMEOUT periodically while any engine is mid-switch, and each
// delivery charges one check period to the channel the engine is stuck on.
func (d *Device) intrSchedCtxsw() {
	type stalled struct {
		engine uint32
		c      *Channel
	}
	var victims []stalled

	d.mu.Lock()
	for engn := range d.engines {
		if d.engines[engn].eng == nil {
			continue
		}
		stat := d.io.Read32(gk104.EngineStatus(uint32(engn)))
		if stat&gk104.EngineStatusBusy == 0 {
			continue
		}
		ctxstat := (stat & gk104.EngineStatusCtxMask) >> gk104.EngineStatusCtxShft

		var chid uint32
		switch ctxstat {
		case gk104.CtxswStatusLoad:
			chid = (stat & gk104.EngineStatusNextMask) >> gk104.EngineStatusNextShft
		case gk104.CtxswStatusSave, gk104.CtxswStatusSwitch:
			chid = stat & gk104.EngineStatusPrevMask
		default:
			continue
		}

		c := d.lookup(chid)
		if c == nil || c.state == ChanKilled {
			continue
		}
		if d.chargeStall(c, d.conf.CheckPeriodMS) {
			victims = append(victims, stalled{uint32(engn), c})
		} else {
			log.Warningf("fifo: engine %s: channel %d waiting for ctxsw",
				d.engineName(uint32(engn)), c.chid)
		}
	}
	d.mu.Unlock()

	if len(victims) == 0 {
		// Slow but live progress: postpone any power-down.
		d.pmBusy()
		return
	}
	for _, v := range victims {
		d.events.notifyError(v.c.chid, ErrorIdleTimeout)
		d.watchdogRestartAll(v.c)
		d.schedCtxswRecover(v.engine, v.c)
	}
}

// chargeStall accumulates one check period against c. Any observed GPFIFO
// progress since the previous check zeroes the accumulator. Returns true
// when the accumulated stall exceeds the channel's limit.
//
// Precondition: d.mu must be locked.
func (d *Device) chargeStall(c *Channel, periodMS uint32) bool {
	get := c.gpfifoGet()
	if get != c.timeout.gpfifoGet {
		c.timeout.sumMS = 0
		c.timeout.gpfifoGet = get
		return false
	}
	c.timeout.sumMS += periodMS
	return c.timeout.sumMS > c.timeout.limitMS
}

// watchdogRestartAll disarms and re-arms the watchdog of every live channel
// except the one being recovered, so a device-wide stall does not escalate
// once per channel.
func (d *Device) watchdogRestartAll(except *Channel) {
	d.mu.Lock()
	var live []*Channel
	for _, c := range d.channels {
		if c != nil && c != except {
			live = append(live, c)
		}
	}
	d.mu.Unlock()

	for _, c := range live {
		c.watchdogRestart()
	}
}

// watchdogStart arms the channel's progress watchdog. Idempotent: arming an
// armed watchdog leaves the running timer alone.
func (c *Channel) watchdogStart() {
	t := &c.timeout
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		return
	}
	t.armed = true
	t.watchdogGet = c.gpfifoGet()
	t.timer = time.AfterFunc(c.dev.conf.WatchdogTimeout(), c.watchdogWork)
}

// watchdogStop disarms the watchdog. A firing that already started loses the
// race here and observes armed == false, so disarm is always safe.
func (c *Channel) watchdogStop() {
	t := &c.timeout
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.armed = false
	t.timer.Stop()
}

// watchdogRestart re-snapshots progress and restarts the timer.
func (c *Channel) watchdogRestart() {
	t := &c.timeout
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.timer.Stop()
	t.watchdogGet = c.gpfifoGet()
	t.timer.Reset(c.dev.conf.WatchdogTimeout())
}

// watchdogWork fires when a channel has made no GPFIFO progress for the full
// watchdog interval. Progress since arming re-arms silently; a true stall is
// escalated to fault recovery on the channel's engine.
func (c *Channel) watchdogWork() {
	d := c.dev
	t := &c.timeout

	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.mu.Unlock()

	held := d.pmGet()
	defer d.pmPut(held)

	cur := c.gpfifoGet()

	t.mu.Lock()
	advanced := cur != t.watchdogGet
	if advanced {
		t.armed = true
		t.watchdogGet = cur
		t.timer.Reset(d.conf.WatchdogTimeout())
	}
	t.mu.Unlock()
	if advanced {
		return
	}

	log.Warningf("fifo: channel %d watchdog expired, get 0x%08x", c.chid, cur)
	d.events.notifyError(c.chid, ErrorIdleTimeout)
	d.schedCtxswRecover(c.engine, c)
}
