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
	"fmt"
	"math/bits"
	"time"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/hwio"
	"nvkm.dev/nvkm/pkg/log"
	"nvkm.dev/nvkm/pkg/sync"
)

// ChanState is a channel lifecycle state.
type ChanState int

// Channel states. Killed is terminal: a killed channel's slot must be closed
// and a new channel created to reuse the id.
const (
	ChanStopped ChanState = iota
	ChanRunning
	ChanKilled
)

// String implements fmt.Stringer.
func (s ChanState) String() string {
	switch s {
	case ChanStopped:
		return "stopped"
	case ChanRunning:
		return "running"
	case ChanKilled:
		return "killed"
	default:
		return fmt.Sprintf("invalid(%d)", int(s))
	}
}

// SoftwareMethod is the per-channel object that receives software methods:
// control opcodes issued through the channel's own command stream that are
// interpreted by the host rather than hardware.
type SoftwareMethod interface {
	Mthd(mthd, data uint32) error
}

// Channel is one hardware execution context slot. Channels are exclusively
// owned by the Device; other components reference them by chid through the
// channel table.
type Channel struct {
	dev    *Device
	chid   uint32
	engine uint32
	inst   hwio.Mem

	// state is protected by dev.mu.
	state ChanState

	// swObj receives software methods; protected by dev.mu.
	swObj SoftwareMethod

	timeout struct {
		// Stall accounting for the context-switch timeout monitor.
		// Protected by dev.mu.
		sumMS     uint32
		limitMS   uint32
		gpfifoGet uint32

		// Watchdog arm/disarm/fire state. The dedicated lock makes the
		// three atomic with respect to each other; a firing that loses
		// the disarm race sees armed == false and becomes a no-op.
		mu          sync.Mutex
		armed       bool
		timer       *time.Timer
		watchdogGet uint32
	}
}

// Chid returns the channel id.
func (c *Channel) Chid() uint32 { return c.chid }

// EngineIndex returns the scheduler engine index the channel is bound to.
func (c *Channel) EngineIndex() uint32 { return c.engine }

// State returns the channel's lifecycle state.
func (c *Channel) State() ChanState {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.state
}

// BindSoftware binds the object receiving the channel's software methods.
func (c *Channel) BindSoftware(obj SoftwareMethod) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.swObj = obj
}

// userBase returns the byte offset of the channel's control page in the
// device's user memory.
func (c *Channel) userBase() uint32 { return c.chid * 0x200 }

// gpfifoGet reads the channel's current GPFIFO consumer pointer.
func (c *Channel) gpfifoGet() uint32 {
	return c.dev.userMem.Rd32(c.userBase() + 0x20)
}

// Create allocates a channel slot, binds it to one engine named by
// args.Engines, and initializes its control memory. args.Chid is filled in
// with the assigned id.
func (d *Device) Create(args *gk104.ChannelGPFIFOAllocV0) (*Channel, error) {
	log.Debugf("fifo: create channel gpfifo engines 0x%08x ioffset %016x ilength %08x",
		args.Engines, args.IOffset, args.ILength)

	// Exactly one engine is selected: the lowest requested bit naming an
	// engine this device exposes.
	engine := -1
	for i := range d.engines {
		if args.Engines&(1<<uint(i)) != 0 && d.engines[i].eng != nil {
			engine = i
			break
		}
	}
	if engine < 0 {
		log.Warningf("fifo: unsupported engines 0x%08x", args.Engines)
		return nil, ErrNoSuchEngine
	}
	args.Engines = 1 << uint(engine)

	if args.ILength < 8 || args.ILength&(args.ILength-1) != 0 {
		return nil, fmt.Errorf("%w: ilength 0x%x", ErrInvalidArgument, args.ILength)
	}
	ilog2 := uint32(bits.Len32(args.ILength/8) - 1)

	inst, err := d.mem.Alloc(0x1000, 0x1000)
	if err != nil {
		return nil, fmt.Errorf("allocating channel instance: %w", err)
	}

	c := &Channel{
		dev:    d,
		engine: uint32(engine),
		inst:   inst,
	}
	c.timeout.limitMS = d.conf.DefaultTimeoutMS

	d.mu.Lock()
	chid := -1
	for i, slot := range d.channels {
		if slot == nil {
			chid = i
			break
		}
	}
	if chid < 0 {
		d.mu.Unlock()
		return nil, ErrNoFreeSlot
	}
	c.chid = uint32(chid)
	d.channels[chid] = c
	d.mu.Unlock()

	// Zero the channel's control page, then program the instance block.
	usermem := c.userBase()
	for i := uint32(0); i < 0x200; i += 4 {
		d.userMem.Wr32(usermem+i, 0x00000000)
	}

	userAddr := d.userMem.Addr() + uint64(usermem)
	inst.Wr32(0x08, uint32(userAddr))
	inst.Wr32(0x0c, uint32(userAddr>>32))
	inst.Wr32(0x10, 0x0000face)
	inst.Wr32(0x30, 0xfffff902)
	inst.Wr32(0x48, uint32(args.IOffset))
	inst.Wr32(0x4c, uint32(args.IOffset>>32)|(ilog2<<16))
	inst.Wr32(0x84, 0x20400000)
	inst.Wr32(0x94, 0x30000001)
	inst.Wr32(0x9c, 0x00000100)
	inst.Wr32(0xac, 0x0000001f)
	inst.Wr32(0xe8, c.chid)
	inst.Wr32(0xb8, 0xf8000000)
	inst.Wr32(0xf8, 0x10003080) // timeslice
	inst.Wr32(0xfc, 0x10000010)
	d.bar.Flush()

	args.Chid = c.chid
	return c, nil
}

// Start transitions the channel from stopped to running: it programs the
// engine binding, enables the channel, rebuilds the engine's run list, and
// re-enables the channel. The two-phase enable brackets the run-list update
// so hardware never schedules a channel whose run-list entry does not exist
// yet.
func (c *Channel) Start() error {
	d := c.dev

	d.mu.Lock()
	if c.state != ChanStopped {
		state := c.state
		d.mu.Unlock()
		return fmt.Errorf("%w: start from %v", ErrInvalidState, state)
	}
	c.state = ChanRunning
	d.mu.Unlock()

	hwio.Mask32(d.io, gk104.ChanCtrl(c.chid), gk104.ChanCtrlEngineMask,
		c.engine<<gk104.ChanCtrlEngineShft)
	d.io.Write32(gk104.ChanInst(c.chid),
		gk104.ChanInstValid|uint32(c.inst.Addr()>>12))

	c.enable(true)
	err := d.runlistUpdate(c.engine)
	c.enable(true)

	c.watchdogStart()
	return err
}

// Stop transitions the channel from running to stopped and removes it from
// the engine's run list. With suspend set, Stop first waits (bounded) for
// the engine to report idle; failing that wait is returned as an error and
// the channel is left untouched.
func (c *Channel) Stop(suspend bool) error {
	d := c.dev

	if suspend {
		if err := hwio.Poll(d.io, gk104.EngineStatus(c.engine),
			gk104.EngineStatusBusy, 0, d.conf.RunlistTimeout()); err != nil {
			log.Warningf("fifo: engine %s wait idle timeout", d.engineName(c.engine))
			return fmt.Errorf("engine %d idle wait: %w", c.engine, err)
		}
	}

	c.watchdogStop()

	d.mu.Lock()
	running := c.state == ChanRunning
	if running {
		c.state = ChanStopped
	}
	state := c.state
	d.mu.Unlock()

	if !running && state != ChanStopped {
		return fmt.Errorf("%w: stop from %v", ErrInvalidState, state)
	}

	var err error
	if running {
		c.enable(false)
		err = d.runlistUpdate(c.engine)
	}

	// Acknowledge any outstanding command-stream writes before finalizing.
	if kerr := c.kick(); kerr != nil {
		if suspend {
			return kerr
		}
		log.Warningf("fifo: %v", kerr)
	}

	d.io.Write32(gk104.ChanInst(c.chid), 0x00000000)
	return err
}

// Close releases the channel's slot. The channel must be stopped or killed;
// the slot is zeroed and may be reused by a subsequent Create.
func (c *Channel) Close() error {
	d := c.dev

	c.watchdogStop()

	d.mu.Lock()
	if c.state == ChanRunning {
		d.mu.Unlock()
		return fmt.Errorf("%w: close while running", ErrInvalidState)
	}
	d.channels[c.chid] = nil
	d.mu.Unlock()

	d.io.Write32(gk104.ChanInst(c.chid), 0x00000000)
	return nil
}

// enable sets or clears the channel's hardware enable.
func (c *Channel) enable(on bool) {
	state := uint32(gk104.ChanCtrlDisable)
	if on {
		state = gk104.ChanCtrlEnable
	}
	hwio.Mask32(c.dev.io, gk104.ChanCtrl(c.chid), state, state)
}

// kick preempts the channel and waits (bounded) for the preempt to land, so
// outstanding pushbuffer fetches are known to have settled.
func (c *Channel) kick() error {
	d := c.dev
	d.io.Write32(gk104.RegChannelKick, c.chid)
	if err := hwio.Poll(d.io, gk104.RegChannelKick, gk104.ChannelKickPending, 0,
		d.conf.RunlistTimeout()); err != nil {
		return fmt.Errorf("channel %d kick: %w", c.chid, err)
	}
	return nil
}

// Mthd dispatches an administrative control method against the channel,
// mirroring the channel's own command-stream control-method convention.
func (c *Channel) Mthd(mthd uint32, args any) error {
	switch mthd {
	case gk104.KeplerSetChannelPriority:
		p, ok := args.(*gk104.SetChannelPriorityV0)
		if !ok {
			return fmt.Errorf("%w: bad priority payload", ErrInvalidArgument)
		}
		return c.SetPriority(uint32(p.Priority))
	case gk104.KeplerSetChannelTimeout:
		t, ok := args.(*gk104.SetChannelTimeoutV0)
		if !ok {
			return fmt.Errorf("%w: bad timeout payload", ErrInvalidArgument)
		}
		return c.SetTimeout(t.TimeoutMS)
	default:
		return fmt.Errorf("%w: mthd 0x%04x", ErrInvalidArgument, mthd)
	}
}

// SetPriority maps a coarse priority level to a hardware timeslice and
// reprograms the channel with it. The channel is disabled, its in-flight
// kick confirmed, the slice written, and the channel re-enabled.
func (c *Channel) SetPriority(priority uint32) error {
	d := c.dev

	var slice uint32
	switch priority {
	case gk104.ChannelPriorityLow:
		slice = uint32(d.conf.TimesliceLow) // << 3 == 512 us
	case gk104.ChannelPriorityMedium:
		slice = uint32(d.conf.TimesliceMedium) // 1 ms
	case gk104.ChannelPriorityHigh:
		slice = uint32(d.conf.TimesliceHigh) // 2 ms
	default:
		return fmt.Errorf("%w: priority %d", ErrInvalidArgument, priority)
	}

	d.mu.Lock()
	killed := c.state == ChanKilled
	d.mu.Unlock()
	if killed {
		return fmt.Errorf("%w: channel %d is killed", ErrInvalidState, c.chid)
	}

	c.enable(false)
	if err := c.kick(); err != nil {
		log.Warningf("fifo: %v", err)
	}
	c.inst.Wr32(0xf8, slice|0x10003000)
	c.dev.bar.Flush()
	c.enable(true)

	log.Debugf("fifo: timeslice set to %d for %d", slice, c.chid)
	return nil
}

// SetTimeout updates the channel's stall-timeout limit. It takes effect on
// the next progress check; there is no immediate hardware effect.
func (c *Channel) SetTimeout(timeoutMS uint32) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.state == ChanKilled {
		return fmt.Errorf("%w: channel %d is killed", ErrInvalidState, c.chid)
	}
	c.timeout.limitMS = timeoutMS
	log.Debugf("fifo: timeout set to %d ms for %d", timeoutMS, c.chid)
	return nil
}
