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

// Package fifo implements the GK104-class command-submission scheduler: it
// assigns hardware channels to engines, builds and submits per-engine run
// lists, detects stalled channels, and recovers the device after an MMU
// fault or a context-switch timeout.
//
// Lock ordering:
//
//   - Device.runlistMu (held across the bounded runlist-swap wait)
//   - Device.mu (channel table + pending fault record; never held across a
//     blocking wait)
//   - Channel watchdog lock (arm/disarm/fire only)
package fifo

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/fifo/fifoconf"
	"nvkm.dev/nvkm/pkg/hwio"
	"nvkm.dev/nvkm/pkg/log"
	"nvkm.dev/nvkm/pkg/sync"
)

// Errors returned by administrative operations.
var (
	// ErrNoFreeSlot is returned by Create when every channel slot is live.
	ErrNoFreeSlot = errors.New("fifo: no free channel slot")

	// ErrNoSuchEngine is returned by Create when the requested engine mask
	// names no engine the device exposes.
	ErrNoSuchEngine = errors.New("fifo: unsupported engine mask")

	// ErrInvalidState is returned when an operation is not valid in the
	// channel's current lifecycle state.
	ErrInvalidState = errors.New("fifo: invalid channel state")

	// ErrInvalidArgument is returned for malformed requests, including
	// unknown priority levels and unknown channel methods.
	ErrInvalidArgument = errors.New("fifo: invalid argument")
)

// PMUMutexFIFO identifies the FIFO runlist token of the cooperative
// hardware arbitration mutex shared with the PMU firmware.
const PMUMutexFIFO = 0x07

// Engine is one compute/graphics/copy engine the scheduler can reset. The
// scheduler treats the engine as opaque beyond stop/reinit.
type Engine interface {
	// Name returns a short name for logging.
	Name() string

	// Init brings the engine up.
	Init() error

	// Fini stops the engine. suspend requests a clean stop.
	Fini(suspend bool) error
}

// PMU is the co-resident firmware unit. AcquireMutex failures are tolerated;
// runlist updates proceed best-effort without the token.
type PMU interface {
	AcquireMutex(id uint32) (token uint32, err error)
	ReleaseMutex(id uint32, token uint32) error

	// DisableClkGating/EnableClkGating bracket recovery; resetting engines
	// requires them fully clocked.
	DisableClkGating()
	EnableClkGating()
}

// Bar flushes write-combined writes to device-visible memory.
type Bar interface {
	Flush()
}

// GR is the graphics engine's firmware interface; HaltFECS is called before
// a GR reset so the context-switch firmware stops issuing requests.
type GR interface {
	HaltFECS()
}

// Memory allocates device-visible memory for runlist buffers and per-channel
// control pages.
type Memory interface {
	Alloc(size, align uint32) (hwio.Mem, error)
}

// PM is the embedder's runtime power-management hook. All methods are
// optional in the sense that a nil PM is tolerated everywhere.
type PM interface {
	// Get holds the device awake; every successful Get is paired with Put.
	Get() error
	Put()

	// Busy postpones any pending low-power transition. Called while the
	// device is visibly making (slow) progress.
	Busy()
}

// Options configures New.
type Options struct {
	// IO is the register aperture. Required.
	IO hwio.IO

	// Mem allocates device memory. Required.
	Mem Memory

	// Bar flushes write-combined memory. Required.
	Bar Bar

	// Engines lists the engines by scheduler engine index; nil entries are
	// engines this device does not expose. Required, at least one entry.
	Engines []Engine

	// PMU, GR and PM are optional collaborators.
	PMU PMU
	GR  GR
	PM  PM

	// Conf holds tunables; nil means fifoconf.Default().
	Conf *fifoconf.Config
}

// engineSlot is the scheduler's per-engine state: the double-buffered
// runlist and the completion signal for a submitted swap.
type engineSlot struct {
	eng Engine

	// runlist[next] is the buffer the next rebuild writes; the other one
	// is live. Protected by Device.runlistMu.
	runlist [2]hwio.Mem
	next    int

	// wait is signaled by the run-list-done interrupt.
	wait chan struct{}
}

// faultRecord is the single pending recovery descriptor. A fault arriving
// while one is queued merges into it instead of spawning a second pass.
type faultRecord struct {
	engines uint32 // scheduler engine indexes needing reset
	chid    int    // implicated channel, -1 if none
	units   uint32 // fault-reporting unit bitmask
}

// Device is the scheduler instance for one GPU.
type Device struct {
	io   hwio.IO
	mem  Memory
	bar  Bar
	pmu  PMU
	gr   GR
	pm   PM
	conf fifoconf.Config

	// userMem holds one 0x200-byte control page per channel; offset 0x20
	// of a page is the channel's GPFIFO consumer pointer.
	userMem hwio.Mem

	pbdmaNr uint32

	// runlistMu serializes runlist rebuilds across engines. It is held
	// across the bounded swap wait, so it must never be taken from the
	// interrupt path.
	runlistMu sync.Mutex
	engines   []engineSlot

	// mu protects the channel table, per-channel lifecycle state and
	// stall accounting, the pending fault record, and the recovery flags.
	mu            sync.Mutex
	channels      []*Channel
	fault         faultRecord
	recoverQueued bool
	recoverActive bool
	recoverDone   *sync.Cond

	events notifier

	// recoverC has depth one: it coalesces fault reports into a single
	// pending recovery pass.
	recoverC chan struct{}
	stopC    chan struct{}
	stopOnce sync.Once
	workerWG sync.WaitGroup

	// pbdmaLog rate-limits PBDMA error reporting to once per second.
	pbdmaLog log.Logger
}

// New creates a scheduler. The device is quiescent until Init is called.
func New(opts Options) (*Device, error) {
	if opts.IO == nil || opts.Mem == nil || opts.Bar == nil {
		return nil, fmt.Errorf("%w: missing IO, Mem or Bar", ErrInvalidArgument)
	}
	if len(opts.Engines) == 0 {
		return nil, fmt.Errorf("%w: no engines", ErrInvalidArgument)
	}
	conf := fifoconf.Default()
	if opts.Conf != nil {
		conf = *opts.Conf
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		io:       opts.IO,
		mem:      opts.Mem,
		bar:      opts.Bar,
		pmu:      opts.PMU,
		gr:       opts.GR,
		pm:       opts.PM,
		conf:     conf,
		engines:  make([]engineSlot, len(opts.Engines)),
		channels: make([]*Channel, conf.Channels),
		fault:    faultRecord{chid: -1},
		recoverC: make(chan struct{}, 1),
		stopC:    make(chan struct{}),
		pbdmaLog: log.BasicRateLimitedLogger(time.Second),
	}
	d.recoverDone = sync.NewCond(&d.mu)
	d.events.init()

	for i, eng := range opts.Engines {
		slot := &d.engines[i]
		slot.eng = eng
		slot.wait = make(chan struct{}, 1)
		for j := range slot.runlist {
			m, err := d.mem.Alloc(0x8000, 0x1000)
			if err != nil {
				return nil, fmt.Errorf("allocating engine %d runlist: %w", i, err)
			}
			slot.runlist[j] = m
		}
	}

	user, err := d.mem.Alloc(uint32(conf.Channels)*0x200, 0x1000)
	if err != nil {
		return nil, fmt.Errorf("allocating channel user memory: %w", err)
	}
	d.userMem = user

	d.workerWG.Add(1)
	go d.recoverWorker()
	return d, nil
}

// Init programs the PBDMA units, the user memory aperture, the interrupt
// enables, and the context-switch timeout period.
func (d *Device) Init() error {
	// Enable all available PBDMA units.
	d.io.Write32(gk104.RegPBDMAEnable, 0xffffffff)
	d.pbdmaNr = uint32(bits.OnesCount32(d.io.Read32(gk104.RegPBDMAEnable)))
	log.Debugf("fifo: %d PBDMA unit(s)", d.pbdmaNr)

	for i := uint32(0); i < d.pbdmaNr; i++ {
		hwio.Mask32(d.io, gk104.PBDMACtrl(i), 0x10000100, 0x00000000)
		d.io.Write32(gk104.PBDMAIntr0(i), 0xffffffff)
		d.io.Write32(gk104.PBDMAIntr0En(i), 0xfffffeff)
		d.io.Write32(gk104.PBDMAIntr1(i), 0xffffffff)
		d.io.Write32(gk104.PBDMAIntr1En(i), 0xffffffff)
	}

	d.io.Write32(gk104.RegUserBar, 0x10000000|uint32(d.userMem.Addr()>>12))

	d.io.Write32(gk104.RegIntr, 0xffffffff)
	d.io.Write32(gk104.RegIntrEn, 0x7fffffff)

	// Engine context switch timeout, in usec.
	d.io.Write32(gk104.RegCtxswTimeout, 0x80000000|(1000*d.conf.CheckPeriodMS))
	return nil
}

// Fini quiesces the scheduler. With suspend set, any pending fault recovery
// is flushed before returning. The MMU fault interrupt is left enabled even
// while the scheduler is otherwise idle.
func (d *Device) Fini(suspend bool) error {
	d.Flush()
	hwio.Mask32(d.io, gk104.RegIntrEn, gk104.IntrMMUFault, gk104.IntrMMUFault)
	return nil
}

// Shutdown flushes recovery and stops the recovery worker. Idempotent; the
// Device must not be used afterwards.
func (d *Device) Shutdown() {
	d.Flush()
	d.stopOnce.Do(func() { close(d.stopC) })
	d.workerWG.Wait()
}

// Flush waits for any queued or in-flight fault recovery to complete.
func (d *Device) Flush() {
	d.mu.Lock()
	for d.recoverQueued || d.recoverActive {
		d.recoverDone.Wait()
	}
	d.mu.Unlock()
}

// lookup returns the channel in slot chid, or nil.
//
// Precondition: d.mu must be locked.
func (d *Device) lookup(chid uint32) *Channel {
	if chid >= uint32(len(d.channels)) {
		return nil
	}
	return d.channels[chid]
}

// engineName names an engine for logging.
func (d *Device) engineName(engine uint32) string {
	if engine < uint32(len(d.engines)) && d.engines[engine].eng != nil {
		return d.engines[engine].eng.Name()
	}
	return gk104.EngineName(engine)
}

// pmGet/pmPut/pmBusy tolerate a nil PM collaborator.

func (d *Device) pmGet() bool {
	if d.pm == nil {
		return false
	}
	if err := d.pm.Get(); err != nil {
		log.Warningf("fifo: power get: %v", err)
		return false
	}
	return true
}

func (d *Device) pmPut(held bool) {
	if held {
		d.pm.Put()
	}
}

func (d *Device) pmBusy() {
	if d.pm != nil {
		d.pm.Busy()
	}
}
