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

package fifo_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/fifo"
	"nvkm.dev/nvkm/pkg/fifo/fifoconf"
	"nvkm.dev/nvkm/pkg/gk104sim"
	"nvkm.dev/nvkm/pkg/sync"
)

type harness struct {
	sim *gk104sim.Sim
	dev *fifo.Device
	gr  *gk104sim.GR
	pmu *gk104sim.PMU
	eng []*gk104sim.Engine

	mu    sync.Mutex
	errs  []chanErr
	wakeC chan struct{}
}

type chanErr struct {
	Chid   uint32
	Reason fifo.ErrorReason
}

func newHarness(t *testing.T, conf *fifoconf.Config) *harness {
	t.Helper()

	h := &harness{
		sim: gk104sim.New(),
		gr:  gk104sim.NewGR(),
		pmu: gk104sim.NewPMU(),
		eng: []*gk104sim.Engine{
			gk104sim.NewEngine("gr"),
			gk104sim.NewEngine("ce0"),
		},
		wakeC: make(chan struct{}, 16),
	}

	dev, err := fifo.New(fifo.Options{
		IO:      h.sim,
		Mem:     h.sim,
		Bar:     h.sim,
		Engines: []fifo.Engine{h.eng[0], h.eng[1]},
		PMU:     h.pmu,
		GR:      h.gr,
		Conf:    conf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.dev = dev

	dev.RegisterErrorHandler(func(chid uint32, reason fifo.ErrorReason) {
		h.mu.Lock()
		h.errs = append(h.errs, chanErr{chid, reason})
		h.mu.Unlock()
	})
	dev.RegisterUnblock(func() {
		select {
		case h.wakeC <- struct{}{}:
		default:
		}
	})

	h.sim.SetIRQ(dev.Intr)
	if err := dev.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(dev.Shutdown)
	return h
}

func (h *harness) create(t *testing.T, engines uint32) *fifo.Channel {
	t.Helper()
	args := &gk104.ChannelGPFIFOAllocV0{
		Engines: engines,
		IOffset: 0x200000,
		ILength: 0x1000,
	}
	c, err := h.dev.Create(args)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if args.Chid != c.Chid() {
		t.Fatalf("Create: args.Chid = %d, channel says %d", args.Chid, c.Chid())
	}
	return c
}

func (h *harness) errors() []chanErr {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]chanErr, len(h.errs))
	copy(out, h.errs)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChannelRoundTrip(t *testing.T) {
	h := newHarness(t, nil)

	c := h.create(t, 1<<gk104.EngineGR)
	if got := c.State(); got != fifo.ChanStopped {
		t.Fatalf("state after create = %v, want stopped", got)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := c.State(); got != fifo.ChanRunning {
		t.Fatalf("state after start = %v, want running", got)
	}
	sub := h.sim.LastSubmit(gk104.EngineGR)
	if sub == nil {
		t.Fatal("no runlist submitted")
	}
	if diff := cmp.Diff([]uint32{c.Chid()}, sub.Chids); diff != "" {
		t.Errorf("runlist after start (-want +got):\n%s", diff)
	}

	// Starting a running channel is rejected.
	if err := c.Start(); !errors.Is(err, fifo.ErrInvalidState) {
		t.Errorf("second Start = %v, want ErrInvalidState", err)
	}
	// So is closing it.
	if err := c.Close(); !errors.Is(err, fifo.ErrInvalidState) {
		t.Errorf("Close while running = %v, want ErrInvalidState", err)
	}

	if err := c.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sub = h.sim.LastSubmit(gk104.EngineGR)
	if len(sub.Chids) != 0 {
		t.Errorf("runlist after stop = %v, want empty", sub.Chids)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The slot is reusable.
	c2 := h.create(t, 1<<gk104.EngineGR)
	if c2.Chid() != c.Chid() {
		t.Errorf("reused chid = %d, want %d", c2.Chid(), c.Chid())
	}
}

func TestCreateErrors(t *testing.T) {
	conf := fifoconf.Default()
	conf.Channels = 2
	h := newHarness(t, &conf)

	if _, err := h.dev.Create(&gk104.ChannelGPFIFOAllocV0{
		Engines: 1 << 10, IOffset: 0x200000, ILength: 0x1000,
	}); !errors.Is(err, fifo.ErrNoSuchEngine) {
		t.Errorf("Create with bad engine mask = %v, want ErrNoSuchEngine", err)
	}

	h.create(t, 1<<gk104.EngineGR)
	h.create(t, 1<<gk104.EngineGR)
	if _, err := h.dev.Create(&gk104.ChannelGPFIFOAllocV0{
		Engines: 1 << gk104.EngineGR, IOffset: 0x200000, ILength: 0x1000,
	}); !errors.Is(err, fifo.ErrNoFreeSlot) {
		t.Errorf("Create past capacity = %v, want ErrNoFreeSlot", err)
	}
}

func TestRunlistTracksOnlyRunning(t *testing.T) {
	h := newHarness(t, nil)

	a := h.create(t, 1<<gk104.EngineGR)
	b := h.create(t, 1<<gk104.EngineGR)
	other := h.create(t, 1<<1) // second engine

	for _, c := range []*fifo.Channel{a, b, other} {
		if err := c.Start(); err != nil {
			t.Fatalf("Start %d: %v", c.Chid(), err)
		}
	}

	sub := h.sim.LastSubmit(gk104.EngineGR)
	if diff := cmp.Diff([]uint32{a.Chid(), b.Chid()}, sub.Chids); diff != "" {
		t.Errorf("GR runlist (-want +got):\n%s", diff)
	}
	sub = h.sim.LastSubmit(1)
	if diff := cmp.Diff([]uint32{other.Chid()}, sub.Chids); diff != "" {
		t.Errorf("engine 1 runlist (-want +got):\n%s", diff)
	}

	if err := a.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sub = h.sim.LastSubmit(gk104.EngineGR)
	if diff := cmp.Diff([]uint32{b.Chid()}, sub.Chids); diff != "" {
		t.Errorf("GR runlist after stop (-want +got):\n%s", diff)
	}
}

func TestMMUFaultRecovery(t *testing.T) {
	h := newHarness(t, nil)

	victim := h.create(t, 1<<gk104.EngineGR)
	bystander := h.create(t, 1<<gk104.EngineGR)
	if err := victim.Start(); err != nil {
		t.Fatalf("Start victim: %v", err)
	}
	if err := bystander.Start(); err != nil {
		t.Fatalf("Start bystander: %v", err)
	}

	// Unit 0 is GR; reason PTE, hub client HOST.
	h.sim.InjectMMUFault(0x00, victim.Chid(), 0xdead0000, 0x00000642)

	waitFor(t, "victim kill", func() bool {
		return victim.State() == fifo.ChanKilled
	})
	h.dev.Flush()

	if got := bystander.State(); got != fifo.ChanRunning {
		t.Errorf("bystander state = %v, want running", got)
	}
	sub := h.sim.LastSubmit(gk104.EngineGR)
	if diff := cmp.Diff([]uint32{bystander.Chid()}, sub.Chids); diff != "" {
		t.Errorf("rebuilt runlist (-want +got):\n%s", diff)
	}

	inits, finis := h.eng[gk104.EngineGR].Resets()
	if inits < 1 || finis < 1 {
		t.Errorf("GR engine resets = %d/%d, want at least 1/1", inits, finis)
	}
	if h.gr.Halts() < 1 {
		t.Error("FECS was not halted for GR reset")
	}
	if !h.pmu.GatingBalanced() {
		t.Error("clock gating disable/enable unbalanced after recovery")
	}

	found := false
	for _, e := range h.errors() {
		if e.Chid == victim.Chid() && e.Reason == fifo.ErrorMMUFault {
			found = true
		}
	}
	if !found {
		t.Errorf("no mmu fault notification for channel %d: %v",
			victim.Chid(), h.errors())
	}
	select {
	case <-h.wakeC:
	default:
		t.Error("no unblock wakeup after kill")
	}

	// Killed is terminal.
	if err := victim.Start(); !errors.Is(err, fifo.ErrInvalidState) {
		t.Errorf("Start killed channel = %v, want ErrInvalidState", err)
	}
	if err := victim.SetPriority(gk104.ChannelPriorityHigh); !errors.Is(err, fifo.ErrInvalidState) {
		t.Errorf("SetPriority on killed channel = %v, want ErrInvalidState", err)
	}
	if err := victim.SetTimeout(100); !errors.Is(err, fifo.ErrInvalidState) {
		t.Errorf("SetTimeout on killed channel = %v, want ErrInvalidState", err)
	}

	// The slot is recoverable through Close.
	if err := victim.Close(); err != nil {
		t.Fatalf("Close killed channel: %v", err)
	}
	c := h.create(t, 1<<gk104.EngineGR)
	if c.Chid() != victim.Chid() {
		t.Errorf("reused chid = %d, want %d", c.Chid(), victim.Chid())
	}
}

func TestEngineInitFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.eng[gk104.EngineGR].FailNextInit(true)
	h.sim.InjectMMUFault(0x00, c.Chid(), 0x1000, 0x00000002)

	waitFor(t, "kill", func() bool { return c.State() == fifo.ChanKilled })
	h.dev.Flush()

	// Recovery completed despite the failed reinit; the device still
	// schedules on other channels.
	if !h.pmu.GatingBalanced() {
		t.Error("clock gating unbalanced after failed reinit")
	}
	c2 := h.create(t, 1<<gk104.EngineGR)
	h.eng[gk104.EngineGR].FailNextInit(false)
	if err := c2.Start(); err != nil {
		t.Errorf("Start after failed recovery: %v", err)
	}
}

func TestWatchdogEscalation(t *testing.T) {
	conf := fifoconf.Default()
	conf.WatchdogTimeoutMS = 50
	h := newHarness(t, &conf)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// No GPFIFO progress: the watchdog fires and escalates.
	waitFor(t, "watchdog escalation", func() bool {
		return c.State() == fifo.ChanKilled
	})
	h.dev.Flush()

	found := false
	for _, e := range h.errors() {
		if e.Chid == c.Chid() && e.Reason == fifo.ErrorIdleTimeout {
			found = true
		}
	}
	if !found {
		t.Errorf("no idle timeout notification: %v", h.errors())
	}
}

func TestWatchdogStopBeforeExpiry(t *testing.T) {
	conf := fifoconf.Default()
	conf.WatchdogTimeoutMS = 50
	h := newHarness(t, &conf)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if got := c.State(); got != fifo.ChanStopped {
		t.Errorf("state after disarm and sleep = %v, want stopped", got)
	}
	if errs := h.errors(); len(errs) != 0 {
		t.Errorf("unexpected notifications: %v", errs)
	}
}

func TestWatchdogRearmsOnProgress(t *testing.T) {
	conf := fifoconf.Default()
	conf.WatchdogTimeoutMS = 100
	h := newHarness(t, &conf)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Keep advancing the consumer pointer faster than the interval.
	for i := 0; i < 6; i++ {
		time.Sleep(50 * time.Millisecond)
		if err := h.sim.AdvanceGet(c.Chid(), uint32(i+1)*0x10); err != nil {
			t.Fatalf("AdvanceGet: %v", err)
		}
	}
	if got := c.State(); got != fifo.ChanRunning {
		t.Errorf("state under steady progress = %v, want running", got)
	}
}

func TestSoftwareMethodDispatch(t *testing.T) {
	h := newHarness(t, nil)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	type mthd struct{ Mthd, Data uint32 }
	got := make(chan mthd, 1)
	c.BindSoftware(swHandler(func(m, d uint32) error {
		got <- mthd{m, d}
		return nil
	}))

	h.sim.InjectSoftwareMethod(0, c.Chid(), 0, 0x0500, 0x1234)

	select {
	case m := <-got:
		if m.Mthd != 0x0500 || m.Data != 0x1234 {
			t.Errorf("software method = %04x/%08x, want 0500/00001234",
				m.Mthd, m.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("software method not delivered")
	}

	// A consumed method must not be reported as a channel error.
	waitFor(t, "intr drain", func() bool {
		return h.sim.Read32(gk104.PBDMAIntr0(0)) == 0
	})
	if errs := h.errors(); len(errs) != 0 {
		t.Errorf("unexpected notifications: %v", errs)
	}
	if got := h.sim.Read32(gk104.PBDMAMethod(0)); got != gk104.PBDMAMethodSkip {
		t.Errorf("method shadow = %08x, want skip ack %08x",
			got, gk104.PBDMAMethodSkip)
	}
}

func TestPBDMAErrorNotification(t *testing.T) {
	h := newHarness(t, nil)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pbdmaCount := func() int {
		n := 0
		for _, e := range h.errors() {
			if e.Chid == c.Chid() && e.Reason == fifo.ErrorPBDMA {
				n++
			}
		}
		return n
	}

	h.sim.InjectPBDMAError(0, c.Chid(), 0x00002000) // GPFIFO

	waitFor(t, "pbdma notification", func() bool { return pbdmaCount() == 1 })

	// The channel survives a PBDMA error.
	if got := c.State(); got != fifo.ChanRunning {
		t.Errorf("state after pbdma error = %v, want running", got)
	}

	// A later, distinct error on the surviving channel is a new incident and
	// is reported again; only the log line is rate limited.
	h.sim.InjectPBDMAError(0, c.Chid(), 0x00002000)
	waitFor(t, "second pbdma notification", func() bool { return pbdmaCount() == 2 })
}

func TestChannelMthd(t *testing.T) {
	h := newHarness(t, nil)
	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Mthd(gk104.KeplerSetChannelPriority,
		&gk104.SetChannelPriorityV0{Priority: gk104.ChannelPriorityHigh}); err != nil {
		t.Errorf("set priority: %v", err)
	}
	if err := c.Mthd(gk104.KeplerSetChannelTimeout,
		&gk104.SetChannelTimeoutV0{TimeoutMS: 500}); err != nil {
		t.Errorf("set timeout: %v", err)
	}

	if err := c.Mthd(gk104.KeplerSetChannelPriority, 42); !errors.Is(err, fifo.ErrInvalidArgument) {
		t.Errorf("bad payload = %v, want ErrInvalidArgument", err)
	}
	if err := c.Mthd(0x7777, nil); !errors.Is(err, fifo.ErrInvalidArgument) {
		t.Errorf("unknown mthd = %v, want ErrInvalidArgument", err)
	}
	if err := c.SetPriority(99); !errors.Is(err, fifo.ErrInvalidArgument) {
		t.Errorf("bad priority = %v, want ErrInvalidArgument", err)
	}
}

func TestPMUMutexFailureTolerated(t *testing.T) {
	h := newHarness(t, nil)
	h.pmu.FailAcquire(true)

	c := h.create(t, 1<<gk104.EngineGR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start with failing PMU mutex: %v", err)
	}
	sub := h.sim.LastSubmit(gk104.EngineGR)
	if sub == nil || len(sub.Chids) != 1 {
		t.Fatalf("runlist not submitted without PMU token: %+v", sub)
	}
	if h.pmu.MutexHeld() {
		t.Error("PMU mutex leaked")
	}
}

func TestEngineEventSubscription(t *testing.T) {
	h := newHarness(t, nil)

	ch, cancel := h.dev.SubscribeEngineEvents()
	if en := h.sim.Read32(gk104.RegIntrEn); en&gk104.IntrEngine == 0 {
		t.Error("engine interrupt not enabled for first subscriber")
	}

	h.sim.FireEngineEvent()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("engine event not delivered")
	}

	cancel()
	if en := h.sim.Read32(gk104.RegIntrEn); en&gk104.IntrEngine != 0 {
		t.Error("engine interrupt still enabled after last unsubscribe")
	}
}

// swHandler adapts a func to the software method interface.
type swHandler func(mthd, data uint32) error

func (f swHandler) Mthd(mthd, data uint32) error { return f(mthd, data) }
