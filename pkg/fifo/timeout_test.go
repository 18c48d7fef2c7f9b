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
	"testing"
	"time"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/fifo/fifoconf"
	"nvkm.dev/nvkm/pkg/gk104sim"
)

func newTestDevice(t *testing.T, conf *fifoconf.Config) (*Device, *gk104sim.Sim) {
	t.Helper()
	sim := gk104sim.New()
	d, err := New(Options{
		IO:      sim,
		Mem:     sim,
		Bar:     sim,
		Engines: []Engine{gk104sim.NewEngine("gr"), gk104sim.NewEngine("ce0")},
		Conf:    conf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sim.SetIRQ(d.Intr)
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(d.Shutdown)
	return d, sim
}

func startChannel(t *testing.T, d *Device) *Channel {
	t.Helper()
	c, err := d.Create(&gk104.ChannelGPFIFOAllocV0{
		Engines: 1 << gk104.EngineGR,
		IOffset: 0x200000,
		ILength: 0x1000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestStallAccounting(t *testing.T) {
	d, sim := newTestDevice(t, nil)
	c := startChannel(t, d)
	if err := c.SetTimeout(500); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	// Five stalled checks accumulate exactly the limit; only the sixth
	// exceeds it.
	d.mu.Lock()
	for i := 1; i <= 5; i++ {
		if d.chargeStall(c, 100) {
			d.mu.Unlock()
			t.Fatalf("escalated on check %d, sum %d ms", i, c.timeout.sumMS)
		}
	}
	if got := c.timeout.sumMS; got != 500 {
		d.mu.Unlock()
		t.Fatalf("accumulated stall = %d ms, want 500", got)
	}
	if !d.chargeStall(c, 100) {
		d.mu.Unlock()
		t.Fatal("no escalation at 600 ms against a 500 ms limit")
	}
	d.mu.Unlock()

	// Progress zeroes the accumulator; stalls do not carry across it.
	if err := sim.AdvanceGet(c.chid, 0x40); err != nil {
		t.Fatalf("AdvanceGet: %v", err)
	}
	d.mu.Lock()
	if d.chargeStall(c, 100) {
		d.mu.Unlock()
		t.Fatal("escalated on the check that observed progress")
	}
	if got := c.timeout.sumMS; got != 0 {
		d.mu.Unlock()
		t.Fatalf("accumulated stall after progress = %d ms, want 0", got)
	}
	d.mu.Unlock()
}

func TestCtxswTimeoutEscalation(t *testing.T) {
	d, sim := newTestDevice(t, nil)
	c := startChannel(t, d)
	if err := c.SetTimeout(100); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	sim.SetEngineStatus(gk104.EngineGR, gk104sim.EngineCtxswLoad(c.chid))

	// First check charges one period and only warns.
	d.intrSchedCtxsw()
	if got := c.State(); got != ChanRunning {
		t.Fatalf("state after first check = %v, want running", got)
	}

	// Second check exceeds the limit and escalates to recovery.
	d.intrSchedCtxsw()
	deadline := time.Now().Add(5 * time.Second)
	for c.State() != ChanKilled {
		if time.Now().After(deadline) {
			t.Fatal("channel not killed after ctxsw timeout escalation")
		}
		time.Sleep(time.Millisecond)
	}
	d.Flush()
}

func TestCtxswTimeoutSkipsIdleEngines(t *testing.T) {
	d, sim := newTestDevice(t, nil)
	c := startChannel(t, d)
	if err := c.SetTimeout(100); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}

	// Engine not busy: checks charge nothing.
	sim.SetEngineStatus(gk104.EngineGR, 0)
	d.intrSchedCtxsw()
	d.intrSchedCtxsw()
	d.intrSchedCtxsw()

	d.mu.Lock()
	sum := c.timeout.sumMS
	d.mu.Unlock()
	if sum != 0 {
		t.Errorf("idle engine accumulated %d ms", sum)
	}
	if got := c.State(); got != ChanRunning {
		t.Errorf("state = %v, want running", got)
	}
}

func TestWatchdogDisarmRace(t *testing.T) {
	d, _ := newTestDevice(t, nil)
	c := startChannel(t, d)

	// Arming is idempotent: the second arm must not replace the timer.
	c.timeout.mu.Lock()
	timer := c.timeout.timer
	c.timeout.mu.Unlock()
	c.watchdogStart()
	c.timeout.mu.Lock()
	if c.timeout.timer != timer {
		c.timeout.mu.Unlock()
		t.Fatal("re-arm replaced the running timer")
	}
	c.timeout.mu.Unlock()

	// A firing that lost the race against disarm is a no-op.
	c.watchdogStop()
	c.watchdogWork()
	if got := c.State(); got != ChanRunning {
		t.Errorf("state after raced firing = %v, want running", got)
	}
}

func TestFaultRecordMerge(t *testing.T) {
	d, _ := newTestDevice(t, nil)
	a := startChannel(t, d)

	b, err := d.Create(&gk104.ChannelGPFIFOAllocV0{
		Engines: 1 << 1,
		IOffset: 0x300000,
		ILength: 0x1000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Stop the worker so the pending record can be inspected: a second fault
	// arriving before the pass runs must merge, with the channel reference
	// taken from the latest fault.
	d.Shutdown()
	d.mmuFaultRecover(0, a, 0x00)
	d.mmuFaultRecover(1, b, 0x10)

	d.mu.Lock()
	rec := d.fault
	d.mu.Unlock()
	if rec.engines != 0x3 {
		t.Errorf("merged engine mask = %#x, want 0x3", rec.engines)
	}
	if rec.chid != int(b.chid) {
		t.Errorf("merged chid = %d, want %d", rec.chid, b.chid)
	}
	if rec.units != 1<<0x00|1<<0x10 {
		t.Errorf("merged units = %#x, want %#x", rec.units, 1<<0|1<<0x10)
	}
	if a.State() != ChanKilled || b.State() != ChanKilled {
		t.Errorf("states = %v/%v, want killed/killed", a.State(), b.State())
	}

	// The worker is gone; drop the record so the cleanup Flush has nothing
	// to wait for.
	d.mu.Lock()
	d.fault = faultRecord{chid: -1}
	d.recoverQueued = false
	d.mu.Unlock()
}

func TestRecoveryMergesConcurrentFaults(t *testing.T) {
	d, _ := newTestDevice(t, nil)
	c := startChannel(t, d)

	// Report the same fault twice before the worker runs; the second merges
	// into the pending record instead of queuing a second pass.
	d.mmuFaultRecover(gk104.EngineGR, c, 0)
	d.mmuFaultRecover(gk104.EngineGR, c, 0)
	d.Flush()

	if got := c.State(); got != ChanKilled {
		t.Errorf("state = %v, want killed", got)
	}
	d.mu.Lock()
	rec := d.fault
	d.mu.Unlock()
	if rec.engines != 0 || rec.chid != -1 {
		t.Errorf("fault record not cleared: %+v", rec)
	}
}
