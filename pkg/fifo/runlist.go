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
	"time"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/log"
)

// runlistUpdate rebuilds and submits the run list for one engine. The
// inactive buffer of the engine's double buffer is populated with every
// running channel bound to the engine and submitted; hardware swaps to it
// and raises the runlist-done interrupt. The wait for that interrupt is
// bounded; a timeout is reported but not retried.
func (d *Device) runlistUpdate(engine uint32) error {
	if engine >= uint32(len(d.engines)) || d.engines[engine].eng == nil {
		return ErrNoSuchEngine
	}

	d.runlistMu.Lock()
	defer d.runlistMu.Unlock()

	// The PMU firmware walks run lists too; the shared mutex keeps it from
	// observing a half-committed swap. Arbitration is cooperative and
	// best-effort: a failed acquire is logged and the update proceeds.
	var token uint32
	held := false
	if d.pmu != nil {
		t, err := d.pmu.AcquireMutex(PMUMutexFIFO)
		if err != nil {
			log.Warningf("fifo: acquiring PMU runlist mutex: %v", err)
		} else {
			token, held = t, true
		}
	}
	defer func() {
		if held {
			if err := d.pmu.ReleaseMutex(PMUMutexFIFO, token); err != nil {
				log.Warningf("fifo: releasing PMU runlist mutex: %v", err)
			}
		}
	}()

	slot := &d.engines[engine]
	buf := slot.runlist[slot.next]
	slot.next ^= 1

	// Drop any stale completion so the wait below observes only the
	// interrupt for this submission.
	select {
	case <-slot.wait:
	default:
	}

	var count uint32
	d.mu.Lock()
	for _, c := range d.channels {
		if c != nil && c.engine == engine && c.state == ChanRunning {
			buf.Wr32(count*8+0, c.chid)
			buf.Wr32(count*8+4, 0x00000000)
			count++
		}
	}
	d.mu.Unlock()
	d.bar.Flush()

	d.io.Write32(gk104.RegRunlistBase, uint32(buf.Addr()>>12))
	d.io.Write32(gk104.RegRunlistSubmit, engine<<20|count)

	// The done interrupt of an earlier, timed-out update can arrive late and
	// signal this wait; only a clear pending bit means this submission
	// committed.
	deadline := time.After(d.conf.RunlistTimeout())
	for {
		select {
		case <-slot.wait:
			if d.io.Read32(gk104.RunlistStatus(engine))&gk104.RunlistPending == 0 {
				return nil
			}
		case <-deadline:
			log.Warningf("fifo: runlist %d update timeout", engine)
			return fmt.Errorf("engine %d runlist update: %w", engine, errRunlistTimeout)
		}
	}
}

var errRunlistTimeout = fmt.Errorf("runlist swap not committed")
