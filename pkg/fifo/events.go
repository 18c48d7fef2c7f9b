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
	"nvkm.dev/nvkm/pkg/sync"
)

// ErrorReason classifies a channel error notification.
type ErrorReason int

// Channel error reasons.
const (
	ErrorIdleTimeout ErrorReason = iota
	ErrorMMUFault
	ErrorPBDMA
)

// String implements fmt.Stringer.
func (r ErrorReason) String() string {
	switch r {
	case ErrorIdleTimeout:
		return "idle timeout"
	case ErrorMMUFault:
		return "mmu fault"
	case ErrorPBDMA:
		return "pbdma error"
	default:
		return "unknown"
	}
}

// notifier fans device events out to the embedder: per-channel error
// notifications (one per occurrence), a wakeup for waiters that may be
// blocked on a now-dead channel, and engine nonstall events.
type notifier struct {
	mu         sync.Mutex
	errorFn    func(chid uint32, reason ErrorReason)
	unblockFn  func()
	engineSubs map[chan struct{}]struct{}
}

func (n *notifier) init() {
	n.engineSubs = make(map[chan struct{}]struct{})
}

// RegisterErrorHandler installs the callback invoked when a channel suffers
// a fault, stall escalation or PBDMA error. The callback runs on whatever
// goroutine detected the error and must not block.
func (d *Device) RegisterErrorHandler(fn func(chid uint32, reason ErrorReason)) {
	d.events.mu.Lock()
	defer d.events.mu.Unlock()
	d.events.errorFn = fn
}

// RegisterUnblock installs the callback invoked when a channel is killed, so
// waiters blocked on work that will never complete can bail out.
func (d *Device) RegisterUnblock(fn func()) {
	d.events.mu.Lock()
	defer d.events.mu.Unlock()
	d.events.unblockFn = fn
}

// SubscribeEngineEvents returns a channel pulsed on engine nonstall
// interrupts, and a cancel function. The engine interrupt is enabled while
// at least one subscription is live.
func (d *Device) SubscribeEngineEvents() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	d.events.mu.Lock()
	first := len(d.events.engineSubs) == 0
	d.events.engineSubs[ch] = struct{}{}
	d.events.mu.Unlock()

	if first {
		hwio.Mask32(d.io, gk104.RegIntrEn, gk104.IntrEngine, gk104.IntrEngine)
	}

	cancel := func() {
		d.events.mu.Lock()
		delete(d.events.engineSubs, ch)
		last := len(d.events.engineSubs) == 0
		d.events.mu.Unlock()
		if last {
			hwio.Mask32(d.io, gk104.RegIntrEn, gk104.IntrEngine, 0)
		}
	}
	return ch, cancel
}

// notifyError reports a channel error. Every occurrence is reported; each
// escalation path fires at most once per incident by construction (a killed
// channel's watchdog is disarmed and killed channels are skipped by the
// monitor and the fault decoder).
func (n *notifier) notifyError(chid uint32, reason ErrorReason) {
	n.mu.Lock()
	fn := n.errorFn
	n.mu.Unlock()
	if fn != nil {
		fn(chid, reason)
	}
}

// notifyUnblock wakes waiters after a channel kill.
func (n *notifier) notifyUnblock() {
	n.mu.Lock()
	fn := n.unblockFn
	n.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// notifyEngine pulses every engine event subscriber without blocking.
func (n *notifier) notifyEngine() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.engineSubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
