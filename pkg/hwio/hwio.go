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

// Package hwio provides 32-bit access to memory-mapped device registers and
// to device-visible memory, plus a bounded register poll.
//
// Implementations of IO are expected to be safe for concurrent use; the
// device serializes where ordering matters.
package hwio

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// IO is a 32-bit register aperture.
type IO interface {
	// Read32 reads the register at addr.
	Read32(addr uint32) uint32

	// Write32 writes val to the register at addr.
	Write32(addr, val uint32)
}

// Mask32 performs a read-modify-write on the register at addr: the bits in
// mask are cleared and the bits in val are set. It returns the prior value.
func Mask32(io IO, addr, mask, val uint32) uint32 {
	old := io.Read32(addr)
	io.Write32(addr, (old&^mask)|val)
	return old
}

// ErrTimeout is returned by Poll when the condition does not hold within the
// deadline.
var ErrTimeout = errors.New("hwio: timed out polling register")

// errPollPending makes backoff retry; it never escapes Poll.
var errPollPending = errors.New("hwio: poll pending")

// Poll waits until the register at addr, masked with mask, reads as val.
// The wait is bounded by timeout; expiry returns ErrTimeout. Poll never
// retries past the deadline and is not meant for interrupt context.
func Poll(io IO, addr, mask, val uint32, timeout time.Duration) error {
	op := func() error {
		if io.Read32(addr)&mask == val {
			return nil
		}
		return errPollPending
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = timeout
	if err := backoff.Retry(op, b); err != nil {
		return ErrTimeout
	}
	return nil
}

// Mem is a handle to device-visible memory, addressed in bytes and accessed
// in 32-bit words. Offsets must be word aligned.
type Mem interface {
	// Addr returns the device address of the memory.
	Addr() uint64

	// Size returns the length of the memory in bytes.
	Size() uint32

	// Rd32 reads the word at byte offset off.
	Rd32(off uint32) uint32

	// Wr32 writes the word at byte offset off.
	Wr32(off, val uint32)
}
