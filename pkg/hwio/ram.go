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

package hwio

import (
	"sync/atomic"

	"nvkm.dev/nvkm/pkg/sync"
)

// RAM is host-memory-backed Mem. It stands in for device memory in tests and
// in the simulated device.
type RAM struct {
	addr  uint64
	words []atomic.Uint32
}

// NewRAM returns a RAM of size bytes at the given device address. size is
// rounded up to a word multiple.
func NewRAM(addr uint64, size uint32) *RAM {
	return &RAM{
		addr:  addr,
		words: make([]atomic.Uint32, (size+3)/4),
	}
}

// Addr implements Mem.Addr.
func (r *RAM) Addr() uint64 { return r.addr }

// Size implements Mem.Size.
func (r *RAM) Size() uint32 { return uint32(len(r.words) * 4) }

// Rd32 implements Mem.Rd32.
func (r *RAM) Rd32(off uint32) uint32 { return r.words[off/4].Load() }

// Wr32 implements Mem.Wr32.
func (r *RAM) Wr32(off, val uint32) { r.words[off/4].Store(val) }

// RegisterFile is a sparse, host-memory-backed IO. It is the register port
// used by white-box tests; the simulated device builds on it.
type RegisterFile struct {
	mu   sync.Mutex
	regs map[uint32]uint32
}

// NewRegisterFile returns an empty RegisterFile. Unwritten registers read as
// zero.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{regs: make(map[uint32]uint32)}
}

// Read32 implements IO.Read32.
func (f *RegisterFile) Read32(addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[addr]
}

// Write32 implements IO.Write32.
func (f *RegisterFile) Write32(addr, val uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = val
}
