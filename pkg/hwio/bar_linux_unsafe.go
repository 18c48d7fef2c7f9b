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

//go:build linux

package hwio

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BAR is an IO backed by an mmap'd PCI resource file (e.g.
// /sys/bus/pci/devices/.../resource0). Accesses are 32-bit and aligned, which
// the register layout guarantees.
type BAR struct {
	m []byte
}

// OpenBAR maps size bytes of the given resource file.
func OpenBAR(path string, size int) (*BAR, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer unix.Close(fd)
	m, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &BAR{m: m}, nil
}

// Read32 implements IO.Read32.
func (b *BAR) Read32(addr uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b.m[addr])))
}

// Write32 implements IO.Write32.
func (b *BAR) Write32(addr, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&b.m[addr])), val)
}

// Close unmaps the aperture. The BAR must not be used afterwards.
func (b *BAR) Close() error {
	m := b.m
	b.m = nil
	return unix.Munmap(m)
}
