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
	"errors"
	"testing"
	"time"
)

func TestMask32(t *testing.T) {
	f := NewRegisterFile()
	f.Write32(0x100, 0xffff0000)

	old := Mask32(f, 0x100, 0x00ff00ff, 0x00000055)
	if old != 0xffff0000 {
		t.Errorf("Mask32 returned %08x, want ffff0000", old)
	}
	if got := f.Read32(0x100); got != 0xff000055 {
		t.Errorf("register = %08x, want ff000055", got)
	}
}

func TestPollImmediate(t *testing.T) {
	f := NewRegisterFile()
	f.Write32(0x200, 0x80000001)
	if err := Poll(f, 0x200, 0x1, 0x1, time.Second); err != nil {
		t.Errorf("Poll on satisfied condition: %v", err)
	}
}

func TestPollEventual(t *testing.T) {
	f := NewRegisterFile()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Write32(0x200, 0x4)
	}()
	if err := Poll(f, 0x200, 0x4, 0x4, 2*time.Second); err != nil {
		t.Errorf("Poll across a delayed write: %v", err)
	}
}

func TestPollTimeout(t *testing.T) {
	f := NewRegisterFile()
	start := time.Now()
	err := Poll(f, 0x200, 0x4, 0x4, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Poll = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Poll overran its deadline by %v", elapsed)
	}
}

func TestRAM(t *testing.T) {
	m := NewRAM(0x1000, 10)
	if m.Addr() != 0x1000 {
		t.Errorf("Addr = %#x, want 0x1000", m.Addr())
	}
	if m.Size() != 12 { // rounded up to words
		t.Errorf("Size = %d, want 12", m.Size())
	}
	m.Wr32(8, 0xdeadbeef)
	if got := m.Rd32(8); got != 0xdeadbeef {
		t.Errorf("Rd32(8) = %08x, want deadbeef", got)
	}
	if got := m.Rd32(0); got != 0 {
		t.Errorf("Rd32(0) = %08x, want 0", got)
	}
}
