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

package gk104

import (
	"fmt"
	"strings"
)

// Enum maps a compact hardware code to a descriptive name.
type Enum map[uint32]string

// Name returns the name for code, or an UNKxx placeholder for codes the
// table does not map.
func (e Enum) Name(code uint32) string {
	if n, ok := e[code]; ok {
		return n
	}
	return fmt.Sprintf("UNK%02x", code)
}

// Bitfield names the individual bits of a status word.
type Bitfield []struct {
	Mask uint32
	Name string
}

// String renders the set bits of v, space separated. Bits the table does not
// name are rendered as a single UNK mask at the end.
func (b Bitfield) String(v uint32) string {
	var parts []string
	for _, f := range b {
		if v&f.Mask != 0 {
			parts = append(parts, f.Name)
			v &^= f.Mask
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("UNK%08x", v))
	}
	return strings.Join(parts, " ")
}
