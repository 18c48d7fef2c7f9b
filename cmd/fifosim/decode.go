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

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"nvkm.dev/nvkm/pkg/abi/gk104"
)

// decodeCmd implements subcommands.Command for the "decode" command.
type decodeCmd struct{}

// Name implements subcommands.Command.Name.
func (*decodeCmd) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*decodeCmd) Synopsis() string {
	return "decode a raw hardware status word"
}

// Usage implements subcommands.Command.Usage.
func (*decodeCmd) Usage() string {
	return `decode {pbdma0|pbdma1|fault|bind|sched|unit} <hex value> - decode a raw hardware status word
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*decodeCmd) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*decodeCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	raw, err := strconv.ParseUint(strings.TrimPrefix(f.Arg(1), "0x"), 16, 32)
	if err != nil {
		fmt.Printf("bad value %q: %v\n", f.Arg(1), err)
		return subcommands.ExitUsageError
	}
	v := uint32(raw)

	switch f.Arg(0) {
	case "pbdma0":
		fmt.Printf("%08x [%s]\n", v, gk104.PBDMAIntr0Bits.String(v))
	case "pbdma1":
		fmt.Printf("%08x [%s]\n", v, gk104.PBDMAIntr1Bits.String(v))
	case "fault":
		reason := v & gk104.FaultInfoReasonMask
		client := (v & gk104.FaultInfoClientMask) >> gk104.FaultInfoClientShft
		rw := "read"
		if v&gk104.FaultInfoWrite != 0 {
			rw = "write"
		}
		if v&gk104.FaultInfoHub != 0 {
			fmt.Printf("%s fault [%s] hub client %s\n", rw,
				gk104.FaultReason.Name(reason), gk104.FaultHubClient.Name(client))
		} else {
			gpc := (v & gk104.FaultInfoGPCMask) >> gk104.FaultInfoGPCShft
			fmt.Printf("%s fault [%s] gpc %d client %s\n", rw,
				gk104.FaultReason.Name(reason), gpc, gk104.FaultGPCClient.Name(client))
		}
	case "bind":
		fmt.Printf("%02x [%s]\n", v&0xff, gk104.BindReason.Name(v&0xff))
	case "sched":
		fmt.Printf("%02x [%s]\n", v&0xff, gk104.SchedReason.Name(v&0xff))
	case "unit":
		fmt.Printf("%02x [%s]\n", v, gk104.FaultUnitName(v))
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}
	return subcommands.ExitSuccess
}
