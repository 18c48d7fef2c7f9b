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

// BindReason decodes RegBindStatus.
var BindReason = Enum{
	0x01: "BIND_NOT_UNBOUND",
	0x02: "SNOOP_WITHOUT_BAR1",
	0x03: "UNBIND_WHILE_RUNNING",
	0x05: "INVALID_RUNLIST",
	0x06: "INVALID_CTX_TGT",
	0x0b: "UNBIND_WHILE_PARKED",
}

// SchedReason decodes RegSchedStatus.
var SchedReason = Enum{
	0x0a: "CTXSW_TIMEOUT",
}

// SchedReasonCtxswTimeout is the scheduler error code that triggers the
// context-switch timeout monitor.
const SchedReasonCtxswTimeout = 0x0a

// FaultUnitInfo describes one fault-reporting unit.
type FaultUnitInfo struct {
	Name string

	// Engine is the scheduler engine index implicated by faults from this
	// unit, or -1 if the unit is not an engine.
	Engine int

	// PBDMA is true for pushbuffer DMA units.
	PBDMA bool
}

// FaultUnits maps fault-reporting unit codes. Units absent from the table
// are decoded as UNKxx with no engine.
var FaultUnits = map[uint32]FaultUnitInfo{
	0x00: {Name: "GR", Engine: EngineGR},
	0x03: {Name: "IFB", Engine: -1},
	0x04: {Name: "BAR1", Engine: -1},
	0x05: {Name: "BAR3", Engine: -1},
	0x07: {Name: "PBDMA0", Engine: -1, PBDMA: true},
	0x08: {Name: "PBDMA1", Engine: -1, PBDMA: true},
	0x09: {Name: "PBDMA2", Engine: -1, PBDMA: true},
	0x10: {Name: "MSVLD", Engine: EngineMSVLD},
	0x11: {Name: "MSPPP", Engine: EngineMSPPP},
	0x13: {Name: "PERF", Engine: -1},
	0x14: {Name: "MSPDEC", Engine: EngineMSPDEC},
	0x15: {Name: "CE0", Engine: EngineCE0},
	0x16: {Name: "CE1", Engine: EngineCE1},
	0x17: {Name: "PMU", Engine: -1},
	0x19: {Name: "MSENC", Engine: EngineMSENC},
	0x1b: {Name: "CE2", Engine: EngineGR}, // CE2 shares the GR runlist
}

// FaultUnitName decodes a fault unit code.
func FaultUnitName(unit uint32) string {
	if info, ok := FaultUnits[unit]; ok {
		return info.Name
	}
	return Enum(nil).Name(unit)
}

// FaultReason decodes the reason field of FaultInfo.
var FaultReason = Enum{
	0x00: "PDE",
	0x01: "PDE_SIZE",
	0x02: "PTE",
	0x03: "VA_LIMIT_VIOLATION",
	0x04: "UNBOUND_INST_BLOCK",
	0x05: "PRIV_VIOLATION",
	0x06: "RO_VIOLATION",
	0x07: "WO_VIOLATION",
	0x08: "PITCH_MASK_VIOLATION",
	0x09: "WORK_CREATION",
	0x0a: "UNSUPPORTED_APERTURE",
	0x0b: "COMPRESSION_FAILURE",
	0x0c: "UNSUPPORTED_KIND",
	0x0d: "REGION_VIOLATION",
	0x0e: "BOTH_PTES_VALID",
	0x0f: "INFO_TYPE_POISONED",
}

// FaultHubClient decodes the client field of FaultInfo when the hub bit is
// set.
var FaultHubClient = Enum{
	0x00: "VIP",
	0x01: "CE0",
	0x02: "CE1",
	0x03: "DNISO",
	0x04: "FE",
	0x05: "FECS",
	0x06: "HOST",
	0x07: "HOST_CPU",
	0x08: "HOST_CPU_NB",
	0x09: "ISO",
	0x0a: "MMU",
	0x0b: "MSPDEC",
	0x0c: "MSPPP",
	0x0d: "MSVLD",
	0x0e: "NISO",
	0x0f: "P2P",
	0x10: "PD",
	0x11: "PERF",
	0x12: "PMU",
	0x13: "RASTERTWOD",
	0x14: "SCC",
	0x15: "SCC_NB",
	0x16: "SEC",
	0x17: "SSYNC",
	0x18: "GR_CE",
	0x19: "CE2",
	0x1a: "XV",
	0x1b: "MMU_NB",
	0x1c: "MSENC",
	0x1d: "DFALCON",
	0x1e: "SKED",
	0x1f: "AFALCON",
}

// FaultGPCClient decodes the client field of FaultInfo when the hub bit is
// clear.
var FaultGPCClient = Enum{
	0x00: "L1_0", 0x01: "T1_0", 0x02: "PE_0",
	0x03: "L1_1", 0x04: "T1_1", 0x05: "PE_1",
	0x06: "L1_2", 0x07: "T1_2", 0x08: "PE_2",
	0x09: "L1_3", 0x0a: "T1_3", 0x0b: "PE_3",
	0x0c: "RAST",
	0x0d: "GCC",
	0x0e: "GPCCS",
	0x0f: "PROP_0",
	0x10: "PROP_1",
	0x11: "PROP_2",
	0x12: "PROP_3",
	0x13: "L1_4", 0x14: "T1_4", 0x15: "PE_4",
	0x16: "L1_5", 0x17: "T1_5", 0x18: "PE_5",
	0x19: "L1_6", 0x1a: "T1_6", 0x1b: "PE_6",
	0x1c: "L1_7", 0x1d: "T1_7", 0x1e: "PE_7",
	0x1f: "GPM",
	0x20: "LTP_UTLB_0",
	0x21: "LTP_UTLB_1",
	0x22: "LTP_UTLB_2",
	0x23: "LTP_UTLB_3",
	0x24: "GPC_RGG_UTLB",
}

// PBDMAIntr0Bits names the general PBDMA error bits.
var PBDMAIntr0Bits = Bitfield{
	{0x00000001, "MEMREQ"},
	{0x00000002, "MEMACK_TIMEOUT"},
	{0x00000004, "MEMACK_EXTRA"},
	{0x00000008, "MEMDAT_TIMEOUT"},
	{0x00000010, "MEMDAT_EXTRA"},
	{0x00000020, "MEMFLUSH"},
	{0x00000040, "MEMOP"},
	{0x00000080, "LBCONNECT"},
	{0x00000100, "LBREQ"},
	{0x00000200, "LBACK_TIMEOUT"},
	{0x00000400, "LBACK_EXTRA"},
	{0x00000800, "LBDAT_TIMEOUT"},
	{0x00001000, "LBDAT_EXTRA"},
	{0x00002000, "GPFIFO"},
	{0x00004000, "GPPTR"},
	{0x00008000, "GPENTRY"},
	{0x00010000, "GPCRC"},
	{0x00020000, "PBPTR"},
	{0x00040000, "PBENTRY"},
	{0x00080000, "PBCRC"},
	{0x00100000, "XBARCONNECT"},
	{0x00200000, "METHOD"},
	{0x00400000, "METHODCRC"},
	{0x00800000, "DEVICE"},
	{0x02000000, "SEMAPHORE"},
	{0x04000000, "ACQUIRE"},
	{0x08000000, "PRI"},
	{0x20000000, "NO_CTXSW_SEG"},
	{0x40000000, "PBSEG"},
	{0x80000000, "SIGNATURE"},
}

// PBDMAIntr1Bits names the host-copy-engine PBDMA error bits.
var PBDMAIntr1Bits = Bitfield{
	{0x00000001, "HCE_RE_ILLEGAL_OP"},
	{0x00000002, "HCE_RE_ALIGNB"},
	{0x00000004, "HCE_PRIV"},
	{0x00000008, "HCE_ILLEGAL_MTHD"},
	{0x00000010, "HCE_ILLEGAL_CLASS"},
}
