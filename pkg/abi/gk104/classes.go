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

// Object classes the scheduler knows about.
const (
	// KeplerChannelGPFIFOA is the channel class exposed to consumers.
	KeplerChannelGPFIFOA = 0x0000a06f

	// SoftwareClass is the class of the per-channel object that receives
	// software methods.
	SoftwareClass = 0x0000906e
)

// Channel control methods, dispatched via (*fifo.Channel).Mthd.
const (
	KeplerSetChannelPriority = 0x00000000
	KeplerSetChannelTimeout  = 0x00000001
)

// Priority levels accepted by KeplerSetChannelPriority.
const (
	ChannelPriorityLow    = 0
	ChannelPriorityMedium = 1
	ChannelPriorityHigh   = 2
)

// SetChannelPriorityV0 is the payload of KeplerSetChannelPriority.
type SetChannelPriorityV0 struct {
	Version  uint8
	Priority uint8
}

// SetChannelTimeoutV0 is the payload of KeplerSetChannelTimeout.
type SetChannelTimeoutV0 struct {
	Version   uint8
	TimeoutMS uint32
}

// ChannelGPFIFOAllocV0 is the channel creation request.
type ChannelGPFIFOAllocV0 struct {
	Version uint8

	// Engines is a bitmask of acceptable engines, by scheduler engine
	// index. The lowest set bit naming an engine the device exposes wins.
	Engines uint32

	// Pushbuf identifies the pushbuffer object backing the channel.
	Pushbuf uint32

	// IOffset and ILength locate the GPFIFO entry ring.
	IOffset uint64
	ILength uint32

	// Chid is filled in with the assigned channel id.
	Chid uint32
}

// Engine indexes of the GK104 scheduler, one runlist each. CE2 shares the
// graphics runlist.
const (
	EngineGR     = 0
	EngineMSVLD  = 1
	EngineMSPPP  = 2
	EngineMSPDEC = 3
	EngineCE0    = 4
	EngineCE1    = 5
	EngineMSENC  = 6

	NumEngines = 7
)

// EngineName returns a short name for a scheduler engine index.
func EngineName(engine uint32) string {
	switch engine {
	case EngineGR:
		return "GR"
	case EngineMSVLD:
		return "MSVLD"
	case EngineMSPPP:
		return "MSPPP"
	case EngineMSPDEC:
		return "MSPDEC"
	case EngineCE0:
		return "CE0"
	case EngineCE1:
		return "CE1"
	case EngineMSENC:
		return "MSENC"
	default:
		return "UNK"
	}
}
