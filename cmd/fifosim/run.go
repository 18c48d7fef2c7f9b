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
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"nvkm.dev/nvkm/pkg/abi/gk104"
	"nvkm.dev/nvkm/pkg/fifo"
	"nvkm.dev/nvkm/pkg/fifo/fifoconf"
	"nvkm.dev/nvkm/pkg/gk104sim"
	"nvkm.dev/nvkm/pkg/log"
	"nvkm.dev/nvkm/pkg/sync"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	channels int
	duration time.Duration
	config   string
	fault    bool
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "run a synthetic channel workload against the simulated device"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return `run [flags] - run a synthetic channel workload against the simulated device
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.channels, "channels", 4, "number of channels to run")
	f.DurationVar(&r.duration, "duration", 2*time.Second, "how long to run the workload")
	f.StringVar(&r.config, "config", "", "path to a TOML scheduler config")
	f.BoolVar(&r.fault, "fault", true, "inject an MMU fault halfway through")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := fifoconf.Default()
	if r.config != "" {
		c, err := fifoconf.Load(r.config)
		if err != nil {
			log.Warningf("%v", err)
			return subcommands.ExitFailure
		}
		conf = c
	}

	sim := gk104sim.New()
	dev, err := fifo.New(fifo.Options{
		IO:  sim,
		Mem: sim,
		Bar: sim,
		Engines: []fifo.Engine{
			gk104sim.NewEngine("gr"),
			gk104sim.NewEngine("ce0"),
		},
		PMU:  gk104sim.NewPMU(),
		GR:   gk104sim.NewGR(),
		Conf: &conf,
	})
	if err != nil {
		log.Warningf("creating scheduler: %v", err)
		return subcommands.ExitFailure
	}
	defer dev.Shutdown()

	var mu sync.Mutex
	var reports []string
	dev.RegisterErrorHandler(func(chid uint32, reason fifo.ErrorReason) {
		mu.Lock()
		reports = append(reports, fmt.Sprintf("channel %d: %v", chid, reason))
		mu.Unlock()
	})

	sim.SetIRQ(dev.Intr)
	if err := dev.Init(); err != nil {
		log.Warningf("initializing scheduler: %v", err)
		return subcommands.ExitFailure
	}

	channels := make([]*fifo.Channel, 0, r.channels)
	for i := 0; i < r.channels; i++ {
		c, err := dev.Create(&gk104.ChannelGPFIFOAllocV0{
			Engines: 1 << gk104.EngineGR,
			IOffset: 0x200000 + uint64(i)*0x10000,
			ILength: 0x1000,
		})
		if err != nil {
			log.Warningf("creating channel %d: %v", i, err)
			return subcommands.ExitFailure
		}
		if err := c.Start(); err != nil {
			log.Warningf("starting channel %d: %v", c.Chid(), err)
			return subcommands.ExitFailure
		}
		channels = append(channels, c)
	}

	ctx, cancel := context.WithTimeout(ctx, r.duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range channels {
		c := c
		g.Go(func() error {
			// Emulate the engine consuming the channel's pushbuffer.
			get := uint32(0)
			tick := time.NewTicker(10 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tick.C:
					if c.State() != fifo.ChanRunning {
						return nil
					}
					get += 8
					if err := sim.AdvanceGet(c.Chid(), get); err != nil {
						return err
					}
				}
			}
		})
	}
	if r.fault {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.duration / 2):
			}
			victim := channels[0]
			log.Infof("injecting MMU fault against channel %d", victim.Chid())
			sim.InjectMMUFault(0x00, victim.Chid(), 0xdead0000, 0x00000642)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warningf("workload: %v", err)
		return subcommands.ExitFailure
	}
	dev.Flush()

	for _, c := range channels {
		fmt.Printf("channel %d: %v\n", c.Chid(), c.State())
	}
	mu.Lock()
	for _, rep := range reports {
		fmt.Printf("error: %s\n", rep)
	}
	mu.Unlock()
	for _, sub := range sim.Submits() {
		log.Debugf("submit engine %d count %d chids %v", sub.Engine, sub.Count, sub.Chids)
	}
	return subcommands.ExitSuccess
}
