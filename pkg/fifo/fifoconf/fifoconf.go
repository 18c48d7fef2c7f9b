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

// Package fifoconf holds the scheduler's tunables.
package fifoconf

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config are the scheduler tunables. The zero value is not valid; start from
// Default.
type Config struct {
	// Channels is the number of channel slots.
	Channels int `toml:"channels"`

	// CheckPeriodMS is the context-switch timeout check period: how often
	// hardware re-raises the ctxsw-timeout interrupt while an engine is
	// stuck mid-switch, and therefore the stall-accounting granularity.
	CheckPeriodMS uint32 `toml:"check_period_ms"`

	// DefaultTimeoutMS is the accumulated-stall limit assigned to new
	// channels; per channel override via the set-timeout method.
	DefaultTimeoutMS uint32 `toml:"default_timeout_ms"`

	// WatchdogTimeoutMS is the per-channel progress watchdog interval.
	WatchdogTimeoutMS uint32 `toml:"watchdog_timeout_ms"`

	// RunlistTimeoutMS bounds the wait for a submitted run list to commit,
	// and the other bounded hardware waits (kick, engine idle).
	RunlistTimeoutMS uint32 `toml:"runlist_timeout_ms"`

	// Timeslice values per priority level, in scheduler units (value << 3
	// microseconds).
	TimesliceLow    int `toml:"timeslice_low"`
	TimesliceMedium int `toml:"timeslice_medium"`
	TimesliceHigh   int `toml:"timeslice_high"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Channels:          4096,
		CheckPeriodMS:     100,
		DefaultTimeoutMS:  5000,
		WatchdogTimeoutMS: 10000,
		RunlistTimeoutMS:  2000,
		TimesliceLow:      64,
		TimesliceMedium:   128,
		TimesliceHigh:     255,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Channels <= 0 || c.Channels > 4096 {
		return fmt.Errorf("fifoconf: channels %d out of range [1, 4096]", c.Channels)
	}
	if c.CheckPeriodMS == 0 {
		return fmt.Errorf("fifoconf: check period must be nonzero")
	}
	if c.DefaultTimeoutMS == 0 || c.WatchdogTimeoutMS == 0 || c.RunlistTimeoutMS == 0 {
		return fmt.Errorf("fifoconf: timeouts must be nonzero")
	}
	for _, ts := range []int{c.TimesliceLow, c.TimesliceMedium, c.TimesliceHigh} {
		if ts <= 0 || ts > 255 {
			return fmt.Errorf("fifoconf: timeslice %d out of range [1, 255]", ts)
		}
	}
	if c.TimesliceLow > c.TimesliceMedium || c.TimesliceMedium > c.TimesliceHigh {
		return fmt.Errorf("fifoconf: timeslices must be nondecreasing")
	}
	return nil
}

// RunlistTimeout returns the bounded hardware wait as a duration.
func (c *Config) RunlistTimeout() time.Duration {
	return time.Duration(c.RunlistTimeoutMS) * time.Millisecond
}

// WatchdogTimeout returns the watchdog interval as a duration.
func (c *Config) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutMS) * time.Millisecond
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("fifoconf: loading %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
