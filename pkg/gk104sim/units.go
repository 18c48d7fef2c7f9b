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

package gk104sim

import (
	"errors"

	"nvkm.dev/nvkm/pkg/sync"
)

// Engine is a simulated engine that counts stop/reinit cycles.
type Engine struct {
	name string

	mu       sync.Mutex
	inits    int
	finis    int
	failInit bool
}

// NewEngine creates a named simulated engine.
func NewEngine(name string) *Engine {
	return &Engine{name: name}
}

// Name implements the scheduler's Engine collaborator.
func (e *Engine) Name() string { return e.name }

// Init implements the scheduler's Engine collaborator.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	if e.failInit {
		return errors.New("gk104sim: engine init failure injected")
	}
	return nil
}

// Fini implements the scheduler's Engine collaborator.
func (e *Engine) Fini(suspend bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finis++
	return nil
}

// FailNextInit makes subsequent Init calls fail.
func (e *Engine) FailNextInit(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failInit = fail
}

// Resets returns how many full stop/reinit cycles the engine has seen.
func (e *Engine) Resets() (inits, finis int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits, e.finis
}

// PMU is a simulated power-management unit: a token-issuing mutex and a
// clock-gating depth counter.
type PMU struct {
	mu          sync.Mutex
	token       uint32
	held        bool
	failAcquire bool
	gatingOff   int
}

// NewPMU creates a simulated PMU.
func NewPMU() *PMU { return &PMU{} }

// AcquireMutex implements the scheduler's PMU collaborator.
func (p *PMU) AcquireMutex(id uint32) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAcquire || p.held {
		return 0, errors.New("gk104sim: pmu mutex unavailable")
	}
	p.token++
	p.held = true
	return p.token, nil
}

// ReleaseMutex implements the scheduler's PMU collaborator.
func (p *PMU) ReleaseMutex(id, token uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.held || token != p.token {
		return errors.New("gk104sim: bad pmu mutex token")
	}
	p.held = false
	return nil
}

// FailAcquire makes subsequent AcquireMutex calls fail.
func (p *PMU) FailAcquire(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAcquire = fail
}

// DisableClkGating implements the scheduler's PMU collaborator.
func (p *PMU) DisableClkGating() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gatingOff++
}

// EnableClkGating implements the scheduler's PMU collaborator.
func (p *PMU) EnableClkGating() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gatingOff--
}

// GatingBalanced reports whether every gating disable was paired with an
// enable.
func (p *PMU) GatingBalanced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gatingOff == 0
}

// MutexHeld reports whether the runlist mutex is currently held.
func (p *PMU) MutexHeld() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// GR is a simulated graphics context-switch firmware interface.
type GR struct {
	mu    sync.Mutex
	halts int
}

// NewGR creates a simulated GR unit.
func NewGR() *GR { return &GR{} }

// HaltFECS implements the scheduler's GR collaborator.
func (g *GR) HaltFECS() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.halts++
}

// Halts returns how many times the context-switch firmware was halted.
func (g *GR) Halts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halts
}
