// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package power

import (
	"fmt"
	"math"

	"github.com/how2fps/fuzzer/pkg/log"
)

// Mode of the two-phase hybrid schedule.
type Mode int

const (
	// Exploration hands every seed the same constant energy so that
	// easy-to-reach paths with undiscovered sub-branches are not starved
	// by frequency-based amplification.
	Exploration Mode = iota
	// FAST amplifies rarely-exercised paths once the low-hanging fruit is
	// exhausted, following the AFLFast exponent schedule.
	FAST
)

func (m Mode) String() string {
	switch m {
	case Exploration:
		return "exploration"
	case FAST:
		return "fast"
	}
	return fmt.Sprintf("mode%d", int(m))
}

type HybridConfig struct {
	Config
	// Alpha is the base energy constant; 0 means MinEnergy*8.
	Alpha int `json:"alpha"`
	// PlateauK is the number of consecutive no-gain cycles that triggers
	// the Exploration -> FAST transition.
	PlateauK int `json:"plateau_k"`
	// FastWindowW is the width (in cycles) of the breakthrough detection
	// window in FAST mode.
	FastWindowW int `json:"fast_window_w"`
	// BreakthroughB: discovering strictly more than this many new paths
	// within one FAST window returns the scheduler to Exploration.
	BreakthroughB int `json:"breakthrough_b"`
	// SCap bounds the 2^s exponent to prevent overflow.
	SCap int `json:"s_cap"`
}

func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		Config:        DefaultConfig(),
		PlateauK:      8,
		FastWindowW:   16,
		BreakthroughB: 5,
		SCap:          14,
	}
}

func (cfg HybridConfig) Validate() error {
	if err := cfg.Config.Validate(); err != nil {
		return err
	}
	if cfg.Alpha < 0 || cfg.PlateauK <= 0 || cfg.FastWindowW <= 0 ||
		cfg.BreakthroughB < 0 || cfg.SCap < 0 {
		return fmt.Errorf("power: bad hybrid parameters %+v", cfg)
	}
	return nil
}

func (cfg HybridConfig) alpha() float64 {
	if cfg.Alpha > 0 {
		return float64(cfg.Alpha)
	}
	min := cfg.MinEnergy
	if min < 1 {
		min = 1
	}
	return float64(min * 8)
}

// Hybrid is the stateful two-phase power scheduler. It observes the
// aggregate stream of new-path/no-new-path outcomes from the owner loop and
// switches between the Exploration and FAST schedules on coverage plateaus
// and breakthroughs.
//
// Single-owner: all methods must be called from the owner goroutine.
type Hybrid struct {
	cfg  HybridConfig
	mode Mode

	pathFreq map[string]int // f(i): executions that exercised path i
	seedGen  map[int]int    // s(i): discovery generation of seed i
	seedPath map[int]string // seed id -> path it exercises

	plateau       int // cycles since the last new path
	windowCycles  int // position within the current FAST window
	breakthroughs int // new paths seen in the current FAST window
	totalPaths    int
}

func NewHybrid(cfg HybridConfig) (*Hybrid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hybrid{
		cfg:      cfg,
		mode:     Exploration,
		pathFreq: make(map[string]int),
		seedGen:  make(map[int]int),
		seedPath: make(map[int]string),
	}, nil
}

func (h *Hybrid) Mode() Mode {
	return h.mode
}

// RegisterSeed records an initial corpus seed (generation 0).
func (h *Hybrid) RegisterSeed(seedID int, pathID string) {
	h.seedGen[seedID] = 0
	h.seedPath[seedID] = pathID
}

// AddNewSeed registers a seed derived from parent: s(child) = s(parent)+1.
func (h *Hybrid) AddNewSeed(seedID, parentID int, pathID string) {
	h.seedGen[seedID] = h.seedGen[parentID] + 1
	h.seedPath[seedID] = pathID
}

// RecordPathExercised accounts executions that reached the given path.
func (h *Hybrid) RecordPathExercised(pathID string, executions int) {
	if executions <= 0 {
		return
	}
	h.pathFreq[pathID] += executions
}

// OnNewPathDiscovered resets the plateau counter and, in FAST mode, advances
// breakthrough detection. parentSeedID is the seed whose mutation found the
// path; pass a negative id if unknown.
func (h *Hybrid) OnNewPathDiscovered(pathID string, parentSeedID int) {
	h.totalPaths++
	h.plateau = 0
	if h.pathFreq[pathID] == 0 {
		h.pathFreq[pathID] = 1
	}
	log.Logf(2, "new path %v (parent seed %v), total %v", pathID, parentSeedID, h.totalPaths)
	if h.mode == FAST {
		h.breakthroughs++
		if h.breakthroughs > h.cfg.BreakthroughB {
			log.Logf(0, "breakthrough of %v paths, returning to exploration", h.breakthroughs)
			h.transition(Exploration)
		}
	}
}

// OnLoopCompleted drives the state machine at the end of every
// choose-next/mutate cycle.
func (h *Hybrid) OnLoopCompleted(foundNewPath bool) {
	if !foundNewPath {
		h.plateau++
	}
	switch h.mode {
	case Exploration:
		if h.plateau >= h.cfg.PlateauK {
			log.Logf(0, "coverage plateau after %v cycles, switching to fast", h.plateau)
			h.transition(FAST)
		}
	case FAST:
		h.windowCycles++
		if h.windowCycles >= h.cfg.FastWindowW {
			// Window closed without a breakthrough; start a fresh one.
			h.windowCycles = 0
			h.breakthroughs = 0
		}
	}
}

func (h *Hybrid) transition(mode Mode) {
	h.mode = mode
	h.plateau = 0
	h.windowCycles = 0
	h.breakthroughs = 0
}

// AssignEnergy returns the current energy budget for the seed.
//
// Exploration: the constant alpha.
// FAST: min(alpha/rho * 2^s(i) / f(i), MaxEnergy), with the exponent capped,
// raised to at least MinEnergy and truncated to an integer.
func (h *Hybrid) AssignEnergy(seedID int) int {
	if h.mode == Exploration {
		return int(h.cfg.alpha())
	}
	s := h.seedGen[seedID]
	if s > h.cfg.SCap {
		s = h.cfg.SCap
	}
	f := h.pathFreq[h.seedPath[seedID]]
	if f < 1 {
		f = 1
	}
	energy := h.cfg.alpha() / h.rho() * math.Pow(2, float64(s)) / float64(f)
	max := h.cfg.sanitized().MaxEnergy
	if energy > float64(max) {
		return max
	}
	min := h.cfg.sanitized().MinEnergy
	if energy < float64(min) {
		return min
	}
	return int(energy)
}

// rho is the normalization factor: the mean path frequency, at least 1.
func (h *Hybrid) rho() float64 {
	if len(h.pathFreq) == 0 {
		return 1
	}
	total := 0
	for _, f := range h.pathFreq {
		total += f
	}
	rho := float64(total) / float64(len(h.pathFreq))
	if rho < 1 {
		rho = 1
	}
	return rho
}

// HybridStats is a snapshot of the state machine for stats dumps.
type HybridStats struct {
	Mode          string
	Plateau       int
	Breakthroughs int
	TotalPaths    int
	KnownSeeds    int
}

func (h *Hybrid) Stats() HybridStats {
	return HybridStats{
		Mode:          h.mode.String(),
		Plateau:       h.plateau,
		Breakthroughs: h.breakthroughs,
		TotalPaths:    h.totalPaths,
		KnownSeeds:    len(h.seedGen),
	}
}
