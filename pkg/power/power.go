// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package power decides how much mutation budget each seed receives.
//
// The uniform schedule in this file is the AFL-style baseline: every seed
// gets the same energy, scaled so the mean sits midway between the
// configured bounds. The stateful two-phase schedule lives in hybrid.go.
package power

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/how2fps/fuzzer/pkg/seed"
)

type Config struct {
	MinEnergy int `json:"min_energy"`
	MaxEnergy int `json:"max_energy"`
}

func DefaultConfig() Config {
	return Config{
		MinEnergy: 1,
		MaxEnergy: 128,
	}
}

func (cfg Config) Validate() error {
	if cfg.MinEnergy < 0 || cfg.MaxEnergy < 0 {
		return fmt.Errorf("power: negative energy bounds [%v, %v]", cfg.MinEnergy, cfg.MaxEnergy)
	}
	if cfg.MinEnergy > cfg.MaxEnergy {
		return fmt.Errorf("power: min_energy %v > max_energy %v", cfg.MinEnergy, cfg.MaxEnergy)
	}
	return nil
}

// sanitized returns the effective bounds used for computation:
// min is at least 1, max is at least min.
func (cfg Config) sanitized() Config {
	out := cfg
	if out.MinEnergy < 1 {
		out.MinEnergy = 1
	}
	if out.MaxEnergy < out.MinEnergy {
		out.MaxEnergy = out.MinEnergy
	}
	return out
}

// Result is the per-cycle energy allocation. Ephemeral: recomputed on every
// scheduling cycle, never stored.
type Result struct {
	Energies        map[int]int
	Order           []int // seed ids in input order, for deterministic picking
	EdgeFrequencies []int
	Config          Config
	TotalWeight     float64
}

// ComputeEdgeFrequencies returns a vector where index e holds the number of
// seeds whose coverage bitmap has a non-zero entry at edge e. Seeds without
// a bitmap are skipped. Pure function.
func ComputeEdgeFrequencies(seeds []seed.Stats) []int {
	maxLen := 0
	for _, stats := range seeds {
		if len(stats.CoverageBitmap) > maxLen {
			maxLen = len(stats.CoverageBitmap)
		}
	}
	if maxLen == 0 {
		return nil
	}
	freq := make([]int, maxLen)
	for _, stats := range seeds {
		for i, hit := range stats.CoverageBitmap {
			if hit != 0 {
				freq[i]++
			}
		}
	}
	return freq
}

// seedWeight is the per-seed weight of the uniform baseline. FuzzCount and
// ExecTimeMS are deliberately not consulted: the uniform schedule treats all
// seeds alike and leaves rarity amplification to the hybrid schedule.
func seedWeight(seed.Stats) float64 {
	return 1.0
}

// ComputePowerSchedule assigns each seed an integer energy in
// [MinEnergy, MaxEnergy], scaled so the mean weight maps to the midpoint of
// the bounds.
func ComputePowerSchedule(seeds []seed.Stats, cfg Config) *Result {
	eff := cfg.sanitized()
	res := &Result{
		Energies: make(map[int]int, len(seeds)),
		Config:   eff,
	}
	if len(seeds) == 0 {
		return res
	}

	res.EdgeFrequencies = ComputeEdgeFrequencies(seeds)

	weights := make([]float64, len(seeds))
	total := 0.0
	for i, stats := range seeds {
		w := seedWeight(stats)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1.0
		}
		total = float64(len(weights))
	}
	res.TotalWeight = total

	targetMean := float64(eff.MinEnergy+eff.MaxEnergy) / 2
	meanWeight := total / float64(len(weights))
	scale := 1.0
	if meanWeight > 0 {
		scale = targetMean / meanWeight
	}

	for i, stats := range seeds {
		energy := int(math.Round(weights[i] * scale))
		if energy < eff.MinEnergy {
			energy = eff.MinEnergy
		}
		if energy > eff.MaxEnergy {
			energy = eff.MaxEnergy
		}
		res.Energies[stats.ID] = energy
		res.Order = append(res.Order, stats.ID)
	}
	return res
}

// PickSeedID draws a seed id with probability proportional to its energy.
// Returns false iff the schedule is empty.
func PickSeedID(res *Result, r *rand.Rand) (int, bool) {
	if res == nil || len(res.Order) == 0 {
		return 0, false
	}
	total := 0.0
	for _, id := range res.Order {
		total += float64(res.Energies[id])
	}
	if total <= 0 {
		return res.Order[r.Intn(len(res.Order))], true
	}
	threshold := r.Float64() * total
	cumulative := 0.0
	for _, id := range res.Order {
		cumulative += float64(res.Energies[id])
		if cumulative >= threshold {
			return id, true
		}
	}
	return res.Order[len(res.Order)-1], true
}
