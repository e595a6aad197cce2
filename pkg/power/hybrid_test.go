// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHybrid(t *testing.T) *Hybrid {
	h, err := NewHybrid(DefaultHybridConfig())
	require.NoError(t, err)
	return h
}

func TestHybridPlateauTransition(t *testing.T) {
	h := newTestHybrid(t)
	assert.Equal(t, Exploration, h.Mode())

	h.RegisterSeed(1, "path:a")
	h.RecordPathExercised("path:a", 4)

	// alpha defaults to min_energy*8 = 8.
	assert.Equal(t, 8, h.AssignEnergy(1))

	// 7 boring cycles: still exploring.
	for i := 0; i < 7; i++ {
		h.OnLoopCompleted(false)
	}
	assert.Equal(t, Exploration, h.Mode())

	// The 8th completes the plateau (default K=8).
	h.OnLoopCompleted(false)
	assert.Equal(t, FAST, h.Mode())

	// Seed with f(i)=4, s(i)=2 must follow the FAST formula, not alpha.
	h.AddNewSeed(2, 1, "path:a")  // s=1
	h.AddNewSeed(3, 2, "path:a")  // s=2
	// rho = mean f = 4; E = 8/4 * 2^2 / 4 = 2.
	assert.Equal(t, 2, h.AssignEnergy(3))
	assert.NotEqual(t, 8, h.AssignEnergy(3))
}

func TestHybridBreakthrough(t *testing.T) {
	h := newTestHybrid(t)
	h.RegisterSeed(1, "path:a")

	// Drive into FAST mode.
	for i := 0; i < 8; i++ {
		h.OnLoopCompleted(false)
	}
	require.Equal(t, FAST, h.Mode())

	// 5 discoveries within the window: not yet a breakthrough (B=5).
	for i := 0; i < 5; i++ {
		h.OnNewPathDiscovered("path:new", 1)
		h.OnLoopCompleted(true)
	}
	assert.Equal(t, FAST, h.Mode())

	// The 6th exceeds B and snaps back to Exploration.
	h.OnNewPathDiscovered("path:more", 1)
	assert.Equal(t, Exploration, h.Mode())
	assert.Equal(t, 8, h.AssignEnergy(1))
}

func TestHybridWindowReset(t *testing.T) {
	h := newTestHybrid(t)
	for i := 0; i < 8; i++ {
		h.OnLoopCompleted(false)
	}
	require.Equal(t, FAST, h.Mode())

	// Spread discoveries across two windows: 4 in the first, then the
	// window closes and the count resets, so 2 more do not trigger.
	for i := 0; i < 4; i++ {
		h.OnNewPathDiscovered("p", 1)
	}
	for i := 0; i < 16; i++ {
		h.OnLoopCompleted(true)
	}
	for i := 0; i < 2; i++ {
		h.OnNewPathDiscovered("p2", 1)
	}
	assert.Equal(t, FAST, h.Mode())
}

func TestHybridEnergyCaps(t *testing.T) {
	cfg := DefaultHybridConfig()
	h, err := NewHybrid(cfg)
	require.NoError(t, err)

	h.RegisterSeed(1, "path:rare")
	parent := 1
	// Build a deep lineage so 2^s would overflow without the cap.
	for id := 2; id <= 40; id++ {
		h.AddNewSeed(id, parent, "path:rare")
		parent = id
	}
	for i := 0; i < 8; i++ {
		h.OnLoopCompleted(false)
	}
	require.Equal(t, FAST, h.Mode())

	energy := h.AssignEnergy(parent)
	assert.LessOrEqual(t, energy, cfg.MaxEnergy)
	assert.GreaterOrEqual(t, energy, cfg.MinEnergy)

	// A heavily exercised path drives energy to the floor.
	h.RegisterSeed(100, "path:hot")
	h.RecordPathExercised("path:hot", 1<<20)
	energy = h.AssignEnergy(100)
	assert.Equal(t, cfg.MinEnergy, energy)
}

func TestHybridConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultHybridConfig().Validate())

	bad := DefaultHybridConfig()
	bad.PlateauK = 0
	assert.Error(t, bad.Validate())

	bad = DefaultHybridConfig()
	bad.MinEnergy = 100
	bad.MaxEnergy = 1
	assert.Error(t, bad.Validate())

	_, err := NewHybrid(bad)
	assert.Error(t, err)
}

func TestHybridStats(t *testing.T) {
	h := newTestHybrid(t)
	h.RegisterSeed(1, "p")
	h.OnNewPathDiscovered("p", -1)
	st := h.Stats()
	assert.Equal(t, "exploration", st.Mode)
	assert.Equal(t, 1, st.TotalPaths)
	assert.Equal(t, 1, st.KnownSeeds)
}
