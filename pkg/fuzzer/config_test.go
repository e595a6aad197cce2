// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"testing"

	"github.com/how2fps/fuzzer/pkg/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigData(t *testing.T) {
	cfg, err := LoadConfigData([]byte(`
# scheduler selection
{
	"scheduler": {"kind": "ucb_tree", "ucb_c": 1.5, "max_seeds_per_leaf": 4, "rng_seed": 7},
	"power": {"min_energy": 2, "max_energy": 64},
	"hybrid": {"min_energy": 2, "max_energy": 64, "plateau_k": 4},
	"procs": 3
}`))
	require.NoError(t, err)
	assert.Equal(t, sched.KindUCBTree, cfg.Sched.Kind)
	assert.Equal(t, 1.5, cfg.Sched.UCBC)
	assert.Equal(t, 4, cfg.Sched.MaxSeedsPerLeaf)
	assert.Equal(t, int64(7), cfg.Sched.RNGSeed)
	assert.Equal(t, 64, cfg.Power.MaxEnergy)
	assert.Equal(t, 4, cfg.Hybrid.PlateauK)
	assert.Equal(t, 3, cfg.Procs)
	// Unset fields keep their defaults.
	assert.Equal(t, 16, cfg.Hybrid.FastWindowW)

	// The loaded config constructs a working fuzzer.
	_, err = New(cfg)
	require.NoError(t, err)
}

func TestLoadConfigUnknownField(t *testing.T) {
	_, err := LoadConfigData([]byte(`{"scheduler": {"kindd": "queue"}}`))
	assert.Error(t, err)
}
