// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/how2fps/fuzzer/pkg/exec"
	"github.com/how2fps/fuzzer/pkg/power"
	"github.com/how2fps/fuzzer/pkg/sched"
	"github.com/how2fps/fuzzer/pkg/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(kind sched.Kind) *Config {
	schedCfg := sched.DefaultConfig()
	schedCfg.Kind = kind
	schedCfg.RNGSeed = 1
	return &Config{
		Sched:  schedCfg,
		Power:  power.DefaultConfig(),
		Hybrid: power.DefaultHybridConfig(),
		Procs:  2,
		Logf:   func(level int, msg string, args ...interface{}) {},
	}
}

func corpusSeeds(n int) []*seed.Seed {
	seeds := make([]*seed.Seed, n)
	for i := range seeds {
		seeds[i] = &seed.Seed{
			ID:     i + 1,
			Data:   []byte(fmt.Sprintf("seed-%v", i+1)),
			Bucket: "valid",
			Family: "json",
		}
	}
	return seeds
}

// scriptedWorker finds a new path (and a derived candidate) on every 5th
// lease and reports boring runs otherwise.
type scriptedWorker struct {
	calls atomic.Int64
}

func (w *scriptedWorker) Run(ctx context.Context, lease Lease) (LeaseResult, error) {
	n := w.calls.Add(1)
	res := LeaseResult{
		Item:       lease.Item,
		PathID:     "initial",
		Executions: lease.Energy,
		ExecTimeMS: 5,
		Signals:    &exec.Result{Status: exec.StatusOK},
	}
	if n%5 == 0 {
		path := fmt.Sprintf("path:%v", n)
		res.NewPaths = []string{path}
		res.Score = 0.4
		res.Signals = &exec.Result{
			NewCoverage: true,
			Status:      exec.StatusOK,
			CoverageKey: "cov:" + path,
		}
		res.Candidates = []Candidate{{
			Data:    []byte(fmt.Sprintf("cand-%v", n)),
			PathID:  path,
			Signals: res.Signals,
		}}
	}
	return res, nil
}

func TestLoopSmoke(t *testing.T) {
	for _, kind := range []sched.Kind{sched.KindQueue, sched.KindHeap, sched.KindUCBTree} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := testConfig(kind)
			// One proc makes lease/summary strictly alternate, so the
			// counts below are exact.
			cfg.Procs = 1
			cfg.MaxCycles = 50
			f, err := New(cfg)
			require.NoError(t, err)
			f.AddSeeds(corpusSeeds(3))

			require.NoError(t, f.Loop(context.Background(), &scriptedWorker{}))

			st := f.Stats()
			assert.Equal(t, 50, st.Updated)
			assert.Zero(t, st.Stale)
			assert.Equal(t, 50, st.Leased)
			assert.Equal(t, 10, st.NewPaths) // every 5th of 50 leases
			assert.Equal(t, 10, st.NewSeeds)
			assert.Equal(t, 13, st.Scheduler.Size)
			assert.NotEmpty(t, st.Session)
		})
	}
}

func TestLoopParallel(t *testing.T) {
	cfg := testConfig(sched.KindUCBTree)
	cfg.Procs = 4
	cfg.MaxCycles = 100
	f, err := New(cfg)
	require.NoError(t, err)
	f.AddSeeds(corpusSeeds(5))

	require.NoError(t, f.Loop(context.Background(), &scriptedWorker{}))

	st := f.Stats()
	// In-flight summaries may still be applied after the cycle budget.
	assert.GreaterOrEqual(t, st.Updated, 100)
	assert.GreaterOrEqual(t, st.Leased, st.Updated)
	assert.Zero(t, st.Stale)
	assert.Positive(t, st.NewSeeds)
	assert.Equal(t, 5+st.NewSeeds, st.Scheduler.Size)
}

// stallWorker never finds anything, forcing a coverage plateau.
type stallWorker struct{}

func (stallWorker) Run(ctx context.Context, lease Lease) (LeaseResult, error) {
	return LeaseResult{
		Item:       lease.Item,
		PathID:     "initial",
		Executions: lease.Energy,
		Signals:    &exec.Result{Status: exec.StatusOK},
	}, nil
}

func TestLoopPlateauEntersFast(t *testing.T) {
	cfg := testConfig(sched.KindQueue)
	cfg.Procs = 1
	cfg.MaxCycles = 20
	f, err := New(cfg)
	require.NoError(t, err)
	f.AddSeeds(corpusSeeds(2))

	require.NoError(t, f.Loop(context.Background(), stallWorker{}))
	assert.Equal(t, "fast", f.Stats().Hybrid.Mode)
}

func TestLoopEmptyScheduler(t *testing.T) {
	cfg := testConfig(sched.KindQueue)
	f, err := New(cfg)
	require.NoError(t, err)
	// No seeds: the loop must terminate cleanly on its own.
	require.NoError(t, f.Loop(context.Background(), stallWorker{}))
	assert.Zero(t, f.Stats().Leased)
}

func TestLoopCancellation(t *testing.T) {
	cfg := testConfig(sched.KindQueue)
	f, err := New(cfg)
	require.NoError(t, err)
	f.AddSeeds(corpusSeeds(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Loop(ctx, stallWorker{})
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not stop on cancellation")
	}
}

// failingWorker errors on every lease; the loop must degrade, not abort.
type failingWorker struct{}

func (failingWorker) Run(ctx context.Context, lease Lease) (LeaseResult, error) {
	return LeaseResult{}, fmt.Errorf("target crashed the harness")
}

func TestLoopWorkerFailure(t *testing.T) {
	cfg := testConfig(sched.KindQueue)
	// One proc leaves no summary in flight at the cycle budget, so the
	// update count below is exact.
	cfg.Procs = 1
	cfg.MaxCycles = 10
	f, err := New(cfg)
	require.NoError(t, err)
	f.AddSeeds(corpusSeeds(2))

	require.NoError(t, f.Loop(context.Background(), failingWorker{}))
	st := f.Stats()
	assert.Equal(t, 10, st.Updated)
	assert.Zero(t, st.NewSeeds)
}

func TestNewConfigErrors(t *testing.T) {
	cfg := testConfig(sched.KindQueue)
	cfg.Procs = 0
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig("banana")
	_, err = New(cfg)
	assert.ErrorIs(t, err, sched.ErrConfig)

	cfg = testConfig(sched.KindQueue)
	cfg.Power.MinEnergy = 100
	cfg.Power.MaxEnergy = 1
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig(sched.KindQueue)
	cfg.Hybrid.PlateauK = -1
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestSchedule(t *testing.T) {
	cfg := testConfig(sched.KindQueue)
	f, err := New(cfg)
	require.NoError(t, err)
	f.AddSeeds(corpusSeeds(3))

	res := f.Schedule()
	require.Len(t, res.Energies, 3)
	for _, energy := range res.Energies {
		assert.GreaterOrEqual(t, energy, cfg.Power.MinEnergy)
		assert.LessOrEqual(t, energy, cfg.Power.MaxEnergy)
	}
}
