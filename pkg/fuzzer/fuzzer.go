// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer is the owner loop tying the scheduler core together: it
// pulls seeds from the seed scheduler, budgets them via the hybrid power
// scheduler, hands leases to workers, and folds worker summaries back into
// scheduler bookkeeping and the hybrid state machine.
//
// Mutation and target execution live entirely in the Worker collaborator.
// The scheduler data structures are single-owner: only the owner goroutine
// inside Loop touches them; workers communicate by value over channels.
package fuzzer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/how2fps/fuzzer/pkg/exec"
	"github.com/how2fps/fuzzer/pkg/log"
	"github.com/how2fps/fuzzer/pkg/power"
	"github.com/how2fps/fuzzer/pkg/sched"
	"github.com/how2fps/fuzzer/pkg/seed"
	"github.com/how2fps/fuzzer/pkg/stat"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Sched  sched.Config       `json:"scheduler"`
	Power  power.Config       `json:"power"`
	Hybrid power.HybridConfig `json:"hybrid"`

	// Procs is the number of worker goroutines (and the cap on
	// outstanding leases).
	Procs int `json:"procs"`
	// MaxCycles stops the loop after this many completed leases;
	// 0 runs until the context is cancelled.
	MaxCycles int `json:"max_cycles"`

	Logf func(level int, msg string, args ...interface{}) `json:"-"`
}

// Lease is what a worker receives: a scheduler item plus its energy budget.
type Lease struct {
	Session string
	Item    *sched.Item
	Energy  int
}

// Candidate is a newly-interesting mutated input reported by a worker; the
// owner turns it into a seed.
type Candidate struct {
	Data       []byte
	Bucket     string // empty inherits the parent's bucket
	PathID     string
	Signals    *exec.Result
	ExecTimeMS float64
}

// LeaseResult is the worker's lease summary: up to Energy mutation+execution
// attempts aggregated into one report.
type LeaseResult struct {
	Item       *sched.Item
	Score      float64 // max isinteresting score across attempts
	Signals    *exec.Result
	PathID     string // representative path the parent seed exercises
	Executions int    // inputs actually executed
	NewPaths   []string
	Candidates []Candidate
	ExecTimeMS float64
}

// Worker performs mutation and execution for one lease. Implementations run
// on their own goroutines and must not touch the scheduler.
type Worker interface {
	Run(ctx context.Context, lease Lease) (LeaseResult, error)
}

type Fuzzer struct {
	Config *Config

	session    string
	scheduler  sched.Scheduler
	hybrid     *power.Hybrid
	knownPaths map[string]bool
	nextSeedID int

	statLeased   *stat.Val
	statUpdated  *stat.Val
	statStale    *stat.Val
	statNewSeeds *stat.Val
	statNewPaths *stat.Val
	statEnergy   *stat.Val
	statExecTime *stat.Val
}

// New validates the whole configuration eagerly; any configuration error is
// fatal here and the fuzzer is never left half-constructed.
func New(cfg *Config) (*Fuzzer, error) {
	if cfg.Procs <= 0 {
		return nil, fmt.Errorf("fuzzer: procs must be positive, got %v", cfg.Procs)
	}
	if err := cfg.Power.Validate(); err != nil {
		return nil, err
	}
	hybrid, err := power.NewHybrid(cfg.Hybrid)
	if err != nil {
		return nil, err
	}
	scheduler, err := sched.New(cfg.Sched)
	if err != nil {
		return nil, err
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Logf
	}
	stats := stat.NewSet()
	f := &Fuzzer{
		Config:     cfg,
		session:    uuid.NewString(),
		scheduler:  scheduler,
		hybrid:     hybrid,
		knownPaths: make(map[string]bool),
		nextSeedID: 1,

		statLeased:   stats.New("fuzzer leases", "Total leases handed to workers", stat.Prometheus("fuzzer_leases_total")),
		statUpdated:  stats.New("fuzzer updates", "Lease summaries applied"),
		statStale:    stats.New("fuzzer stale leases", "Lease summaries dropped as stale"),
		statNewSeeds: stats.New("fuzzer new seeds", "Seeds synthesized from worker candidates"),
		statNewPaths: stats.New("fuzzer new paths", "Distinct execution paths discovered"),
		statEnergy:   stats.New("fuzzer energy", "Per-lease energy budgets", stat.Distribution{}),
		statExecTime: stats.New("fuzzer exec time", "Per-lease execution time (ms)", stat.Distribution{}),
	}
	return f, nil
}

func (f *Fuzzer) Session() string {
	return f.session
}

// AddSeeds registers initial corpus seeds (generation 0).
func (f *Fuzzer) AddSeeds(seeds []*seed.Seed) {
	for _, s := range seeds {
		f.scheduler.Add(s, nil)
		f.hybrid.RegisterSeed(s.ID, "initial")
		if s.ID >= f.nextSeedID {
			f.nextSeedID = s.ID + 1
		}
	}
}

// Schedule computes the uniform power schedule over the current corpus
// bookkeeping. Ephemeral; recomputed per call.
func (f *Fuzzer) Schedule() *power.Result {
	return power.ComputePowerSchedule(f.scheduler.SeedStats(), f.Config.Power)
}

// Loop drives workers until the context is cancelled or MaxCycles lease
// summaries have been processed. It owns the scheduler for its whole
// duration.
func (f *Fuzzer) Loop(ctx context.Context, worker Worker) error {
	g, ctx := errgroup.WithContext(ctx)
	leases := make(chan Lease)
	results := make(chan LeaseResult, f.Config.Procs)

	for i := 0; i < f.Config.Procs; i++ {
		g.Go(func() error {
			return f.workerLoop(ctx, worker, leases, results)
		})
	}
	g.Go(func() error {
		return f.ownerLoop(ctx, leases, results)
	})
	return g.Wait()
}

func (f *Fuzzer) workerLoop(ctx context.Context, worker Worker,
	leases <-chan Lease, results chan<- LeaseResult) error {
	for {
		var lease Lease
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lease, ok = <-leases:
			if !ok {
				return nil
			}
		}
		res, err := worker.Run(ctx, lease)
		if err != nil {
			// Worker failures surface as an empty summary; the owner
			// never aborts on a bad lease.
			f.Config.Logf(1, "worker failed on lease %v: %v", lease.Item.ID, err)
			res = LeaseResult{Item: lease.Item}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case results <- res:
		}
	}
}

func (f *Fuzzer) ownerLoop(ctx context.Context, leases chan<- Lease, results <-chan LeaseResult) error {
	outstanding, cycles := 0, 0
	var pending *Lease
	for f.Config.MaxCycles == 0 || cycles < f.Config.MaxCycles {
		if pending == nil && outstanding < f.Config.Procs {
			pending = f.makeLease()
		}
		var sendCh chan<- Lease
		var leaseVal Lease
		if pending != nil {
			sendCh = leases
			leaseVal = *pending
		} else if outstanding == 0 {
			// Scheduler empty and nothing in flight.
			close(leases)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sendCh <- leaseVal:
			outstanding++
			pending = nil
		case res := <-results:
			outstanding--
			cycles++
			f.processResult(&res)
		}
	}
	close(leases)
	for outstanding > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			outstanding--
			f.processResult(&res)
		}
	}
	return nil
}

func (f *Fuzzer) makeLease() *Lease {
	item := f.scheduler.Next()
	if item == nil {
		return nil
	}
	energy := f.hybrid.AssignEnergy(item.Seed.ID)
	f.statLeased.Add(1)
	f.statEnergy.Add(energy)
	f.Config.Logf(2, "leasing seed %v with energy %v (%v mode)",
		item.Seed.ID, energy, f.hybrid.Mode())
	return &Lease{
		Session: f.session,
		Item:    item,
		Energy:  energy,
	}
}

func (f *Fuzzer) processResult(res *LeaseResult) {
	if res.Item == nil {
		return
	}
	if f.scheduler.Update(res.Item, res.Score, res.Signals) {
		f.statUpdated.Add(1)
	} else {
		f.statStale.Add(1)
	}
	if res.ExecTimeMS > 0 {
		f.statExecTime.Add(int(res.ExecTimeMS))
	}
	if res.PathID != "" && res.Executions > 0 {
		f.hybrid.RecordPathExercised(res.PathID, res.Executions)
	}
	foundNew := false
	for _, path := range res.NewPaths {
		if f.knownPaths[path] {
			continue
		}
		f.knownPaths[path] = true
		f.statNewPaths.Add(1)
		f.hybrid.OnNewPathDiscovered(path, res.Item.Seed.ID)
		foundNew = true
	}
	for i := range res.Candidates {
		f.addCandidate(res.Item.Seed, &res.Candidates[i])
	}
	f.hybrid.OnLoopCompleted(foundNew)
}

func (f *Fuzzer) addCandidate(parent *seed.Seed, cand *Candidate) {
	bucket := cand.Bucket
	if bucket == "" {
		bucket = parent.Bucket
	}
	child := &seed.Seed{
		ID:       f.nextSeedID,
		Data:     cand.Data,
		Bucket:   bucket,
		Family:   parent.Family,
		ParentID: parent.ID,
	}
	f.nextSeedID++
	meta := &sched.Metadata{
		Signals:    cand.Signals,
		ExecTimeMS: cand.ExecTimeMS,
	}
	if cand.Signals != nil {
		meta.CoverageBitmap = cand.Signals.CoverageBitmap
	}
	f.scheduler.Add(child, meta)
	f.hybrid.AddNewSeed(child.ID, parent.ID, cand.PathID)
	f.statNewSeeds.Add(1)
	f.Config.Logf(2, "new seed %v from %v (path %v)", child.ID, parent.ID, cand.PathID)
}

// Stats is a point-in-time snapshot of the whole core.
type Stats struct {
	Session   string
	Scheduler sched.Stats
	Hybrid    power.HybridStats
	Leased    int
	Updated   int
	Stale     int
	NewSeeds  int
	NewPaths  int
}

func (f *Fuzzer) Stats() Stats {
	return Stats{
		Session:   f.session,
		Scheduler: f.scheduler.Stats(),
		Hybrid:    f.hybrid.Stats(),
		Leased:    f.statLeased.Val(),
		Updated:   f.statUpdated.Val(),
		Stale:     f.statStale.Val(),
		NewSeeds:  f.statNewSeeds.Val(),
		NewPaths:  f.statNewPaths.Val(),
	}
}
