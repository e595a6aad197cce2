// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sched holds the long-lived seed schedulers: the data structures
// that decide which seed a worker fuzzes next and absorb the worker's lease
// feedback. Three interchangeable backends are provided: a cyclic FIFO
// queue, a priority heap, and a UCB1 bandit tree over coverage/bug buckets.
//
// Schedulers are single-owner. All calls are expected from one goroutine;
// none of the structures are internally synchronized and no operation
// blocks. Workers interact with the scheduler only through the owner, by
// value.
package sched

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/how2fps/fuzzer/pkg/exec"
	"github.com/how2fps/fuzzer/pkg/log"
	"github.com/how2fps/fuzzer/pkg/seed"
	"golang.org/x/exp/maps"
)

type Kind string

const (
	KindQueue   Kind = "queue"
	KindHeap    Kind = "heap"
	KindUCBTree Kind = "ucb_tree"
)

type PriorityMode string

const (
	AvgScore  PriorityMode = "avg_score"
	LastScore PriorityMode = "last_score"
)

// ErrConfig wraps all construction-time configuration failures.
var ErrConfig = errors.New("invalid scheduler configuration")

type Config struct {
	Kind Kind `json:"kind"`

	// Heap backend.
	PriorityMode PriorityMode       `json:"priority_mode"`
	BucketPrior  map[string]float64 `json:"bucket_prior,omitempty"`

	// UCB tree backend.
	UCBC            float64 `json:"ucb_c"`
	MaxSeedsPerLeaf int     `json:"max_seeds_per_leaf"`

	// RNGSeed seeds the scheduler-owned RNG; 0 means time-derived.
	RNGSeed int64 `json:"rng_seed"`
}

func DefaultConfig() Config {
	return Config{
		Kind:            KindQueue,
		PriorityMode:    AvgScore,
		UCBC:            1.0,
		MaxSeedsPerLeaf: 8,
	}
}

func (cfg Config) validate() error {
	switch cfg.Kind {
	case KindQueue, KindHeap, KindUCBTree:
	default:
		return fmt.Errorf("%w: unknown scheduler kind %q", ErrConfig, cfg.Kind)
	}
	switch cfg.PriorityMode {
	case AvgScore, LastScore, "":
	default:
		return fmt.Errorf("%w: unknown priority mode %q", ErrConfig, cfg.PriorityMode)
	}
	if cfg.UCBC < 0 {
		return fmt.Errorf("%w: negative ucb_c %v", ErrConfig, cfg.UCBC)
	}
	if cfg.MaxSeedsPerLeaf < 0 {
		return fmt.Errorf("%w: negative max_seeds_per_leaf %v", ErrConfig, cfg.MaxSeedsPerLeaf)
	}
	return nil
}

// Metadata accompanies a new seed into the scheduler. Signals describe the
// execution that discovered the seed and drive UCB bucket placement;
// CoverageBitmap/ExecTimeMS pre-populate the seed stats.
type Metadata struct {
	Signals        *exec.Result
	CoverageBitmap []int
	ExecTimeMS     float64
}

// Item is the lease handle returned by Next and consumed by Update. It is a
// value: it carries the seed, an opaque path snapshot and a sequence number
// instead of pointers into scheduler internals, so items never keep
// scheduler state alive and stale items are detected rather than honoured.
type Item struct {
	ID   int64 // unique per lease
	Seed *seed.Seed
	Path []string // opaque to the caller; resolved by the scheduler on Update
	Seq  int64

	seedID int
}

// Scheduler is the common contract of the three backends. The owner holds
// one Scheduler regardless of backend.
type Scheduler interface {
	// Add registers a new seed. A second Add with an id that is already
	// tracked is a no-op.
	Add(s *seed.Seed, meta *Metadata)
	// Next selects the next seed to lease, or nil iff the scheduler is
	// empty.
	Next() *Item
	// Update applies worker feedback for a lease. Stale items (unknown
	// seed or already-consumed sequence number) are logged and dropped;
	// the return value reports whether the update was applied.
	Update(item *Item, score float64, signals *exec.Result) bool
	Empty() bool
	Len() int
	Stats() Stats
	DebugDump(limit int) Dump
	// SeedStats snapshots all per-seed bookkeeping in arrival order for
	// the power scheduler.
	SeedStats() []seed.Stats
	// Rand exposes the scheduler-owned RNG for the owner loop
	// (e.g. probability-weighted picking). Not safe for other goroutines.
	Rand() *rand.Rand
}

// New constructs the backend selected by cfg.Kind. Configuration errors are
// fatal here; nothing is validated later.
func New(cfg Config) (Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.PriorityMode == "" {
		cfg.PriorityMode = AvgScore
	}
	if cfg.MaxSeedsPerLeaf == 0 {
		cfg.MaxSeedsPerLeaf = 8
	}
	if cfg.UCBC == 0 {
		cfg.UCBC = 1.0
	}
	seedVal := cfg.RNGSeed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	b := base{
		cfg:     cfg,
		rnd:     rand.New(rand.NewSource(seedVal)),
		entries: make(map[int]*entry),
	}
	switch cfg.Kind {
	case KindQueue:
		return &queueScheduler{base: b}, nil
	case KindHeap:
		return &heapScheduler{base: b}, nil
	case KindUCBTree:
		return &ucbScheduler{
			base: b,
			root: newUCBNode(nodeRoot, "root"),
		}, nil
	}
	panic("unreachable")
}

// Stats is a snapshot of scheduler state. Backend-specific fields are zero
// for other backends.
type Stats struct {
	Kind         Kind
	Size         int
	TotalLeased  int
	TotalUpdated int

	// Heap.
	PriorityMode PriorityMode
	MeanPriority float64

	// UCB tree.
	CoverageBuckets int
	BugBuckets      int
	TreeNodes       int
}

// Dump is a bounded structured view for debugging.
type Dump struct {
	Stats     Stats
	Items     []DumpItem // queue/heap: highest priority first
	Leaves    []DumpLeaf // ucb tree: highest Q first
	Truncated bool
}

type DumpItem struct {
	SeedID        int
	Bucket        string
	Priority      float64
	TimesSelected int
	LastScore     float64
	AvgScore      float64
}

type DumpLeaf struct {
	CoverageKey string
	BugKey      string
	N           int
	Q           float64
	SeedIDs     []int
}

// entry is the per-seed bookkeeping shared by all backends.
type entry struct {
	seed  *seed.Seed
	stats seed.Stats
	added int // arrival order, used as FIFO tie-break

	updates    int
	lastScore  float64
	totalScore float64

	priority  float64 // heap only
	heapIndex int     // heap only

	leaseSeq int64              // last issued lease sequence
	pending  map[int64]struct{} // outstanding (unconsumed) lease sequences
}

func (e *entry) avgScore() float64 {
	if e.updates == 0 {
		return 0
	}
	return e.totalScore / float64(e.updates)
}

// Abandoned leases are swept once a seed accumulates this many outstanding
// sequences, so a worker that never reports back cannot leak memory.
const maxPendingLeases = 64

type base struct {
	cfg     Config
	rnd     *rand.Rand
	entries map[int]*entry
	arrival int
	leases  int64

	totalLeased  int
	totalUpdated int
}

func (b *base) Rand() *rand.Rand {
	return b.rnd
}

// register creates the common entry for a new seed, or returns nil if the
// seed id is already tracked (duplicate Add is a no-op).
func (b *base) register(s *seed.Seed, meta *Metadata) *entry {
	if _, ok := b.entries[s.ID]; ok {
		log.Logf(2, "sched: duplicate add of seed %v ignored", s.ID)
		return nil
	}
	b.arrival++
	e := &entry{
		seed:    s,
		added:   b.arrival,
		pending: make(map[int64]struct{}),
		stats:   seed.Stats{ID: s.ID},
	}
	if meta != nil {
		e.stats.CoverageBitmap = meta.CoverageBitmap
		e.stats.ExecTimeMS = meta.ExecTimeMS
	}
	b.entries[s.ID] = e
	return e
}

// lease stamps a new Item for the seed and tracks the outstanding sequence.
func (b *base) lease(e *entry, path []string) *Item {
	b.leases++
	b.totalLeased++
	e.leaseSeq++
	e.stats.FuzzCount++
	e.pending[e.leaseSeq] = struct{}{}
	if len(e.pending) > maxPendingLeases {
		// Drop the oldest abandoned lease.
		oldest := int64(-1)
		for seq := range e.pending {
			if oldest < 0 || seq < oldest {
				oldest = seq
			}
		}
		delete(e.pending, oldest)
	}
	return &Item{
		ID:     b.leases,
		Seed:   e.seed,
		Path:   path,
		Seq:    e.leaseSeq,
		seedID: e.seed.ID,
	}
}

// consume validates a lease on Update. It returns the entry iff the item is
// fresh; stale items are logged and dropped.
func (b *base) consume(item *Item) *entry {
	if item == nil {
		return nil
	}
	e, ok := b.entries[item.seedID]
	if !ok {
		log.Logf(1, "sched: stale lease %v for removed seed %v", item.ID, item.seedID)
		return nil
	}
	if _, ok := e.pending[item.Seq]; !ok {
		log.Logf(1, "sched: stale lease %v for seed %v (seq %v)", item.ID, item.seedID, item.Seq)
		return nil
	}
	delete(e.pending, item.Seq)
	return e
}

// recordScore applies the common per-seed bookkeeping of an Update.
func (b *base) recordScore(e *entry, score float64, signals *exec.Result) {
	e.lastScore = score
	e.totalScore += score
	e.updates++
	b.totalUpdated++
	if signals != nil && len(signals.CoverageBitmap) != 0 {
		e.stats.CoverageBitmap = signals.CoverageBitmap
	}
}

// SeedStats returns a snapshot of the mutable bookkeeping of all seeds, in
// arrival order, for the power scheduler.
func (b *base) SeedStats() []seed.Stats {
	ids := maps.Keys(b.entries)
	sort.Slice(ids, func(i, j int) bool {
		return b.entries[ids[i]].added < b.entries[ids[j]].added
	})
	out := make([]seed.Stats, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.entries[id].stats)
	}
	return out
}
