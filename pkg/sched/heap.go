// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"container/heap"
	"sort"

	"github.com/how2fps/fuzzer/pkg/exec"
	"github.com/how2fps/fuzzer/pkg/seed"
)

// Popped seeds are reinserted with a decayed priority so they are revisited,
// just later than fresher material.
const heapDecay = 0.9

// heapScheduler orders seeds by their interestingness history. The priority
// is either the running average or the last reported score (PriorityMode),
// plus an optional per-bucket prior. Equal priorities break FIFO.
type heapScheduler struct {
	base
	impl seedHeap
}

func (h *heapScheduler) Add(s *seed.Seed, meta *Metadata) {
	e := h.register(s, meta)
	if e == nil {
		return
	}
	e.priority = h.defaultPriority() + h.bucketPrior(s.Bucket)
	heap.Push(&h.impl, e)
}

// defaultPriority is the mean of the current priorities, or 0.5 for the
// first seed, so that newcomers start mid-pack rather than at an extreme.
func (h *heapScheduler) defaultPriority() float64 {
	if len(h.impl) == 0 {
		return 0.5
	}
	total := 0.0
	for _, e := range h.impl {
		total += e.priority
	}
	return total / float64(len(h.impl))
}

func (h *heapScheduler) bucketPrior(bucket string) float64 {
	return h.cfg.BucketPrior[bucket]
}

func (h *heapScheduler) Next() *Item {
	if len(h.impl) == 0 {
		return nil
	}
	e := heap.Pop(&h.impl).(*entry)
	item := h.lease(e, nil)
	// Reinsert decayed so the seed is revisited, but below its peers.
	e.priority *= heapDecay
	heap.Push(&h.impl, e)
	return item
}

func (h *heapScheduler) Update(item *Item, score float64, signals *exec.Result) bool {
	e := h.consume(item)
	if e == nil {
		return false
	}
	h.recordScore(e, score, signals)
	prior := h.bucketPrior(e.seed.Bucket)
	switch h.cfg.PriorityMode {
	case LastScore:
		e.priority = prior + e.lastScore
	default: // AvgScore
		e.priority = prior + e.avgScore()
	}
	heap.Fix(&h.impl, e.heapIndex)
	return true
}

func (h *heapScheduler) Empty() bool {
	return len(h.impl) == 0
}

func (h *heapScheduler) Len() int {
	return len(h.impl)
}

func (h *heapScheduler) Stats() Stats {
	mean := 0.0
	if len(h.impl) > 0 {
		for _, e := range h.impl {
			mean += e.priority
		}
		mean /= float64(len(h.impl))
	}
	return Stats{
		Kind:         KindHeap,
		Size:         len(h.impl),
		TotalLeased:  h.totalLeased,
		TotalUpdated: h.totalUpdated,
		PriorityMode: h.cfg.PriorityMode,
		MeanPriority: mean,
	}
}

func (h *heapScheduler) DebugDump(limit int) Dump {
	ordered := make([]*entry, len(h.impl))
	copy(ordered, h.impl)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].added < ordered[j].added
	})
	dump := Dump{Stats: h.Stats()}
	for _, e := range ordered {
		if len(dump.Items) >= limit {
			dump.Truncated = true
			break
		}
		dump.Items = append(dump.Items, DumpItem{
			SeedID:        e.seed.ID,
			Bucket:        e.seed.Bucket,
			Priority:      e.priority,
			TimesSelected: e.stats.FuzzCount,
			LastScore:     e.lastScore,
			AvgScore:      e.avgScore(),
		})
	}
	return dump
}

// seedHeap is a max-heap over entries; ties go to the older arrival.
// Based on the example provided by https://pkg.go.dev/container/heap.
type seedHeap []*entry

func (sh seedHeap) Len() int { return len(sh) }

func (sh seedHeap) Less(i, j int) bool {
	if sh[i].priority != sh[j].priority {
		return sh[i].priority > sh[j].priority
	}
	return sh[i].added < sh[j].added
}

func (sh seedHeap) Swap(i, j int) {
	sh[i], sh[j] = sh[j], sh[i]
	sh[i].heapIndex = i
	sh[j].heapIndex = j
}

func (sh *seedHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*sh)
	*sh = append(*sh, e)
}

func (sh *seedHeap) Pop() any {
	old := *sh
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*sh = old[:n-1]
	return e
}
