// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"github.com/how2fps/fuzzer/pkg/exec"
	"github.com/how2fps/fuzzer/pkg/seed"
)

// queueScheduler is the cyclic FIFO baseline. Next rotates the head to the
// tail, so every seed is visited before any seed is revisited; Update only
// records scores and never reorders.
type queueScheduler struct {
	base
	ring []int // seed ids, head first
}

func (q *queueScheduler) Add(s *seed.Seed, meta *Metadata) {
	if e := q.register(s, meta); e != nil {
		q.ring = append(q.ring, s.ID)
	}
}

func (q *queueScheduler) Next() *Item {
	if len(q.ring) == 0 {
		return nil
	}
	id := q.ring[0]
	copy(q.ring, q.ring[1:])
	q.ring[len(q.ring)-1] = id
	return q.lease(q.entries[id], nil)
}

func (q *queueScheduler) Update(item *Item, score float64, signals *exec.Result) bool {
	e := q.consume(item)
	if e == nil {
		return false
	}
	q.recordScore(e, score, signals)
	return true
}

func (q *queueScheduler) Empty() bool {
	return len(q.ring) == 0
}

func (q *queueScheduler) Len() int {
	return len(q.ring)
}

func (q *queueScheduler) Stats() Stats {
	return Stats{
		Kind:         KindQueue,
		Size:         len(q.ring),
		TotalLeased:  q.totalLeased,
		TotalUpdated: q.totalUpdated,
	}
}

func (q *queueScheduler) DebugDump(limit int) Dump {
	dump := Dump{Stats: q.Stats()}
	for _, id := range q.ring {
		if len(dump.Items) >= limit {
			dump.Truncated = true
			break
		}
		e := q.entries[id]
		dump.Items = append(dump.Items, DumpItem{
			SeedID:        id,
			Bucket:        e.seed.Bucket,
			TimesSelected: e.stats.FuzzCount,
			LastScore:     e.lastScore,
			AvgScore:      e.avgScore(),
		})
	}
	return dump
}
