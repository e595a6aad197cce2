// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"math"
	"sort"

	"github.com/how2fps/fuzzer/pkg/exec"
	"github.com/how2fps/fuzzer/pkg/log"
	"github.com/how2fps/fuzzer/pkg/seed"
)

// The UCB tree is three levels deep: root -> coverage buckets -> bug/output
// buckets -> seed lists. UCB1 picks the child at each internal node, so
// effort concentrates on under-explored execution behaviours without a
// hand-tuned priority function.

type nodeKind int

const (
	nodeRoot nodeKind = iota
	nodeCoverage
	nodeBug
)

type ucbNode struct {
	kind       nodeKind
	key        string
	children   map[string]*ucbNode
	childOrder []string // insertion order; keeps selection deterministic
	seeds      []int    // leaf only: seed ids in insertion order

	n int     // visit count
	q float64 // running-average reward
}

func newUCBNode(kind nodeKind, key string) *ucbNode {
	return &ucbNode{
		kind:     kind,
		key:      key,
		children: make(map[string]*ucbNode),
	}
}

func (n *ucbNode) visit(reward float64) {
	n.n++
	n.q += (reward - n.q) / float64(n.n)
}

func (n *ucbNode) child(kind nodeKind, key string) *ucbNode {
	c, ok := n.children[key]
	if !ok {
		c = newUCBNode(kind, key)
		n.children[key] = c
		n.childOrder = append(n.childOrder, key)
	}
	return c
}

type ucbScheduler struct {
	base
	root *ucbNode
}

func (u *ucbScheduler) Add(s *seed.Seed, meta *Metadata) {
	e := u.register(s, meta)
	if e == nil {
		return
	}
	var signals *exec.Result
	if meta != nil {
		signals = meta.Signals
	}
	covKey := signals.CoverageBucketKey()
	bugKey := u.placeBugKey(covKey, signals.BugBucketKey())
	leaf := u.root.child(nodeCoverage, covKey).child(nodeBug, bugKey)
	leaf.seeds = append(leaf.seeds, s.ID)
}

// placeBugKey resolves leaf overflow: if root/cov/bug is full, discriminator
// suffixes #2, #3, ... are appended until a leaf with room is found.
func (u *ucbScheduler) placeBugKey(covKey, bugKey string) string {
	cov := u.root.child(nodeCoverage, covKey)
	key := bugKey
	for i := 2; ; i++ {
		leaf, ok := cov.children[key]
		if !ok || len(leaf.seeds) < u.cfg.MaxSeedsPerLeaf {
			return key
		}
		key = fmt.Sprintf("%v#%v", bugKey, i)
	}
}

func (u *ucbScheduler) Next() *Item {
	node := u.root
	path := make([]string, 0, 2)
	for node.kind != nodeBug {
		child := u.selectChild(node)
		if child == nil {
			return nil
		}
		path = append(path, child.key)
		node = child
	}
	// Least-fuzzed seed first; insertion order breaks ties.
	best := -1
	for _, id := range node.seeds {
		if best < 0 || u.entries[id].stats.FuzzCount < u.entries[best].stats.FuzzCount {
			best = id
		}
	}
	if best < 0 {
		return nil
	}
	return u.lease(u.entries[best], path)
}

// selectChild applies UCB1 over children with available seeds; unvisited
// children take priority, in insertion order.
func (u *ucbScheduler) selectChild(parent *ucbNode) *ucbNode {
	var best *ucbNode
	bestScore := math.Inf(-1)
	for _, key := range parent.childOrder {
		child := parent.children[key]
		if child.available() == 0 {
			continue
		}
		score := u.ucbScore(parent, child)
		if score > bestScore {
			bestScore = score
			best = child
		}
	}
	return best
}

func (u *ucbScheduler) ucbScore(parent, child *ucbNode) float64 {
	if child.n == 0 {
		return math.Inf(1)
	}
	parentN := parent.n
	if parentN < 1 {
		parentN = 1
	}
	return child.q + u.cfg.UCBC*math.Sqrt(math.Log(float64(parentN))/float64(child.n))
}

func (n *ucbNode) available() int {
	if n.kind == nodeBug {
		return len(n.seeds)
	}
	total := 0
	for _, child := range n.children {
		total += child.available()
	}
	return total
}

func (u *ucbScheduler) Update(item *Item, score float64, signals *exec.Result) bool {
	e := u.consume(item)
	if e == nil {
		return false
	}
	u.recordScore(e, score, signals)

	reward := ucbReward(signals)
	// Resolve the stored path against the current tree; a lease that
	// outlived its nodes is treated as stale.
	node := u.root
	nodes := []*ucbNode{node}
	for _, key := range item.Path {
		child, ok := node.children[key]
		if !ok {
			log.Logf(1, "sched: lease %v path %v no longer resolves", item.ID, item.Path)
			return false
		}
		node = child
		nodes = append(nodes, node)
	}
	for _, n := range nodes {
		n.visit(reward)
	}
	return true
}

// ucbReward derives the bandit reward from execution signals (not from the
// interestingness score): +1 new coverage, +2 new bug, +3 crash or timeout.
func ucbReward(signals *exec.Result) float64 {
	if signals == nil {
		return 0
	}
	reward := 0.0
	if signals.NewCoverage {
		reward += 1
	}
	if signals.NewBug {
		reward += 2
	}
	if signals.Crash || signals.Timeout ||
		signals.Status == exec.StatusCrash || signals.Status == exec.StatusTimeout {
		reward += 3
	}
	return reward
}

func (u *ucbScheduler) Empty() bool {
	return len(u.entries) == 0
}

func (u *ucbScheduler) Len() int {
	return len(u.entries)
}

func (u *ucbScheduler) Stats() Stats {
	bugBuckets, treeNodes := 0, 1
	for _, cov := range u.root.children {
		treeNodes++
		bugBuckets += len(cov.children)
		treeNodes += len(cov.children)
	}
	return Stats{
		Kind:            KindUCBTree,
		Size:            len(u.entries),
		TotalLeased:     u.totalLeased,
		TotalUpdated:    u.totalUpdated,
		CoverageBuckets: len(u.root.children),
		BugBuckets:      bugBuckets,
		TreeNodes:       treeNodes,
	}
}

func (u *ucbScheduler) DebugDump(limit int) Dump {
	var leaves []DumpLeaf
	for _, covKey := range u.root.childOrder {
		cov := u.root.children[covKey]
		for _, bugKey := range cov.childOrder {
			leaf := cov.children[bugKey]
			if len(leaf.seeds) == 0 {
				continue
			}
			leaves = append(leaves, DumpLeaf{
				CoverageKey: covKey,
				BugKey:      bugKey,
				N:           leaf.n,
				Q:           leaf.q,
				SeedIDs:     append([]int{}, leaf.seeds...),
			})
		}
	}
	// Highest current Q first makes the snapshot useful at a glance.
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].Q != leaves[j].Q {
			return leaves[i].Q > leaves[j].Q
		}
		return leaves[i].N > leaves[j].N
	})
	dump := Dump{Stats: u.Stats()}
	if len(leaves) > limit {
		leaves = leaves[:limit]
		dump.Truncated = true
	}
	dump.Leaves = leaves
	return dump
}

// checkInvariants verifies N(node) == sum of child N at every internal
// node. It is wired into tests; production code never calls it.
func (u *ucbScheduler) checkInvariants() error {
	return checkNode(u.root)
}

func checkNode(n *ucbNode) error {
	if n.kind == nodeBug {
		return nil
	}
	sum := 0
	for _, child := range n.children {
		sum += child.n
		if err := checkNode(child); err != nil {
			return err
		}
	}
	if len(n.children) > 0 && n.n != sum {
		return fmt.Errorf("node %q: N=%v but children sum to %v", n.key, n.n, sum)
	}
	return nil
}
