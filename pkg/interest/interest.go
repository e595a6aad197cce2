// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package interest maps execution results to a scalar interestingness score
// in [0, 1]. The score is a rough utility signal consumed by priority-based
// schedulers; it is deliberately coarse so that backends can combine it with
// their own reward models.
package interest

import (
	"github.com/how2fps/fuzzer/pkg/exec"
)

// Score weights. Contributions are additive with a saturating clamp at 1.0.
const (
	newCoverageWeight  = 0.4
	newBugWeight       = 0.4
	crashTimeoutWeight = 0.2
	seenBugWeight      = 0.1
)

// Score computes the interestingness of a single lease result.
func Score(res *exec.Result) float64 {
	if res == nil {
		return 0
	}
	score := 0.0
	if res.NewCoverage {
		score += newCoverageWeight
	}
	if res.NewBug {
		score += newBugWeight
	}
	if res.Crash || res.Timeout {
		score += crashTimeoutWeight
	}
	// A previously-seen bug still carries a little weight.
	if res.Status == exec.StatusBug && !res.NewBug {
		score += seenBugWeight
	}
	if score > 1 {
		score = 1
	}
	return score
}

// DifferentialScore compares a target ("closed") run against an oracle
// ("open") run of the same input. Disagreement between the two is a stronger
// signal than either run alone.
func DifferentialScore(closed, open *exec.Result) float64 {
	if closed == nil {
		return 0
	}
	if open == nil {
		return Score(closed)
	}
	closedBad := closed.Status != exec.StatusOK
	// Strong signal: the target finds a problem while the oracle looks fine.
	if closedBad && open.Status == exec.StatusOK {
		return 1.0
	}
	// Status differs in any other way: still interesting but slightly less.
	if closed.Status != open.Status {
		return 0.75
	}
	// Same status; check whether the detailed bug signatures disagree.
	if closedBad && !closed.BugSignature.Equal(open.BugSignature) {
		return 0.5
	}
	return 0
}
