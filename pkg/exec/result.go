// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package exec defines the execution outcome types exchanged between workers
// and the scheduler core, and the normalization applied at the update
// boundary. Workers report results by value; polymorphic shapes (wrapped
// closed/open pairs, loosely-typed maps) are flattened here so that
// backend-specific code only ever sees the flat Result.
package exec

import (
	"github.com/how2fps/fuzzer/pkg/hash"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusBug     Status = "bug"
	StatusCrash   Status = "crash"
	StatusTimeout Status = "timeout"
)

// BugSignature identifies a failure class. Two signatures with equal fields
// denote the same bug.
type BugSignature struct {
	Type      string `json:"type"`
	Exception string `json:"exception"`
	Message   string `json:"message"` // message digest, not raw text
	File      string `json:"file"`
	Line      int    `json:"line"`
}

func (s *BugSignature) Empty() bool {
	return s == nil || *s == BugSignature{}
}

// Equal reports whether two optional signatures denote the same bug.
// Two nil signatures are equal; nil never equals non-nil.
func (s *BugSignature) Equal(other *BugSignature) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return *s == *other
}

// Result is a worker's lease summary: union of signals over up to `energy`
// mutation+execution attempts.
type Result struct {
	NewCoverage bool   `json:"new_coverage"`
	NewBug      bool   `json:"new_bug"`
	Crash       bool   `json:"crash"`
	Timeout     bool   `json:"timeout"`
	Status      Status `json:"status"`

	CoverageKey       string `json:"coverage_key,omitempty"`
	CoverageSignature string `json:"coverage_signature,omitempty"`
	CoverageBitmap    []int  `json:"coverage_bitmap,omitempty"`

	BugKey       string        `json:"bug_key,omitempty"`
	BugSignature *BugSignature `json:"bug_signature,omitempty"`

	// Optional scalar interestingness computed by the worker.
	Score float64 `json:"isinteresting_score,omitempty"`
}

// Wrapped is the two-run result shape produced by differential workers:
// the target ("closed") run paired with an oracle ("open") run.
type Wrapped struct {
	ClosedResult *Result `json:"closed_result"`
	OpenResult   *Result `json:"open_result"`
}

// Flatten merges a wrapped result into the flat shape: booleans are OR-ed
// across both subresults, bucketing keys prefer the closed result.
func (w *Wrapped) Flatten() *Result {
	closed, open := w.ClosedResult, w.OpenResult
	if closed == nil {
		closed = &Result{}
	}
	if open == nil {
		open = &Result{}
	}
	out := *closed
	out.NewCoverage = closed.NewCoverage || open.NewCoverage
	out.NewBug = closed.NewBug || open.NewBug
	out.Crash = closed.Crash || open.Crash
	out.Timeout = closed.Timeout || open.Timeout
	if out.Status == "" {
		out.Status = open.Status
	}
	if out.CoverageKey == "" {
		out.CoverageKey = open.CoverageKey
	}
	if out.CoverageKey == "" && out.CoverageSignature == "" {
		out.CoverageSignature = open.CoverageSignature
	}
	if out.CoverageBitmap == nil {
		out.CoverageBitmap = open.CoverageBitmap
	}
	if out.BugKey == "" {
		out.BugKey = open.BugKey
	}
	if out.BugSignature.Empty() {
		out.BugSignature = open.BugSignature
	}
	if out.Score < open.Score {
		out.Score = open.Score
	}
	return &out
}

// NoneKey is the bucket key for results carrying no usable signal.
const NoneKey = "none"

// CoverageBucketKey derives the coverage bucket for a result:
// explicit key, then signature, then a digest of the bitmap, then "none".
func (r *Result) CoverageBucketKey() string {
	if r == nil {
		return NoneKey
	}
	if r.CoverageKey != "" {
		return r.CoverageKey
	}
	if r.CoverageSignature != "" {
		return r.CoverageSignature
	}
	if len(r.CoverageBitmap) != 0 {
		sig := hash.Ints(r.CoverageBitmap)
		return "cov:" + sig.Short()
	}
	return NoneKey
}

// BugBucketKey derives the bug/output bucket for a result: explicit key,
// then a digest of the signature, then status, then "none".
func (r *Result) BugBucketKey() string {
	if r == nil {
		return NoneKey
	}
	if r.BugKey != "" {
		return r.BugKey
	}
	if !r.BugSignature.Empty() {
		sig := hash.Object(map[string]any{
			"type":      r.BugSignature.Type,
			"exception": r.BugSignature.Exception,
			"message":   r.BugSignature.Message,
			"file":      r.BugSignature.File,
			"line":      r.BugSignature.Line,
		})
		return "bug:" + sig.Short()
	}
	if r.Crash || r.Status == StatusCrash {
		return "bug:crash"
	}
	if r.Timeout || r.Status == StatusTimeout {
		return "bug:timeout"
	}
	if r.Status == StatusBug {
		return "bug:" + string(StatusBug)
	}
	return NoneKey
}
