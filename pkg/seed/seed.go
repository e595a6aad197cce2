// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package seed defines the input unit shared by the corpus, the schedulers
// and the power scheduler.
package seed

import (
	"github.com/how2fps/fuzzer/pkg/hash"
)

// Seed is an immutable input unit. Seeds are created by the corpus loader or
// synthesized from a worker's interesting mutation; they are never mutated
// after creation. When a component needs to change per-seed state, it keeps
// it in a separate Stats record keyed by ID.
type Seed struct {
	ID     int
	Data   []byte
	Bucket string // corpus bucket label, e.g. "valid", "string_stress"
	Family string // target family/tag, e.g. "json"

	// Optional lineage/coverage hints.
	ParentID     int // 0 for corpus seeds
	CoverageHint []int
}

// Fingerprint is a stable content digest, usable for dedup across sessions.
func (s *Seed) Fingerprint() string {
	sig := hash.Hash(s.Data)
	return sig.Short()
}

// Stats is the mutable per-seed bookkeeping owned by the seed scheduler and
// consumed by the power scheduler. All numeric fields are non-negative.
type Stats struct {
	ID             int
	ExecTimeMS     float64 // average execution time; 0 = unknown
	CoverageBitmap []int   // per-edge hit vector; nil = no coverage info
	FuzzCount      int     // number of times this seed has been leased
}
