// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package exec

import (
	"strings"

	"github.com/how2fps/fuzzer/pkg/log"
)

// FromMap parses a loosely-typed signals map (e.g. decoded worker JSON) into
// a Result. Missing or malformed fields fall back to defaults; an unknown
// status or a malformed coverage bitmap is logged at a high verbosity level.
// Parsing never fails. Both the flat shape and
// the wrapped {closed_result, open_result} shape are accepted.
func FromMap(m map[string]any) *Result {
	if m == nil {
		return &Result{Status: StatusOK}
	}
	if _, ok := m["closed_result"]; ok {
		w := &Wrapped{
			ClosedResult: flatFromMap(asMap(m["closed_result"])),
			OpenResult:   flatFromMap(asMap(m["open_result"])),
		}
		// Top-level novelty flags override the subresults if present.
		res := w.Flatten()
		for _, f := range []struct {
			key string
			dst *bool
		}{
			{"new_coverage", &res.NewCoverage},
			{"new_bug", &res.NewBug},
			{"crash", &res.Crash},
			{"timeout", &res.Timeout},
		} {
			if v, ok := m[f.key]; ok {
				*f.dst = asBool(v)
			}
		}
		if key := asString(m["coverage_key"]); key != "" {
			res.CoverageKey = key
		}
		return res
	}
	return flatFromMap(m)
}

func flatFromMap(m map[string]any) *Result {
	if m == nil {
		return nil
	}
	res := &Result{
		NewCoverage:       asBool(m["new_coverage"]),
		NewBug:            asBool(m["new_bug"]),
		Crash:             asBool(m["crash"]),
		Timeout:           asBool(m["timeout"]),
		CoverageKey:       asString(m["coverage_key"]),
		CoverageSignature: asString(m["coverage_signature"]),
		BugKey:            asString(m["bug_key"]),
		Score:             asFloat(m["isinteresting_score"]),
	}
	status := strings.ToLower(strings.TrimSpace(asString(m["status"])))
	switch Status(status) {
	case StatusOK, StatusBug, StatusCrash, StatusTimeout:
		res.Status = Status(status)
	case "":
		res.Status = StatusOK
	default:
		log.Logf(3, "signal parse: unknown status %q, treating as ok", status)
		res.Status = StatusOK
	}
	if bitmap, ok := m["coverage_bitmap"]; ok {
		res.CoverageBitmap = asInts(bitmap)
	}
	if sig := asMap(m["bug_signature"]); sig != nil {
		res.BugSignature = &BugSignature{
			Type:      asString(sig["type"]),
			Exception: asString(sig["exception"]),
			Message:   asString(sig["message"]),
			File:      asString(sig["file"]),
			Line:      int(asFloat(sig["line"])),
		}
	}
	return res
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}

func asInts(v any) []int {
	switch x := v.(type) {
	case []int:
		return x
	case []any:
		out := make([]int, 0, len(x))
		for _, e := range x {
			out = append(out, int(asFloat(e)))
		}
		return out
	}
	if v != nil {
		log.Logf(3, "signal parse: malformed coverage bitmap %T", v)
	}
	return nil
}
