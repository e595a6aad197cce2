// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log is a thin layer over the standard log package with verbosity
// levels. The fuzzing loop logs scheduler transitions at level 0-1 and
// per-lease chatter at level 2+; a single global -vv flag controls what is
// actually printed.
package log

import (
	"flag"
	golog "log"
	"sync/atomic"
)

var (
	flagV     = flag.Int("vv", 0, "verbosity")
	verbosity atomic.Int64
	inited    atomic.Bool
)

// SetVerbosity overrides the -vv flag, mostly for tests and library embedders
// that do not parse flags.
func SetVerbosity(v int) {
	verbosity.Store(int64(v))
	inited.Store(true)
}

func level() int {
	if inited.Load() {
		return int(verbosity.Load())
	}
	if flag.Parsed() {
		return *flagV
	}
	return 0
}

func Logf(v int, msg string, args ...interface{}) {
	if v > level() {
		return
	}
	golog.Printf(msg, args...)
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter adapts Logf to io.Writer for plumbing into code that wants
// a writer (e.g. worker stderr sinks).
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
