// Copyright 2026 fuzzer project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"github.com/how2fps/fuzzer/pkg/config"
	"github.com/how2fps/fuzzer/pkg/power"
	"github.com/how2fps/fuzzer/pkg/sched"
)

// LoadConfig reads a harness configuration file (JSON with #-comments) and
// fills in defaults for everything the file leaves out.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Sched:  sched.DefaultConfig(),
		Power:  power.DefaultConfig(),
		Hybrid: power.DefaultHybridConfig(),
		Procs:  1,
	}
	if err := config.LoadFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigData is LoadConfig for in-memory bytes, mostly for tests.
func LoadConfigData(data []byte) (*Config, error) {
	cfg := &Config{
		Sched:  sched.DefaultConfig(),
		Power:  power.DefaultConfig(),
		Hybrid: power.DefaultHybridConfig(),
		Procs:  1,
	}
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
