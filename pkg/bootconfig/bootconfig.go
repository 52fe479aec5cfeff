// Copyright 2024 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bootconfig loads the boot-time parameters spec.md leaves as
// implied constants from a TOML document, the way runsc/config loads its
// flag defaults from structured configuration.
package bootconfig

import (
	"github.com/BurntSushi/toml"
)

// Defaults matching spec.md's implied constants and §8 boundary behaviors.
const (
	DefaultMaxSiginfoPerSignal = 8
	DefaultMaxWorkqueueActive  = 64
	DefaultMinWorkqueueActive  = 1
	DefaultQuantumTicks        = 10
	DefaultTimerRetryLimit     = 3
	DefaultNumHarts            = 4
)

// Config holds every boot-time tunable. The zero value is not directly
// usable; call Defaulted to fill in spec-implied constants for any field
// left at zero.
type Config struct {
	NumHarts            int `toml:"num_harts"`
	MaxSiginfoPerSignal int `toml:"max_siginfo_per_signal"`
	MaxWorkqueueActive  int `toml:"max_workqueue_active"`
	MinWorkqueueActive  int `toml:"min_workqueue_active"`
	QuantumTicks        int `toml:"quantum_ticks"`
	TimerRetryLimit     int `toml:"timer_retry_limit"`
}

// Defaulted returns a copy of c with every zero-valued field replaced by
// its spec-implied default.
func (c Config) Defaulted() Config {
	if c.NumHarts == 0 {
		c.NumHarts = DefaultNumHarts
	}
	if c.MaxSiginfoPerSignal == 0 {
		c.MaxSiginfoPerSignal = DefaultMaxSiginfoPerSignal
	}
	if c.MaxWorkqueueActive == 0 {
		c.MaxWorkqueueActive = DefaultMaxWorkqueueActive
	}
	if c.MinWorkqueueActive == 0 {
		c.MinWorkqueueActive = DefaultMinWorkqueueActive
	}
	if c.QuantumTicks == 0 {
		c.QuantumTicks = DefaultQuantumTicks
	}
	if c.TimerRetryLimit == 0 {
		c.TimerRetryLimit = DefaultTimerRetryLimit
	}
	return c
}

// Load parses a TOML document from path and returns the defaulted Config.
func Load(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, err
	}
	return c.Defaulted(), nil
}

// LoadString parses a TOML document from a string, primarily for tests.
func LoadString(doc string) (Config, error) {
	var c Config
	if _, err := toml.Decode(doc, &c); err != nil {
		return Config{}, err
	}
	return c.Defaulted(), nil
}
