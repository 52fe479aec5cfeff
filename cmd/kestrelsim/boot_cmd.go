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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/kestrel-kernel/core/pkg/bootconfig"
)

// configFromFlags loads a bootconfig.Config from a TOML file when path is
// non-empty, otherwise starts from the all-defaults Config; numHarts, when
// positive, overrides whatever the file (or default) set, the same
// flag-overrides-file precedence runsc/config.NewFromFlags gives its own
// TOML-free flag set.
func configFromFlags(path string, numHarts int) (bootconfig.Config, error) {
	cfg := bootconfig.Config{}.Defaulted()
	if path != "" {
		loaded, err := bootconfig.Load(path)
		if err != nil {
			return bootconfig.Config{}, fmt.Errorf("loading %q: %w", path, err)
		}
		cfg = loaded
	}
	if numHarts > 0 {
		cfg.NumHarts = numHarts
	}
	return cfg, nil
}

// bootCommand implements subcommands.Command for "boot": stands up a
// Machine from flags/config and prints its initial stats, the smallest
// possible verification that a configuration boots cleanly.
type bootCommand struct {
	config string
	harts  int
}

func (*bootCommand) Name() string     { return "boot" }
func (*bootCommand) Synopsis() string { return "boot a simulated machine and print its initial state" }
func (*bootCommand) Usage() string {
	return "boot [-config=file.toml] [-harts=N]\n"
}

func (c *bootCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "path to a bootconfig TOML file")
	f.IntVar(&c.harts, "harts", 0, "override the configured hart count")
}

func (c *bootCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := configFromFlags(c.config, c.harts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	m := Boot(cfg)
	defer m.Shutdown()
	fmt.Print(m.Stats())
	return subcommands.ExitSuccess
}
