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
)

// statCommand implements subcommands.Command for "stat": boots a Machine
// with the given configuration and prints its counters, with no ticks or
// IRQs injected — useful for checking what a configuration resolves to
// (default clamping, clamps, etc.) without driving any simulation.
type statCommand struct {
	config string
	harts  int
}

func (*statCommand) Name() string     { return "stat" }
func (*statCommand) Synopsis() string { return "print a simulated machine's resolved configuration and counters" }
func (*statCommand) Usage() string {
	return "stat [-config=file.toml] [-harts=N]\n"
}

func (c *statCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "path to a bootconfig TOML file")
	f.IntVar(&c.harts, "harts", 0, "override the configured hart count")
}

func (c *statCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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
