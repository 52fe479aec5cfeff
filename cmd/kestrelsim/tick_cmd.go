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
	"golang.org/x/time/rate"
)

// tickCommand implements subcommands.Command for "tick": boots a Machine
// and advances it a fixed number of ticks, optionally paced to a target
// rate — the CLI's free-running mode, standing in for a real hart's
// comparator-interrupt cadence.
type tickCommand struct {
	config string
	harts  int
	count  int
	hz     float64
}

func (*tickCommand) Name() string     { return "tick" }
func (*tickCommand) Synopsis() string { return "advance a simulated machine's timers by N ticks" }
func (*tickCommand) Usage() string {
	return "tick [-config=file.toml] [-harts=N] [-count=N] [-hz=F]\n"
}

func (c *tickCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "path to a bootconfig TOML file")
	f.IntVar(&c.harts, "harts", 0, "override the configured hart count")
	f.IntVar(&c.count, "count", 1, "number of ticks to advance")
	f.Float64Var(&c.hz, "hz", 0, "pace ticks to this rate (ticks/sec); 0 means as fast as possible")
}

func (c *tickCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := configFromFlags(c.config, c.harts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	m := Boot(cfg)
	defer m.Shutdown()

	var limiter *rate.Limiter
	if c.hz > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.hz), 1)
	}
	for i := 0; i < c.count; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return subcommands.ExitFailure
			}
		}
		m.Tick()
	}
	fmt.Print(m.Stats())
	return subcommands.ExitSuccess
}
