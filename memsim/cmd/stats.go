// Copyright 2026 The gVisor Authors.
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

package cmd

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

// runtimeMetrics are the Go runtime metrics Stats can add with -runtime.
var runtimeMetrics = map[string]string{
	"go_heap_objects":   "/gc/heap/objects:objects",
	"go_heap_allocs":    "/gc/heap/allocs:objects",
	"go_gc_cycles":      "/gc/cycles/total:gc-cycles",
	"go_mapped_bytes":   "/memory/classes/total:bytes",
	"go_goroutines":     "/sched/goroutines:goroutines",
}

// Stats implements subcommands.Command for the "stats" command.
type Stats struct {
	runtime bool
}

// Name implements subcommands.Command.Name.
func (*Stats) Name() string {
	return "stats"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stats) Synopsis() string {
	return "boot the memory core and print its metrics"
}

// Usage implements subcommands.Command.Usage.
func (*Stats) Usage() string {
	return `stats [flags] - boot the memory core on the emulated machine and print the
frame allocator metrics in the Prometheus text format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stats) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.runtime, "runtime", false, "also report Go runtime metrics of the emulator.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stats) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := bootMachine(confFrom(args))
	if err != nil {
		return Errorf("booting: %v", err)
	}
	defer m.Close()

	if s.runtime {
		reg := m.kernel.Metrics
		for name, rtname := range runtimeMetrics {
			if _, err := reg.NewRuntimeUint64Metric(name, rtname); err != nil {
				return Errorf("registering runtime metric: %v", err)
			}
		}
	}
	if err := m.kernel.Metrics.WriteText(Output); err != nil {
		return Errorf("writing metrics: %v", err)
	}
	return subcommands.ExitSuccess
}
