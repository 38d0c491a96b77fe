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
	"fmt"
	"text/tabwriter"

	"freelsd.dev/memcore/pkg/boot"
	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	format string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the memory map"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print the memory map selected by --layout.

With -format=toml or -format=yaml the map is written in a form --layout
accepts, which is a convenient starting point for a custom map:

    $ memsim layout -format=toml > map.toml
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.format, "format", "table", "output format: table, toml or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	layout, err := confFrom(args).LoadLayout()
	if err != nil {
		return Errorf("loading memory map: %v", err)
	}
	if err := writeLayout(layout, l.format); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

func writeLayout(layout boot.Layout, format string) error {
	switch format {
	case "table":
		return writeLayoutTable(layout)
	case string(boot.FormatTOML):
		return toml.NewEncoder(Output).Encode(layout)
	case string(boot.FormatYAML):
		enc := yaml.NewEncoder(Output)
		defer enc.Close()
		return enc.Encode(layout)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeLayoutTable(layout boot.Layout) error {
	x, err := boot.NewIndex(layout.Regions)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(Output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "BASE\tEND\tSIZE\tKIND")
	var usable uint64
	x.Ascend(func(r boot.Region) bool {
		end, _ := r.End()
		fmt.Fprintf(w, "%v\t%v\t%s\t%v\n", r.Base, end, humanSize(r.Length), r.Kind)
		if r.Kind == boot.Usable {
			usable += r.Length
		}
		return true
	})
	fmt.Fprintf(w, "\t\t%s\tusable\n", humanSize(usable))
	fmt.Fprintf(w, "\t\t%s\taddress space\n", humanSize(uint64(layout.Highest())))
	return w.Flush()
}

// humanSize formats n bytes with a binary unit.
func humanSize(n uint64) string {
	const units = "KMGTPE"
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(1024), 0
	for m := n / 1024; m >= 1024; m /= 1024 {
		div *= 1024
		exp++
	}
	if n%div == 0 {
		return fmt.Sprintf("%d%ciB", n/div, units[exp])
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), units[exp])
}

