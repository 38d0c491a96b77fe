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
	"strconv"

	"freelsd.dev/memcore/pkg/addrspace"
	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/kernel"
	"freelsd.dev/memcore/pkg/log"
	"freelsd.dev/memcore/pkg/mm"
	"freelsd.dev/memcore/pkg/pagetables"
	"github.com/google/subcommands"
)

// Map implements subcommands.Command for the "map" command.
type Map struct {
	base   string
	pages  uint64
	user   bool
	shared bool
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "map a range of pages in a fresh address space and tear it down"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map [flags] - create an address space, back -pages pages starting at -base
with zeroed frames, translate them back, print the mappings and release the
address space, checking that every frame returns to the allocator.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.base, "base", "0x400000", "virtual address of the first page.")
	f.Uint64Var(&m.pages, "pages", 4, "number of pages to map.")
	f.BoolVar(&m.user, "user", false, "make the mappings user accessible.")
	f.BoolVar(&m.shared, "shared", false, "mark the mappings shared, so that the address space does not free their frames.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	va, err := strconv.ParseUint(m.base, 0, 64)
	if err != nil {
		return Errorf("invalid -base %q: %v", m.base, err)
	}
	first, ok := mm.NewPage(hostarch.VirtualAddr(va))
	if !ok || !first.Canonical() {
		return Errorf("-base %q is not a valid page address", m.base)
	}
	flags := pagetables.Present | pagetables.Writable
	if m.user {
		flags |= pagetables.UserAccessible
	}
	if m.shared {
		flags |= pagetables.Shared
	}

	mach, err := bootMachine(confFrom(args))
	if err != nil {
		return Errorf("booting: %v", err)
	}
	defer mach.Close()

	if err := mapAndRelease(mach.kernel, first, m.pages, flags); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// mapAndRelease maps n pages from first in a new address space, checks and
// prints them, then releases the address space and checks that the allocator
// got everything back.
func mapAndRelease(k *kernel.Kernel, first mm.Page, n uint64, flags pagetables.Flags) error {
	before := k.Frames.Stats()
	as := k.NewAddressSpace()
	released := false
	var frames []mm.Frame
	defer func() {
		if !released {
			as.Release()
		}
		if flags&pagetables.Shared != 0 {
			for _, f := range frames {
				k.Frames.Dealloc(f)
			}
		}
	}()

	p := first
	for i := uint64(0); i < n; i++ {
		f, ok := k.Frames.AllocZeroed()
		if !ok {
			return fmt.Errorf("page %d of %d: out of physical memory", i, n)
		}
		if _, _, err := as.Map(p, f, flags); err != nil {
			k.Frames.Dealloc(f)
			return err
		}
		frames = append(frames, f)
		// Tag each frame with its page so translation can be checked
		// through the memory itself.
		copy(k.Frames.Bytes(f), p.String())
		if i+1 < n {
			if p, ok = p.Add(1); !ok || !p.Canonical() {
				return fmt.Errorf("range starting at %v leaves the canonical halves after %d pages", first, i+1)
			}
		}
	}

	if err := checkMappings(k, as, first, n); err != nil {
		return err
	}
	root, _ := as.Root()
	inUse := before.FreeFrames - k.Frames.Stats().FreeFrames
	fmt.Fprintf(Output, "address space root %v, %d pages mapped, %d frames in use (%d tables)\n", root, as.Mappings(), inUse, inUse-n)
	as.Walk(func(m addrspace.Mapping) bool {
		fmt.Fprintf(Output, "  %v\n", m)
		return true
	})

	as.Release()
	released = true
	after := k.Frames.Stats()
	want := before.FreeFrames
	if flags&pagetables.Shared != 0 {
		want -= n
	}
	if after.FreeFrames != want {
		return fmt.Errorf("%d frames free after release, want %d", after.FreeFrames, want)
	}
	fmt.Fprintf(Output, "released: %d frames free\n", after.FreeFrames)
	log.Infof("Mapped and released %d pages at %v", n, first)
	return nil
}

func checkMappings(k *kernel.Kernel, as *addrspace.AddressSpace, first mm.Page, n uint64) error {
	p := first
	for i := uint64(0); i < n; i++ {
		f, ok := as.Translate(p)
		if !ok {
			return fmt.Errorf("%v does not translate", p)
		}
		tag := p.String()
		if got := string(k.Frames.Bytes(f)[:len(tag)]); got != tag {
			return fmt.Errorf("%v translates to %v holding %q", p, f, got)
		}
		p, _ = p.Add(1)
	}
	return nil
}
