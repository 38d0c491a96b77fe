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
	"errors"
	"flag"
	"fmt"
	"time"

	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/kernel"
	"freelsd.dev/memcore/pkg/log"
	"freelsd.dev/memcore/pkg/mm"
	"freelsd.dev/memcore/pkg/pagetables"
	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
)

// errExhausted is returned by a mapping attempt that found no free frame.
var errExhausted = errors.New("physical memory exhausted")

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	workers    int
	pages      uint64
	rounds     int
	maxRetries uint64
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run concurrent address spaces against one frame allocator"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - start -workers goroutines, each repeatedly building an
address space of -pages pages and releasing it. Workers that find physical
memory exhausted back off and retry. At the end every frame must be back in
the allocator.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.workers, "workers", 8, "number of concurrent workers.")
	f.Uint64Var(&s.pages, "pages", 512, "pages mapped by each worker per round.")
	f.IntVar(&s.rounds, "rounds", 4, "address spaces built by each worker.")
	f.Uint64Var(&s.maxRetries, "max-retries", 16, "retries of a single mapping when memory is exhausted.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.workers <= 0 || s.rounds <= 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	m, err := bootMachine(confFrom(args))
	if err != nil {
		return Errorf("booting: %v", err)
	}
	defer m.Close()

	start := time.Now()
	if err := s.run(ctx, m.kernel); err != nil {
		return Errorf("stress: %v", err)
	}
	st := m.kernel.Frames.Stats()
	fmt.Fprintf(Output, "%d workers x %d rounds x %d pages in %v; %d frames free, %d failed allocations\n",
		s.workers, s.rounds, s.pages, time.Since(start).Round(time.Millisecond), st.FreeFrames, st.FailedAllocs)
	return subcommands.ExitSuccess
}

func (s *Stress) run(ctx context.Context, k *kernel.Kernel) error {
	before := k.Frames.Stats().FreeFrames
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < s.workers; w++ {
		w := w
		g.Go(func() error {
			// Workers use disjoint address ranges so that their
			// mappings are told apart in logs.
			base := mm.PageFromIndices(1+w%(mm.EntriesPerTable/2-1), 0, 0, 0)
			for r := 0; r < s.rounds; r++ {
				if err := s.round(ctx, k, base); err != nil {
					return fmt.Errorf("worker %d round %d: %w", w, r, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if after := k.Frames.Stats().FreeFrames; after != before {
		return fmt.Errorf("%d frames free after all workers finished, want %d", after, before)
	}
	return nil
}

// round builds one address space, checks it and releases it.
func (s *Stress) round(ctx context.Context, k *kernel.Kernel, base mm.Page) error {
	as := k.NewAddressSpace()
	defer as.Release()

	p := base
	for i := uint64(0); i < s.pages; i++ {
		page := p
		op := func() error {
			f, ok := k.Frames.AllocZeroed()
			if !ok {
				return errExhausted
			}
			if _, _, err := as.Map(page, f, pagetables.Present|pagetables.Writable); err != nil {
				k.Frames.Dealloc(f)
				if errors.Is(err, pagetables.ErrNoMemory) {
					return err
				}
				return backoff.Permanent(err)
			}
			hostarch.ByteOrder.PutUint64(k.Frames.Bytes(f), uint64(page.Addr()))
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Millisecond
		b.MaxInterval = 50 * time.Millisecond
		if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx)); err != nil {
			return fmt.Errorf("mapping %v: %w", page, err)
		}
		var ok bool
		if p, ok = p.Add(1); !ok {
			return fmt.Errorf("page range from %v wraps", base)
		}
	}

	p = base
	for i := uint64(0); i < s.pages; i++ {
		f, ok := as.Translate(p)
		if !ok {
			return fmt.Errorf("%v does not translate", p)
		}
		if got := hostarch.ByteOrder.Uint64(k.Frames.Bytes(f)); got != uint64(p.Addr()) {
			return fmt.Errorf("%v translates to %v tagged %#x", p, f, got)
		}
		p, _ = p.Add(1)
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("Releasing address space at %v with %d mappings", base, as.Mappings())
	}
	return nil
}
