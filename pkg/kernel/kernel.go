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

// Package kernel assembles the memory core at boot: one frame allocator for
// the whole machine, the page table allocator built on it, and the metrics
// describing both.
package kernel

import (
	"fmt"

	"freelsd.dev/memcore/pkg/addrspace"
	"freelsd.dev/memcore/pkg/boot"
	"freelsd.dev/memcore/pkg/log"
	"freelsd.dev/memcore/pkg/metric"
	"freelsd.dev/memcore/pkg/pagetables"
	"freelsd.dev/memcore/pkg/phys"
)

// MetricPrefix is prepended to the names of all memory core metrics.
const MetricPrefix = "memcore_"

// Kernel holds the memory core's shared state. There is exactly one per
// machine, and consumers receive it explicitly.
type Kernel struct {
	// Frames is the machine's physical frame allocator.
	Frames *phys.Allocator

	// PageTables allocates page tables from Frames.
	PageTables *pagetables.PhysicalAllocator

	// Metrics describes Frames and the address spaces created here.
	Metrics *metric.Registry

	addressSpaces *metric.Uint64Metric
}

// Bootstrap builds the memory core from boot information.
func Bootstrap(info boot.Info) (*Kernel, error) {
	frames, err := phys.New(info)
	if err != nil {
		return nil, fmt.Errorf("building frame allocator: %w", err)
	}
	k := &Kernel{
		Frames:     frames,
		PageTables: pagetables.NewPhysicalAllocator(frames),
		Metrics:    metric.NewRegistry(MetricPrefix),
	}
	if err := k.registerMetrics(); err != nil {
		return nil, err
	}
	s := frames.Stats()
	log.Infof("Memory core up: %d of %d usable frames free", s.FreeFrames, s.UsableFrames)
	return k, nil
}

// MustBootstrap calls Bootstrap and panics if it fails. A machine whose
// memory cannot be managed cannot boot.
func MustBootstrap(info boot.Info) *Kernel {
	k, err := Bootstrap(info)
	if err != nil {
		panic(fmt.Sprintf("memory core bootstrap failed: %v", err))
	}
	return k
}

func (k *Kernel) registerMetrics() error {
	stat := func(get func(phys.Stats) uint64) func() uint64 {
		return func() uint64 { return get(k.Frames.Stats()) }
	}
	for _, m := range []struct {
		name       string
		cumulative bool
		help       string
		value      func() uint64
	}{
		{"frames_tracked", false, "Frames covered by the allocator bitmap.", stat(func(s phys.Stats) uint64 { return s.Frames })},
		{"frames_usable", false, "Frames wholly inside usable memory.", stat(func(s phys.Stats) uint64 { return s.UsableFrames })},
		{"frames_free", false, "Frames available for allocation.", stat(func(s phys.Stats) uint64 { return s.FreeFrames })},
		{"frames_allocated", false, "Usable frames in use, including the bitmap.", stat(phys.Stats.Allocated)},
		{"bitmap_frames", false, "Frames holding the allocator bitmap.", stat(func(s phys.Stats) uint64 { return s.BitmapFrames })},
		{"alloc_failures_total", true, "Frame allocations that found memory exhausted.", stat(func(s phys.Stats) uint64 { return s.FailedAllocs })},
	} {
		if err := k.Metrics.RegisterCustomUint64Metric(m.name, m.cumulative, m.help, m.value); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}
	var err error
	k.addressSpaces, err = k.Metrics.NewUint64Metric("address_spaces_total", true, "Address spaces created.")
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	return nil
}

// NewAddressSpace returns an empty address space whose tables come from the
// machine's frame allocator.
func (k *Kernel) NewAddressSpace() *addrspace.AddressSpace {
	k.addressSpaces.Increment()
	return addrspace.New(k.PageTables)
}
