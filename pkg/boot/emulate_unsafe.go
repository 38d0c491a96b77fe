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

package boot

import (
	"fmt"
	"slices"
	"unsafe"

	"freelsd.dev/memcore/pkg/directmap"
	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/log"
	"github.com/mohae/deepcopy"
	"golang.org/x/sys/unix"
)

// DefaultMaxMemory is the largest physical address space Emulate will
// reserve unless told otherwise.
const DefaultMaxMemory = 64 << 30

// Machine is an emulated machine: a memory map plus an anonymous arena that
// plays the part of physical memory.
type Machine struct {
	info  Info
	arena []byte
}

// Emulate validates layout and reserves an arena covering every region, so
// that physical address pa lives at arena[pa]. The arena base becomes the
// direct-map offset. maxMemory bounds the arena size; zero means
// DefaultMaxMemory.
//
// The arena is reserved with MAP_NORESERVE: holes in the memory map cost
// address space but no memory.
func Emulate(layout Layout, maxMemory uint64) (*Machine, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid memory map: %w", err)
	}
	if maxMemory == 0 {
		maxMemory = DefaultMaxMemory
	}
	size, ok := layout.Highest().RoundUp()
	if !ok || uint64(size) > maxMemory {
		return nil, fmt.Errorf("highest address %v, limit %#x: %w", layout.Highest(), maxMemory, ErrArenaTooLarge)
	}

	arena, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("reserving %#x bytes of emulated physical memory: %w", uint64(size), err)
	}

	// Snapshot the map: the caller may keep mutating its layout, but boot
	// information is never revised.
	regions := deepcopy.Copy(layout.Regions).([]Region)
	m := &Machine{
		info: Info{
			Regions:   regions,
			DirectMap: directmap.New(uintptr(unsafe.Pointer(&arena[0])), size),
		},
		arena: arena,
	}
	log.Infof("Emulated machine: %d regions, %#x bytes of physical address space, direct map at %#x", len(regions), uint64(size), m.info.DirectMap.Offset())
	for _, r := range regions {
		log.Debugf("  %v", r)
	}
	return m, nil
}

// Info returns the boot information for the machine.
func (m *Machine) Info() Info {
	info := m.info
	info.Regions = slices.Clone(m.info.Regions)
	return info
}

// Size returns the size of the emulated physical address space.
func (m *Machine) Size() hostarch.PhysicalAddr {
	return hostarch.PhysicalAddr(len(m.arena))
}

// Close releases the arena. Nothing derived from the machine may be used
// afterwards.
func (m *Machine) Close() error {
	if m.arena == nil {
		return nil
	}
	err := unix.Munmap(m.arena)
	m.arena = nil
	return err
}
