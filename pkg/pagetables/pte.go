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

// Package pagetables implements x86-64 4-level page tables.
//
// Tables are frames of 512 64-bit entries. The hierarchy is built lazily as
// pages are mapped and torn down recursively: releasing an entry frees every
// frame it exclusively owns, directly or through the tables beneath it.
// Entries marked Shared point at frames owned elsewhere and are never freed.
package pagetables

import (
	"fmt"
	"strings"
	"sync/atomic"

	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/mm"
)

// Flags are the attribute bits of a page table entry.
type Flags uint64

// Entry attributes. The positions match the hardware layout.
const (
	Present        Flags = 1 << 0
	Writable       Flags = 1 << 1
	UserAccessible Flags = 1 << 2
	WriteThrough   Flags = 1 << 3
	Cacheable      Flags = 1 << 4

	// Shared is one of the bits available to software. A shared entry
	// does not own its frame.
	Shared Flags = 1 << 9

	flagsMask = Present | Writable | UserAccessible | WriteThrough | Cacheable | Shared
)

// addrMask selects bits 12-51, the frame address.
const addrMask = 0x000f_ffff_ffff_f000

var flagNames = []struct {
	flag Flags
	name string
}{
	{Present, "present"},
	{Writable, "writable"},
	{UserAccessible, "user"},
	{WriteThrough, "writethrough"},
	{Cacheable, "cacheable"},
	{Shared, "shared"},
}

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ flagsMask; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(rest)))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// PTE is a single page table entry. It is read and written atomically.
type PTE struct {
	v atomic.Uint64
}

// PTEs is a full table of entries, exactly one frame in size.
type PTEs [mm.EntriesPerTable]PTE

// Flags returns the attribute bits of the entry.
func (p *PTE) Flags() Flags {
	return Flags(p.v.Load()) & flagsMask
}

// Address returns the frame address stored in the entry, which may be zero.
func (p *PTE) Address() hostarch.PhysicalAddr {
	return hostarch.PhysicalAddr(p.v.Load() & addrMask)
}

// Valid returns true if the entry is present.
func (p *PTE) Valid() bool {
	return p.Flags()&Present != 0
}

// Bits returns the raw entry.
func (p *PTE) Bits() uint64 {
	return p.v.Load()
}

func makePTE(f mm.Frame, flags Flags) uint64 {
	return uint64(f.Addr())&addrMask | uint64(flags&flagsMask)
}

// Level identifies one of the four levels of the hierarchy. L4 is the root;
// L1 entries point at leaf frames.
type Level uint8

// Levels.
const (
	L1 Level = iota + 1
	L2
	L3
	L4
)

// levelShift is the position of each level's index in a virtual address.
var levelShift = [...]uint{
	L1: hostarch.PageShift,
	L2: hostarch.PageShift + mm.IndexBits,
	L3: hostarch.PageShift + 2*mm.IndexBits,
	L4: hostarch.PageShift + 3*mm.IndexBits,
}

func (l Level) check() {
	if l < L1 || l > L4 {
		panic(fmt.Sprintf("invalid page table level %d", uint8(l)))
	}
}

// Index returns the index of p within a table of level l.
func (l Level) Index(p mm.Page) int {
	l.check()
	return int(uintptr(p.Addr())>>levelShift[l]) & (mm.EntriesPerTable - 1)
}

// Span returns the number of bytes of virtual address space covered by one
// entry of a table of level l.
func (l Level) Span() uint64 {
	l.check()
	return 1 << levelShift[l]
}

// Leaf returns true if entries at level l point at leaf frames.
func (l Level) Leaf() bool {
	return l == L1
}

// Next returns the level of the tables that entries at level l point to.
func (l Level) Next() Level {
	if l.Leaf() {
		panic("L1 entries do not point to tables")
	}
	l.check()
	return l - 1
}

// String implements fmt.Stringer.String.
func (l Level) String() string {
	return fmt.Sprintf("L%d", uint8(l))
}
