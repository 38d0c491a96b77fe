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

package mm

import (
	"fmt"

	"freelsd.dev/memcore/pkg/hostarch"
)

// Geometry of the 4-level hierarchy.
const (
	// IndexBits is the number of virtual address bits consumed per level.
	IndexBits = 9

	// EntriesPerTable is the number of entries in one table at any level.
	EntriesPerTable = 1 << IndexBits

	indexMask = EntriesPerTable - 1

	l4Shift = 39
	l3Shift = 30
	l2Shift = 21
	l1Shift = hostarch.PageShift

	// canonicalBit is the highest translated bit; bits above it are copies
	// of it in a canonical address.
	canonicalBit = l4Shift + IndexBits - 1
)

// Page is a page-aligned, non-zero virtual address naming one 4096-byte
// region of a virtual address space.
type Page struct {
	addr hostarch.VirtualAddr
}

// NewPage returns the page containing va. ok is false if that page would
// start at address zero.
func NewPage(va hostarch.VirtualAddr) (p Page, ok bool) {
	p = Page{va.RoundDown()}
	return p, p.addr != 0
}

// PageContaining returns the page containing va. It panics if va lies in the
// first page.
func PageContaining(va hostarch.VirtualAddr) Page {
	p, ok := NewPage(va)
	if !ok {
		panic(fmt.Sprintf("virtual address %v: zero is not a valid page", va))
	}
	return p
}

// PageFromIndices recombines per-level indices into a page. Each index must
// be below EntriesPerTable. The result is canonical: L4 indices in the upper
// half of the table produce sign-extended, upper-half addresses.
func PageFromIndices(l4, l3, l2, l1 int) Page {
	for _, idx := range [...]int{l4, l3, l2, l1} {
		if idx < 0 || idx >= EntriesPerTable {
			panic(fmt.Sprintf("page table index %d out of range", idx))
		}
	}
	va := uintptr(l4)<<l4Shift | uintptr(l3)<<l3Shift | uintptr(l2)<<l2Shift | uintptr(l1)<<l1Shift
	if va&(1<<canonicalBit) != 0 {
		va |= ^uintptr(0) >> canonicalBit << canonicalBit
	}
	return PageContaining(hostarch.VirtualAddr(va))
}

// Addr returns the virtual address of the start of the page.
func (p Page) Addr() hostarch.VirtualAddr {
	return p.addr
}

// L4Index returns the index of p in the L4 table.
func (p Page) L4Index() int {
	return int(uintptr(p.addr)>>l4Shift) & indexMask
}

// L3Index returns the index of p in an L3 table.
func (p Page) L3Index() int {
	return int(uintptr(p.addr)>>l3Shift) & indexMask
}

// L2Index returns the index of p in an L2 table.
func (p Page) L2Index() int {
	return int(uintptr(p.addr)>>l2Shift) & indexMask
}

// L1Index returns the index of p in an L1 table.
func (p Page) L1Index() int {
	return int(uintptr(p.addr)>>l1Shift) & indexMask
}

// Canonical returns true if the bits above the translated range are copies
// of the highest translated bit.
func (p Page) Canonical() bool {
	upper := uintptr(p.addr) >> canonicalBit
	return upper == 0 || upper == ^uintptr(0)>>canonicalBit
}

// Add returns the page n pages after p. ok is false if the result wraps or
// is zero.
func (p Page) Add(n uint64) (Page, bool) {
	next := p.addr + hostarch.VirtualAddr(n<<hostarch.PageShift)
	if next < p.addr {
		return Page{}, false
	}
	return NewPage(next)
}

// String implements fmt.Stringer.String.
func (p Page) String() string {
	return fmt.Sprintf("Page(%v)", p.addr)
}
