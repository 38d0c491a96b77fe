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

// Package hostarch describes the physical and virtual address spaces of the
// target machine: page geometry and the two address types that must never be
// used interchangeably.
package hostarch

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"
)

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a page and of a physical frame.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the size covered by one L2 entry.
	HugePageShift = 21

	// HugePageSize is the size covered by one L2 entry.
	HugePageSize = 1 << HugePageShift

	// PageMask selects the in-page offset of an address.
	PageMask = PageSize - 1
)

// ByteOrder is the byte order of the target machine.
var ByteOrder = binary.LittleEndian

// PhysicalAddr is an address in physical memory.
//
// A PhysicalAddr is not dereferenceable; see package directmap.
type PhysicalAddr uint64

// VirtualAddr is an address in a virtual address space.
type VirtualAddr uintptr

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PhysicalAddr) RoundDown() PhysicalAddr {
	return RoundDownTo(p, PageSize)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysicalAddr) RoundUp() (addr PhysicalAddr, ok bool) {
	return RoundUpTo(p, PageSize)
}

// PageOffset returns the offset of p into its page.
func (p PhysicalAddr) PageOffset() uint64 {
	return uint64(p & PageMask)
}

// IsPageAligned returns true if p.PageOffset() == 0.
func (p PhysicalAddr) IsPageAligned() bool {
	return p.PageOffset() == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (p PhysicalAddr) AddLength(length uint64) (end PhysicalAddr, ok bool) {
	end = p + PhysicalAddr(length)
	ok = end >= p
	return
}

// String implements fmt.Stringer.String.
func (p PhysicalAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v VirtualAddr) RoundDown() VirtualAddr {
	return RoundDownTo(v, PageSize)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v VirtualAddr) RoundUp() (addr VirtualAddr, ok bool) {
	return RoundUpTo(v, PageSize)
}

// PageOffset returns the offset of v into its page.
func (v VirtualAddr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v VirtualAddr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// String implements fmt.Stringer.String.
func (v VirtualAddr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}

// RoundDownTo rounds v down to a multiple of align, which must be a power of
// two.
func RoundDownTo[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

// RoundUpTo rounds v up to a multiple of align, which must be a power of two.
// ok is false if the result does not fit in T.
func RoundUpTo[T constraints.Unsigned](v, align T) (rounded T, ok bool) {
	rounded = RoundDownTo(v+align-1, align)
	ok = rounded >= v
	return
}

// DivRoundUp returns ceil(n / d).
func DivRoundUp[T constraints.Unsigned](n, d T) T {
	return n/d + boolToUnsigned[T](n%d != 0)
}

func boolToUnsigned[T constraints.Unsigned](b bool) T {
	if b {
		return 1
	}
	return 0
}
