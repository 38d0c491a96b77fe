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

// Package mm contains the Frame and Page value types shared by the physical
// allocator and the page tables.
package mm

import (
	"fmt"

	"freelsd.dev/memcore/pkg/directmap"
	"freelsd.dev/memcore/pkg/hostarch"
)

// Frame is a page-aligned, non-zero physical address naming one 4096-byte
// region of physical memory.
//
// The zero value is not a valid frame. It is used as "no frame" wherever an
// optional frame is accepted.
type Frame struct {
	addr hostarch.PhysicalAddr
}

// NewFrame returns the frame containing pa. ok is false if that frame would
// start at address zero.
func NewFrame(pa hostarch.PhysicalAddr) (f Frame, ok bool) {
	f = Frame{pa.RoundDown()}
	return f, f.addr != 0
}

// FrameContaining returns the frame containing pa. It panics if pa lies in
// the first frame.
func FrameContaining(pa hostarch.PhysicalAddr) Frame {
	f, ok := NewFrame(pa)
	if !ok {
		panic(fmt.Sprintf("physical address %v: zero is not a valid frame", pa))
	}
	return f
}

// FrameContainingVirtual returns the frame whose direct-map alias contains
// va.
func FrameContainingVirtual(dm *directmap.Map, va hostarch.VirtualAddr) Frame {
	return FrameContaining(dm.PhysicalFor(va))
}

// FrameFromNumber returns the frame with the given frame number.
func FrameFromNumber(n uint64) Frame {
	return FrameContaining(hostarch.PhysicalAddr(n << hostarch.PageShift))
}

// Valid returns true if f names a frame.
func (f Frame) Valid() bool {
	return f.addr != 0
}

// Addr returns the physical address of the start of the frame.
func (f Frame) Addr() hostarch.PhysicalAddr {
	return f.addr
}

// Number returns the frame number, i.e. Addr() / PageSize.
func (f Frame) Number() uint64 {
	return uint64(f.addr >> hostarch.PageShift)
}

// String implements fmt.Stringer.String.
func (f Frame) String() string {
	if !f.Valid() {
		return "Frame(none)"
	}
	return fmt.Sprintf("Frame(%v)", f.addr)
}
