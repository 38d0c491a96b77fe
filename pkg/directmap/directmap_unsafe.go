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

// Package directmap implements the linear mapping of all physical memory into
// the kernel's virtual address space.
//
// This is the only place where a hostarch.PhysicalAddr becomes something that
// can be dereferenced, and the only place where a direct-map virtual address
// is turned back into a physical one.
package directmap

import (
	"fmt"
	"unsafe"

	"freelsd.dev/memcore/pkg/hostarch"
)

// Map is a direct map: virtual = physical + offset for every physical
// address below Limit.
//
// Map values are immutable after construction and may be shared freely.
type Map struct {
	offset uintptr
	limit  hostarch.PhysicalAddr
}

// New returns a direct map with the given offset covering physical addresses
// in [0, limit).
func New(offset uintptr, limit hostarch.PhysicalAddr) *Map {
	if uint64(offset)+uint64(limit) < uint64(offset) {
		panic(fmt.Sprintf("direct map offset %#x with limit %v wraps the address space", offset, limit))
	}
	return &Map{offset: offset, limit: limit}
}

// Offset returns the linear offset of the map.
func (m *Map) Offset() uintptr {
	return m.offset
}

// Limit returns the first physical address not covered by the map.
func (m *Map) Limit() hostarch.PhysicalAddr {
	return m.limit
}

// Covers returns true if [pa, pa+length) is accessible through the map.
func (m *Map) Covers(pa hostarch.PhysicalAddr, length uint64) bool {
	end, ok := pa.AddLength(length)
	return ok && end <= m.limit
}

// VirtualFor returns the direct-map alias of pa.
func (m *Map) VirtualFor(pa hostarch.PhysicalAddr) hostarch.VirtualAddr {
	if pa >= m.limit {
		panic(fmt.Sprintf("physical address %v outside the direct map (limit %v)", pa, m.limit))
	}
	return hostarch.VirtualAddr(m.offset + uintptr(pa))
}

// PhysicalFor is the inverse of VirtualFor.
func (m *Map) PhysicalFor(va hostarch.VirtualAddr) hostarch.PhysicalAddr {
	if uintptr(va) < m.offset || uint64(uintptr(va)-m.offset) >= uint64(m.limit) {
		panic(fmt.Sprintf("virtual address %v is not part of the direct map", va))
	}
	return hostarch.PhysicalAddr(uintptr(va) - m.offset)
}

// Pointer returns a pointer to the memory at pa.
//
// The caller is responsible for interpreting the memory as the right type.
func (m *Map) Pointer(pa hostarch.PhysicalAddr) unsafe.Pointer {
	// The direct map lies outside the Go heap, in memory whose owner keeps it
	// mapped for the life of m.
	va := m.VirtualFor(pa)
	return *(*unsafe.Pointer)(unsafe.Pointer(&va))
}

// Bytes returns the length bytes of physical memory starting at pa.
func (m *Map) Bytes(pa hostarch.PhysicalAddr, length uint64) []byte {
	if !m.Covers(pa, length) {
		panic(fmt.Sprintf("range [%v, +%#x) outside the direct map (limit %v)", pa, length, m.limit))
	}
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(m.Pointer(pa)), length)
}
