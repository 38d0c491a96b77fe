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

package directmap

import (
	"testing"
	"unsafe"

	"freelsd.dev/memcore/pkg/hostarch"
	"golang.org/x/sys/unix"
)

const arenaSize = 4 * hostarch.PageSize

func newTestMap(t *testing.T) (*Map, []byte) {
	t.Helper()
	arena, err := unix.Mmap(-1, 0, arenaSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap failed: %v", err)
	}
	t.Cleanup(func() { unix.Munmap(arena) })
	return New(uintptr(unsafe.Pointer(&arena[0])), arenaSize), arena
}

func TestRoundTrip(t *testing.T) {
	m, _ := newTestMap(t)
	for _, pa := range []hostarch.PhysicalAddr{0, 1, hostarch.PageSize, arenaSize - 1} {
		va := m.VirtualFor(pa)
		if got := m.PhysicalFor(va); got != pa {
			t.Errorf("PhysicalFor(VirtualFor(%v)) = %v", pa, got)
		}
		if uintptr(va)-m.Offset() != uintptr(pa) {
			t.Errorf("VirtualFor(%v) = %v, not linear in offset %#x", pa, va, m.Offset())
		}
	}
}

func TestBytesAlias(t *testing.T) {
	m, arena := newTestMap(t)
	b := m.Bytes(hostarch.PageSize, hostarch.PageSize)
	if len(b) != hostarch.PageSize {
		t.Fatalf("len(Bytes) = %d, want %d", len(b), hostarch.PageSize)
	}
	b[7] = 0xAB
	if arena[hostarch.PageSize+7] != 0xAB {
		t.Errorf("write through the direct map not visible in the backing memory")
	}
}

func TestPointer(t *testing.T) {
	m, arena := newTestMap(t)
	pa := hostarch.PhysicalAddr(2*hostarch.PageSize + 8)
	if got, want := uintptr(m.Pointer(pa)), uintptr(unsafe.Pointer(&arena[pa])); got != want {
		t.Fatalf("Pointer(%v) = %#x, want %#x", pa, got, want)
	}
	*(*uint64)(m.Pointer(pa)) = 0x0102_0304_0506_0708
	if got := hostarch.ByteOrder.Uint64(arena[pa:]); got != 0x0102_0304_0506_0708 {
		t.Errorf("value read back through the arena = %#x", got)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	m, _ := newTestMap(t)
	for name, fn := range map[string]func(){
		"VirtualFor": func() { m.VirtualFor(arenaSize) },
		"Bytes":      func() { m.Bytes(arenaSize-1, 2) },
		"PhysicalFor": func() {
			m.PhysicalFor(hostarch.VirtualAddr(m.Offset() + arenaSize))
		},
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s did not panic", name)
				}
			}()
			fn()
		})
	}
}

func TestCovers(t *testing.T) {
	m, _ := newTestMap(t)
	if !m.Covers(0, arenaSize) {
		t.Errorf("Covers(0, %#x) = false", arenaSize)
	}
	if m.Covers(1, arenaSize) {
		t.Errorf("Covers(1, %#x) = true", arenaSize)
	}
	if m.Covers(^hostarch.PhysicalAddr(0), 2) {
		t.Errorf("Covers did not detect overflow")
	}
}
