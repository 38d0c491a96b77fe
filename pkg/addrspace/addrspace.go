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

// Package addrspace implements virtual address spaces on top of 4-level
// page tables.
package addrspace

import (
	"fmt"

	"freelsd.dev/memcore/pkg/mm"
	"freelsd.dev/memcore/pkg/pagetables"
)

// AddressSpace owns an L4 table and every unshared frame reachable from it.
// The root table is allocated on first Map.
//
// An AddressSpace is not safe for concurrent use. Once released it must not
// be used again.
type AddressSpace struct {
	alloc    pagetables.Allocator
	root     pagetables.Table
	hasRoot  bool
	released bool
}

// New returns an empty address space taking frames from alloc.
func New(alloc pagetables.Allocator) *AddressSpace {
	return &AddressSpace{alloc: alloc}
}

func (as *AddressSpace) checkLive() {
	if as.released {
		panic("use of released AddressSpace")
	}
}

// checkPage panics if p lies outside the canonical halves, where distinct
// pages would share page table slots.
func checkPage(p mm.Page) {
	if !p.Canonical() {
		panic(fmt.Sprintf("non-canonical page %v", p))
	}
}

// Root returns the frame holding the L4 table. ok is false if nothing has
// been mapped yet.
func (as *AddressSpace) Root() (mm.Frame, bool) {
	as.checkLive()
	return as.root.Frame(), as.hasRoot
}

// leaf walks to the L1 entry for p without allocating.
func (as *AddressSpace) leaf(p mm.Page) (pagetables.Entry, bool) {
	if !as.hasRoot {
		return pagetables.Entry{}, false
	}
	t := as.root
	for !t.Level().Leaf() {
		next, ok := t.EntryFor(p).Table()
		if !ok {
			return pagetables.Entry{}, false
		}
		t = next
	}
	return t.EntryFor(p), true
}

// Translate returns the frame p is mapped to. It never modifies the
// hierarchy.
func (as *AddressSpace) Translate(p mm.Page) (mm.Frame, bool) {
	as.checkLive()
	checkPage(p)
	e, ok := as.leaf(p)
	if !ok || !e.Present() {
		return mm.Frame{}, false
	}
	return e.Frame(), true
}

// Map points p at f with the given flags, creating any missing tables. It
// returns the frame p was mapped to before, whose ownership passes to the
// caller. The zero Frame with no flags removes the mapping.
//
// p must be canonical; Map, Translate and Unmap panic otherwise.
//
// If a table cannot be allocated, Map returns an error wrapping
// pagetables.ErrNoMemory and leaves existing mappings untouched. Tables
// allocated before the failure stay in place and are reclaimed by Release.
func (as *AddressSpace) Map(p mm.Page, f mm.Frame, flags pagetables.Flags) (prev mm.Frame, ok bool, err error) {
	as.checkLive()
	checkPage(p)
	if !as.hasRoot {
		rf, ok := as.alloc.NewPTEs()
		if !ok {
			return mm.Frame{}, false, fmt.Errorf("allocating root table: %w", pagetables.ErrNoMemory)
		}
		as.root = pagetables.NewTable(pagetables.L4, rf, as.alloc)
		as.hasRoot = true
	}
	t := as.root
	for !t.Level().Leaf() {
		next, err := t.EntryFor(p).TableOrAllocate()
		if err != nil {
			return mm.Frame{}, false, fmt.Errorf("mapping %v: %w", p, err)
		}
		t = next
	}
	prev, ok = t.EntryFor(p).Swap(f, flags)
	return prev, ok, nil
}

// Unmap removes the mapping of p, returning the frame it was mapped to.
// Unlike Map with the zero Frame, it never allocates tables.
func (as *AddressSpace) Unmap(p mm.Page) (mm.Frame, bool) {
	as.checkLive()
	checkPage(p)
	e, ok := as.leaf(p)
	if !ok || !e.Present() {
		return mm.Frame{}, false
	}
	return e.Swap(mm.Frame{}, 0)
}

// Mapping is one present leaf entry.
type Mapping struct {
	Page  mm.Page
	Frame mm.Frame
	Flags pagetables.Flags
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	return fmt.Sprintf("%v -> %v [%v]", m.Page, m.Frame, m.Flags)
}

// Walk calls fn for every mapping in ascending L4 index order, so lower-half
// addresses come before upper-half ones. Walk stops early if fn returns false.
func (as *AddressSpace) Walk(fn func(Mapping) bool) {
	as.checkLive()
	if !as.hasRoot {
		return
	}
	var idx [4]int
	var visit func(t pagetables.Table) bool
	visit = func(t pagetables.Table) bool {
		return t.Visit(func(i int, e pagetables.Entry) bool {
			idx[pagetables.L4-t.Level()] = i
			if !t.Level().Leaf() {
				child, _ := e.Table()
				return visit(child)
			}
			return fn(Mapping{
				Page:  mm.PageFromIndices(idx[0], idx[1], idx[2], idx[3]),
				Frame: e.Frame(),
				Flags: e.Flags(),
			})
		})
	}
	visit(as.root)
}

// Mappings returns the number of pages mapped.
func (as *AddressSpace) Mappings() int {
	n := 0
	as.Walk(func(Mapping) bool {
		n++
		return true
	})
	return n
}

// Release tears the address space down, freeing the root table, every table
// beneath it and every leaf frame mapped without pagetables.Shared. It panics
// if called twice.
func (as *AddressSpace) Release() {
	as.checkLive()
	as.released = true
	if as.hasRoot {
		as.root.Release()
		as.root = pagetables.Table{}
		as.hasRoot = false
	}
}
