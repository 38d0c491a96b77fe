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

package pagetables

import (
	"errors"
	"fmt"

	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/mm"
)

// ErrNoMemory is returned when a table or page cannot be allocated.
var ErrNoMemory = errors.New("out of physical memory")

// Allocator supplies the frames that tables and leaf pages live in.
type Allocator interface {
	// NewPTEs returns a zeroed frame to hold a table. ok is false if
	// memory is exhausted.
	NewPTEs() (f mm.Frame, ok bool)

	// NewPage returns a zeroed leaf frame.
	NewPage() (f mm.Frame, ok bool)

	// LookupPTEs returns the table held in f.
	LookupPTEs(f mm.Frame) *PTEs

	// LookupPage returns the contents of f.
	LookupPage(f mm.Frame) []byte

	// Free returns f, which must no longer be referenced.
	Free(f mm.Frame)
}

// Table is a page table of a known level.
type Table struct {
	level Level
	frame mm.Frame
	ptes  *PTEs
	alloc Allocator
}

// NewTable returns the table of the given level held in f.
func NewTable(level Level, f mm.Frame, alloc Allocator) Table {
	level.check()
	return Table{
		level: level,
		frame: f,
		ptes:  alloc.LookupPTEs(f),
		alloc: alloc,
	}
}

// Level returns the level of t.
func (t Table) Level() Level {
	return t.level
}

// Frame returns the frame holding t.
func (t Table) Frame() mm.Frame {
	return t.frame
}

// EntryFor returns the entry of t that covers p.
func (t Table) EntryFor(p mm.Page) Entry {
	return t.entry(t.level.Index(p))
}

func (t Table) entry(i int) Entry {
	return Entry{
		level: t.level,
		pte:   &t.ptes[i],
		alloc: t.alloc,
	}
}

// Visit calls fn for every present entry of t in index order, stopping early
// if fn returns false. It returns false if it stopped early.
func (t Table) Visit(fn func(index int, e Entry) bool) bool {
	for i := range t.ptes {
		if !t.ptes[i].Valid() {
			continue
		}
		if !fn(i, t.entry(i)) {
			return false
		}
	}
	return true
}

// Entry is one slot of a Table.
type Entry struct {
	level Level
	pte   *PTE
	alloc Allocator
}

// Level returns the level of the table holding e.
func (e Entry) Level() Level {
	return e.level
}

// Flags returns the attribute bits of e.
func (e Entry) Flags() Flags {
	return e.pte.Flags()
}

// Address returns the frame address stored in e, which may be zero.
func (e Entry) Address() hostarch.PhysicalAddr {
	return e.pte.Address()
}

// Frame returns the frame e points at, or the zero Frame if e is not
// present.
func (e Entry) Frame() mm.Frame {
	if !e.Present() {
		return mm.Frame{}
	}
	f, _ := mm.NewFrame(e.pte.Address())
	return f
}

// Present returns true if e is present.
func (e Entry) Present() bool {
	return e.pte.Valid()
}

// Shared returns true if e does not own its frame.
func (e Entry) Shared() bool {
	return e.Flags()&Shared != 0
}

// Table returns the table e points at. ok is false if e is not present. It
// panics if e is an L1 entry.
func (e Entry) Table() (t Table, ok bool) {
	next := e.level.Next()
	if !e.Present() {
		return Table{}, false
	}
	return NewTable(next, mm.FrameContaining(e.pte.Address()), e.alloc), true
}

// Page returns the contents of the leaf frame e points at. ok is false if e
// is not present. It panics unless e is an L1 entry.
func (e Entry) Page() (b []byte, ok bool) {
	if !e.level.Leaf() {
		panic(fmt.Sprintf("%v entries point to tables, not pages", e.level))
	}
	if !e.Present() {
		return nil, false
	}
	return e.alloc.LookupPage(mm.FrameContaining(e.pte.Address())), true
}

// TableOrAllocate returns the table e points at, first installing a zeroed
// writable one if e is not present.
func (e Entry) TableOrAllocate() (Table, error) {
	if t, ok := e.Table(); ok {
		return t, nil
	}
	f, ok := e.alloc.NewPTEs()
	if !ok {
		return Table{}, fmt.Errorf("allocating %v table: %w", e.level.Next(), ErrNoMemory)
	}
	e.Swap(f, Present|Writable)
	return NewTable(e.level.Next(), f, e.alloc), nil
}

// PageOrAllocate returns the contents of the leaf frame e points at, first
// installing a zeroed writable one if e is not present.
func (e Entry) PageOrAllocate() ([]byte, error) {
	if b, ok := e.Page(); ok {
		return b, nil
	}
	f, ok := e.alloc.NewPage()
	if !ok {
		return nil, fmt.Errorf("allocating page: %w", ErrNoMemory)
	}
	e.Swap(f, Present|Writable)
	return e.alloc.LookupPage(f), nil
}

// Swap atomically replaces e with f and flags, returning the frame e pointed
// at before, if any. The zero Frame with no flags clears e.
//
// Swap panics if flags include Present but f is the zero Frame. Ownership of
// the returned frame passes to the caller.
func (e Entry) Swap(f mm.Frame, flags Flags) (prev mm.Frame, ok bool) {
	if flags&Present != 0 && !f.Valid() {
		panic(fmt.Sprintf("%v entry: present flag set with no frame (flags %v)", e.level, flags))
	}
	old := e.pte.v.Swap(makePTE(f, flags))
	return mm.NewFrame(hostarch.PhysicalAddr(old & addrMask))
}

// Release clears e and, if e was present and not shared, frees everything it
// owned: the tables beneath it, every owned frame they reach, and finally its
// own frame.
func (e Entry) Release() {
	old := e.pte.v.Swap(0)
	flags := Flags(old)
	if flags&Present == 0 || flags&Shared != 0 {
		return
	}
	f := mm.FrameContaining(hostarch.PhysicalAddr(old & addrMask))
	if !e.level.Leaf() {
		NewTable(e.level.Next(), f, e.alloc).release()
	}
	e.alloc.Free(f)
}

func (t Table) release() {
	for i := range t.ptes {
		t.entry(i).Release()
	}
}

// Release frees everything t owns, then t itself. t must not be referenced
// by any entry.
func (t Table) Release() {
	t.release()
	t.alloc.Free(t.frame)
}
