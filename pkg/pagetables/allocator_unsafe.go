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
	"fmt"
	"unsafe"

	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/mm"
	"freelsd.dev/memcore/pkg/phys"
	"freelsd.dev/memcore/pkg/sync"
)

// A table fills exactly one frame.
var (
	_ [unsafe.Sizeof(PTEs{}) - hostarch.PageSize]struct{}
	_ [hostarch.PageSize - unsafe.Sizeof(PTEs{})]struct{}
)

var (
	_ Allocator = (*PhysicalAllocator)(nil)
	_ Allocator = (*RuntimeAllocator)(nil)
)

// PhysicalAllocator takes frames from the physical frame allocator and
// reaches them through its direct map.
type PhysicalAllocator struct {
	frames *phys.Allocator
}

// NewPhysicalAllocator returns an Allocator backed by frames.
func NewPhysicalAllocator(frames *phys.Allocator) *PhysicalAllocator {
	return &PhysicalAllocator{frames: frames}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PhysicalAllocator) NewPTEs() (mm.Frame, bool) {
	return a.frames.AllocZeroed()
}

// NewPage implements Allocator.NewPage.
func (a *PhysicalAllocator) NewPage() (mm.Frame, bool) {
	return a.frames.AllocZeroed()
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PhysicalAllocator) LookupPTEs(f mm.Frame) *PTEs {
	return (*PTEs)(a.frames.DirectMap().Pointer(f.Addr()))
}

// LookupPage implements Allocator.LookupPage.
func (a *PhysicalAllocator) LookupPage(f mm.Frame) []byte {
	return a.frames.Bytes(f)
}

// Free implements Allocator.Free.
func (a *PhysicalAllocator) Free(f mm.Frame) {
	a.frames.Dealloc(f)
}

// Frames returns the underlying frame allocator.
func (a *PhysicalAllocator) Frames() *phys.Allocator {
	return a.frames
}

// RuntimeAllocator backs frames with Go heap memory. Frame addresses are
// synthetic and mean nothing to hardware. It is useful for building tables
// outside a machine, and it counts live frames so leaks show up.
type RuntimeAllocator struct {
	mu     sync.Mutex
	next   hostarch.PhysicalAddr
	limit  int
	frames map[mm.Frame]*PTEs
	freed  []mm.Frame
}

// NewRuntimeAllocator returns a RuntimeAllocator that hands out at most limit
// frames at a time. Zero means no limit.
func NewRuntimeAllocator(limit int) *RuntimeAllocator {
	return &RuntimeAllocator{
		next:   hostarch.PageSize,
		limit:  limit,
		frames: make(map[mm.Frame]*PTEs),
	}
}

func (r *RuntimeAllocator) alloc() (mm.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.frames) >= r.limit {
		return mm.Frame{}, false
	}
	var f mm.Frame
	if n := len(r.freed); n > 0 {
		f = r.freed[n-1]
		r.freed = r.freed[:n-1]
	} else {
		f = mm.FrameContaining(r.next)
		r.next += hostarch.PageSize
	}
	r.frames[f] = new(PTEs)
	return f, true
}

func (r *RuntimeAllocator) lookup(f mm.Frame) *PTEs {
	r.mu.Lock()
	defer r.mu.Unlock()
	ptes, ok := r.frames[f]
	if !ok {
		panic(fmt.Sprintf("%v was not allocated", f))
	}
	return ptes
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() (mm.Frame, bool) {
	return r.alloc()
}

// NewPage implements Allocator.NewPage.
func (r *RuntimeAllocator) NewPage() (mm.Frame, bool) {
	return r.alloc()
}

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(f mm.Frame) *PTEs {
	return r.lookup(f)
}

// LookupPage implements Allocator.LookupPage.
func (r *RuntimeAllocator) LookupPage(f mm.Frame) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.lookup(f))), hostarch.PageSize)
}

// Free implements Allocator.Free. Freeing a frame twice panics.
func (r *RuntimeAllocator) Free(f mm.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.frames[f]; !ok {
		panic(fmt.Sprintf("Free(%v): frame is not allocated", f))
	}
	delete(r.frames, f)
	r.freed = append(r.freed, f)
}

// Live returns the number of frames currently allocated.
func (r *RuntimeAllocator) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Owns returns true if f is currently allocated.
func (r *RuntimeAllocator) Owns(f mm.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.frames[f]
	return ok
}
