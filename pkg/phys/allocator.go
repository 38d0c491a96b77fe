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

// Package phys implements the physical frame allocator.
//
// The allocator keeps one bit per frame, from physical address zero up to the
// end of the highest usable region. A set bit means the frame is unavailable:
// it lies outside usable memory, hosts the bitmap itself, or has been handed
// out. Bits are stored most significant first, so frame 8*i is bit 7 of byte
// i.
//
// The bitmap lives in physical memory, in the first usable region large
// enough to hold it, and is reached through the direct map.
package phys

import (
	"errors"
	"fmt"
	"math"
	"time"

	"freelsd.dev/memcore/pkg/bitmap"
	"freelsd.dev/memcore/pkg/boot"
	"freelsd.dev/memcore/pkg/directmap"
	"freelsd.dev/memcore/pkg/hostarch"
	"freelsd.dev/memcore/pkg/log"
	"freelsd.dev/memcore/pkg/mm"
	"freelsd.dev/memcore/pkg/sync"
)

// Errors returned by New.
var (
	ErrNoUsableMemory  = errors.New("memory map has no usable memory")
	ErrNoBitmapStorage = errors.New("no usable region can hold the frame bitmap")
	ErrBitmapOverflow  = errors.New("frame bitmap size overflows")
	ErrNoDirectMap     = errors.New("boot information has no direct map")
)

// exhaustionLogInterval bounds how often allocation failures are logged.
const exhaustionLogInterval = time.Second

// Allocator hands out physical frames.
//
// All methods are safe for concurrent use. They serialize on a single spin
// lock, which is never held across a call into another subsystem.
type Allocator struct {
	mu sync.SpinMutex

	// bits is the frame bitmap. Protected by mu.
	bits bitmap.Bitmap

	// failed counts allocations that found no free frame. Protected by mu.
	failed uint64

	// The fields below are immutable after New.
	dm           *directmap.Map
	frames       uint64
	usable       uint64
	bitmapBase   hostarch.PhysicalAddr
	bitmapFrames uint64
	warn         log.Logger
}

// Stats is a snapshot of allocator state.
type Stats struct {
	// Frames is the number of frames the bitmap tracks, usable or not.
	Frames uint64

	// UsableFrames is the number of frames wholly inside usable regions.
	UsableFrames uint64

	// FreeFrames is the number of frames available for allocation.
	FreeFrames uint64

	// BitmapBase and BitmapFrames locate the frames holding the bitmap.
	BitmapBase   hostarch.PhysicalAddr
	BitmapFrames uint64

	// FailedAllocs counts allocations that found memory exhausted.
	FailedAllocs uint64
}

// Allocated returns the number of usable frames currently owned by someone,
// including the bitmap's own frames.
func (s Stats) Allocated() uint64 {
	return s.UsableFrames - s.FreeFrames
}

// usableFrames returns the frame numbers [first, last) wholly inside r.
func usableFrames(r boot.Region) (first, last uint64) {
	start, ok := r.Base.RoundUp()
	if !ok {
		return 0, 0
	}
	end, ok := r.End()
	if !ok {
		end = hostarch.PhysicalAddr(math.MaxUint64)
	}
	end = end.RoundDown()
	if end <= start {
		return 0, 0
	}
	return uint64(start) >> hostarch.PageShift, uint64(end) >> hostarch.PageShift
}

// New builds an allocator for the usable regions of info.
//
// Frame zero is never available, since the zero Frame means "no frame". The
// frames holding the bitmap are marked unavailable as well: the bitmap is
// their owner for the life of the allocator.
func New(info boot.Info) (*Allocator, error) {
	if info.DirectMap == nil {
		return nil, ErrNoDirectMap
	}

	var (
		end   hostarch.PhysicalAddr
		found bool
	)
	for _, r := range info.Regions {
		if r.Kind != boot.Usable {
			continue
		}
		re, ok := r.End()
		if !ok {
			return nil, fmt.Errorf("usable region %v: %w", r, ErrBitmapOverflow)
		}
		found = true
		end = max(end, re)
	}
	if !found {
		return nil, ErrNoUsableMemory
	}

	frames := hostarch.DivRoundUp(uint64(end), hostarch.PageSize)
	size := hostarch.DivRoundUp(frames, 8)
	hostSize, ok := hostarch.RoundUpTo(size, hostarch.PageSize)
	if !ok || hostSize > math.MaxInt {
		return nil, fmt.Errorf("%d frames: %w", frames, ErrBitmapOverflow)
	}

	var base hostarch.PhysicalAddr
	found = false
	for _, r := range info.Regions {
		if r.Kind != boot.Usable {
			continue
		}
		first, last := usableFrames(r)
		if last-first < hostSize>>hostarch.PageShift {
			continue
		}
		candidate := hostarch.PhysicalAddr(first << hostarch.PageShift)
		if !info.DirectMap.Covers(candidate, hostSize) {
			continue
		}
		base, found = candidate, true
		break
	}
	if !found {
		return nil, fmt.Errorf("bitmap of %#x bytes: %w", hostSize, ErrNoBitmapStorage)
	}

	a := &Allocator{
		bits:         bitmap.FromBytes(info.DirectMap.Bytes(base, size)),
		dm:           info.DirectMap,
		frames:       frames,
		bitmapBase:   base,
		bitmapFrames: hostSize >> hostarch.PageShift,
		warn:         log.BasicRateLimitedLogger(exhaustionLogInterval),
	}
	a.bits.Fill()
	for _, r := range info.Regions {
		if r.Kind != boot.Usable {
			continue
		}
		first, last := usableFrames(r)
		a.bits.ClearRange(first, min(last, frames))
	}
	a.usable = a.bits.Size() - a.bits.GetNumOnes()

	first := uint64(base) >> hostarch.PageShift
	a.bits.SetRange(first, first+a.bitmapFrames)
	a.bits.Add(0)

	log.Infof("Frame allocator: %d frames tracked up to %v, %d usable, bitmap of %#x bytes at %v", frames, end, a.usable, size, base)
	return a, nil
}

// Available reports whether f is free. Frames beyond the tracked range are
// never available.
func (a *Allocator) Available(f mm.Frame) bool {
	n := f.Number()
	if n >= a.frames {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.bits.IsSet(n)
}

// Alloc returns the lowest-numbered free frame and marks it unavailable. ok
// is false if memory is exhausted.
func (a *Allocator) Alloc() (f mm.Frame, ok bool) {
	a.mu.Lock()
	n, err := a.bits.FirstZero(0)
	if err != nil {
		a.failed++
		a.mu.Unlock()
		a.warn.Warningf("Physical memory exhausted: %d usable frames all in use", a.usable)
		return mm.Frame{}, false
	}
	a.bits.Add(n)
	a.mu.Unlock()
	return mm.FrameFromNumber(n), true
}

// AllocZeroed is Alloc followed by zeroing the frame through the direct map.
func (a *Allocator) AllocZeroed() (mm.Frame, bool) {
	f, ok := a.Alloc()
	if !ok {
		return f, false
	}
	clear(a.Bytes(f))
	return f, true
}

// Dealloc returns f to the allocator.
//
// Precondition: f was returned by Alloc or AllocZeroed and has not been
// deallocated since. Violations are not detected.
func (a *Allocator) Dealloc(f mm.Frame) {
	n := f.Number()
	if n >= a.frames {
		panic(fmt.Sprintf("Dealloc(%v): frame beyond the end of tracked memory", f))
	}
	a.mu.Lock()
	a.bits.Remove(n)
	a.mu.Unlock()
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Frames:       a.frames,
		UsableFrames: a.usable,
		FreeFrames:   a.bits.Size() - a.bits.GetNumOnes(),
		BitmapBase:   a.bitmapBase,
		BitmapFrames: a.bitmapFrames,
		FailedAllocs: a.failed,
	}
}

// DirectMap returns the direct map the allocator reaches memory through.
func (a *Allocator) DirectMap() *directmap.Map {
	return a.dm
}

// Bytes returns the contents of f.
func (a *Allocator) Bytes(f mm.Frame) []byte {
	return a.dm.Bytes(f.Addr(), hostarch.PageSize)
}
