// Copyright 2021 The gVisor Authors.
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

// Package bitmap provides a fixed-size bitmap over caller-provided storage.
//
// Bits are numbered most-significant first within each byte: bit i is
// stored in byte i/8 at mask 0x80>>(i%8). This matches the layout the frame
// allocator keeps in physical memory.
package bitmap

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"
)

var (
	// ErrNoUnsetBits is returned by FirstZero when every bit from the
	// starting point on is set.
	ErrNoUnsetBits = errors.New("bitmap has no unset bits")

	// ErrOutOfRange is returned by FirstZero when the starting bit is
	// beyond the end of the bitmap.
	ErrOutOfRange = errors.New("given start of range exceeds bitmap size")
)

// Bitmap implements a bitmap whose storage is owned by someone else, e.g. a
// region of physical memory.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// bytes holds the bits. Its length never changes.
	bytes []byte
}

// FromBytes returns a Bitmap using b as storage. The current contents of b
// are kept.
func FromBytes(b []byte) Bitmap {
	bm := Bitmap{bytes: b}
	bm.numOnes = countOnes(b)
	return bm
}

// Size returns the total number of bits in the bitmap.
func (b *Bitmap) Size() uint64 {
	return uint64(len(b.bytes)) * 8
}

// Bytes returns the underlying storage.
func (b *Bitmap) Bytes() []byte {
	return b.bytes
}

// GetNumOnes returns the number of ones in the bitmap.
func (b *Bitmap) GetNumOnes() uint64 {
	return b.numOnes
}

func mask(i uint64) byte {
	return 0x80 >> (i % 8)
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint64) bool {
	return b.bytes[i/8]&mask(i) != 0
}

// Add sets bit i.
func (b *Bitmap) Add(i uint64) {
	old := b.bytes[i/8]
	if updated := old | mask(i); updated != old {
		b.bytes[i/8] = updated
		b.numOnes++
	}
}

// Remove clears bit i.
func (b *Bitmap) Remove(i uint64) {
	old := b.bytes[i/8]
	if updated := old &^ mask(i); updated != old {
		b.bytes[i/8] = updated
		b.numOnes--
	}
}

// Fill sets every bit.
func (b *Bitmap) Fill() {
	for i := range b.bytes {
		b.bytes[i] = 0xFF
	}
	b.numOnes = b.Size()
}

// FirstZero returns the first unset bit in the range [start, ).
func (b *Bitmap) FirstZero(start uint64) (uint64, error) {
	if start >= b.Size() {
		return 0, ErrOutOfRange
	}
	i, n := start/8, uint64(len(b.bytes))

	// Bits of the first byte that come before start count as set.
	if off := start % 8; off != 0 {
		if w := b.bytes[i] | ^(byte(0xFF) >> off); w != 0xFF {
			return i*8 + uint64(bits.LeadingZeros8(^w)), nil
		}
		i++
	}

	// Read whole words while we can. Big-endian keeps byte order and bit
	// order aligned, so the first zero in the word is the first zero bit.
	for ; i+8 <= n; i += 8 {
		if w := binary.BigEndian.Uint64(b.bytes[i:]); w != math.MaxUint64 {
			return i*8 + uint64(bits.LeadingZeros64(^w)), nil
		}
	}
	for ; i < n; i++ {
		if w := b.bytes[i]; w != 0xFF {
			return i*8 + uint64(bits.LeadingZeros8(^w)), nil
		}
	}
	return 0, ErrNoUnsetBits
}

// SetRange sets bits within range (begin and end). begin is inclusive and end
// is exclusive.
func (b *Bitmap) SetRange(begin, end uint64) {
	b.updateRange(begin, end, true)
}

// ClearRange clears bits within range (begin and end). begin is inclusive and
// end is exclusive.
func (b *Bitmap) ClearRange(begin, end uint64) {
	b.updateRange(begin, end, false)
}

func (b *Bitmap) updateRange(begin, end uint64, set bool) {
	if begin >= end {
		return
	}
	firstByte, lastByte := begin/8, (end-1)/8
	oldOnes := countOnes(b.bytes[firstByte : lastByte+1])

	fill := byte(0)
	if set {
		fill = 0xFF
	}
	for i := begin; i < end; {
		// Whole bytes in the middle of the range are written directly.
		if i%8 == 0 && end-i >= 8 {
			b.bytes[i/8] = fill
			i += 8
			continue
		}
		if set {
			b.bytes[i/8] |= mask(i)
		} else {
			b.bytes[i/8] &^= mask(i)
		}
		i++
	}

	b.numOnes += countOnes(b.bytes[firstByte:lastByte+1]) - oldOnes
}

func countOnes(bs []byte) uint64 {
	ones := uint64(0)
	for _, v := range bs {
		ones += uint64(bits.OnesCount8(v))
	}
	return ones
}
