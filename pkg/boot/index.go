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

package boot

import (
	"fmt"

	"freelsd.dev/memcore/pkg/hostarch"
	"github.com/google/btree"
)

// indexDegree is the btree degree. Memory maps are small.
const indexDegree = 4

// Index is an address-ordered view of a memory map.
type Index struct {
	tree *btree.BTreeG[Region]
}

func regionLess(a, b Region) bool {
	return a.Base < b.Base
}

// NewIndex indexes regions by base address. It returns ErrOverlap if any two
// regions share an address.
func NewIndex(regions []Region) (*Index, error) {
	x := &Index{tree: btree.NewG(indexDegree, regionLess)}
	for _, r := range regions {
		if old, replaced := x.tree.ReplaceOrInsert(r); replaced {
			return nil, fmt.Errorf("%v and %v: %w", old, r, ErrOverlap)
		}
	}

	var (
		prev    Region
		started bool
		err     error
	)
	x.tree.Ascend(func(r Region) bool {
		if started {
			if end, ok := prev.End(); !ok || end > r.Base {
				err = fmt.Errorf("%v and %v: %w", prev, r, ErrOverlap)
				return false
			}
		}
		prev, started = r, true
		return true
	})
	if err != nil {
		return nil, err
	}
	return x, nil
}

// Len returns the number of regions.
func (x *Index) Len() int {
	return x.tree.Len()
}

// RegionFor returns the region containing pa, if any.
func (x *Index) RegionFor(pa hostarch.PhysicalAddr) (Region, bool) {
	var (
		found Region
		ok    bool
	)
	x.tree.DescendLessOrEqual(Region{Base: pa}, func(r Region) bool {
		found, ok = r, r.Contains(pa)
		return false
	})
	return found, ok
}

// Ascend calls fn for each region in address order until fn returns false.
func (x *Index) Ascend(fn func(Region) bool) {
	x.tree.Ascend(btree.ItemIteratorG[Region](fn))
}
