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

package hostarch

import (
	"math"
	"testing"
)

func TestPhysicalAddrRounding(t *testing.T) {
	for _, tc := range []struct {
		addr    PhysicalAddr
		down    PhysicalAddr
		up      PhysicalAddr
		upOK    bool
		aligned bool
	}{
		{addr: 0, down: 0, up: 0, upOK: true, aligned: true},
		{addr: 1, down: 0, up: PageSize, upOK: true},
		{addr: PageSize, down: PageSize, up: PageSize, upOK: true, aligned: true},
		{addr: 0x12345, down: 0x12000, up: 0x13000, upOK: true},
		{addr: math.MaxUint64, down: math.MaxUint64 &^ PageMask, up: 0, upOK: false},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() = %v, want %v", tc.addr, got, tc.down)
		}
		up, ok := tc.addr.RoundUp()
		if ok != tc.upOK || (ok && up != tc.up) {
			t.Errorf("%v.RoundUp() = (%v, %t), want (%v, %t)", tc.addr, up, ok, tc.up, tc.upOK)
		}
		if got := tc.addr.IsPageAligned(); got != tc.aligned {
			t.Errorf("%v.IsPageAligned() = %t, want %t", tc.addr, got, tc.aligned)
		}
	}
}

func TestAddLength(t *testing.T) {
	if end, ok := PhysicalAddr(0x1000).AddLength(0x2000); !ok || end != 0x3000 {
		t.Errorf("AddLength = (%v, %t), want (0x3000, true)", end, ok)
	}
	if _, ok := PhysicalAddr(math.MaxUint64 - 1).AddLength(2); ok {
		t.Errorf("AddLength overflow not detected")
	}
}

func TestDivRoundUp(t *testing.T) {
	for _, tc := range []struct{ n, d, want uint64 }{
		{0, 8, 0},
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 2},
		{math.MaxUint64, 8, math.MaxUint64/8 + 1},
	} {
		if got := DivRoundUp(tc.n, tc.d); got != tc.want {
			t.Errorf("DivRoundUp(%d, %d) = %d, want %d", tc.n, tc.d, got, tc.want)
		}
	}
}
