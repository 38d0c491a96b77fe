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

package sync

import (
	"runtime"
	"sync/atomic"
)

// spinsBeforeYield bounds how long a waiter busy-waits before giving up the
// processor. A freestanding kernel has nothing to yield to and spins forever;
// hosted, yielding keeps a descheduled holder from stalling every waiter.
const spinsBeforeYield = 64

// SpinMutex is a busy-waiting mutual exclusion lock.
//
// A SpinMutex is not recursive and does not mask interrupts. A holder must
// never try to acquire it again, directly or from an interrupt handler on
// the same processor.
//
// The zero value is an unlocked mutex. A SpinMutex must not be copied after
// first use.
type SpinMutex struct {
	_     noCopy
	state atomic.Uint32
}

const (
	unlocked uint32 = iota
	locked
)

// Lock locks m, spinning until it is available.
func (m *SpinMutex) Lock() {
	for spins := 0; !m.state.CompareAndSwap(unlocked, locked); spins++ {
		if spins == spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *SpinMutex) TryLock() bool {
	return m.state.CompareAndSwap(unlocked, locked)
}

// Unlock unlocks m. It panics if m is not locked.
func (m *SpinMutex) Unlock() {
	if !m.state.CompareAndSwap(locked, unlocked) {
		panic("unlock of unlocked SpinMutex")
	}
}

// noCopy may be embedded into structs which must not be copied after first
// use. See go vet's copylocks check.
type noCopy struct{}

// Lock is a no-op used by go vet.
func (*noCopy) Lock() {}

// Unlock is a no-op used by go vet.
func (*noCopy) Unlock() {}

var _ Locker = (*SpinMutex)(nil)
