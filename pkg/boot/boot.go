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

// Package boot describes what the bootloader hands the memory core: the
// physical memory map and the direct-map offset.
//
// On real hardware both come from the boot protocol. Emulate builds the same
// information for a hosted process by reserving an anonymous arena that
// stands in for physical memory.
package boot

import (
	"errors"
	"fmt"

	"freelsd.dev/memcore/pkg/directmap"
	"freelsd.dev/memcore/pkg/hostarch"
	"gopkg.in/yaml.v3"
)

// Kind classifies a memory region, following the Limine memory map entry
// types.
type Kind uint8

const (
	// Usable memory may be handed to the frame allocator.
	Usable Kind = iota
	Reserved
	ACPIReclaimable
	ACPINVS
	BadMemory
	BootloaderReclaimable
	KernelAndModules
	Framebuffer
)

var kindNames = [...]string{
	Usable:                "usable",
	Reserved:              "reserved",
	ACPIReclaimable:       "acpi-reclaimable",
	ACPINVS:               "acpi-nvs",
	BadMemory:             "bad-memory",
	BootloaderReclaimable: "bootloader-reclaimable",
	KernelAndModules:      "kernel-and-modules",
	Framebuffer:           "framebuffer",
}

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (k Kind) MarshalText() ([]byte, error) {
	if int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown region kind %d", uint8(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown region kind %q", text)
}

// UnmarshalYAML implements yaml.Unmarshaler.UnmarshalYAML.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	return k.UnmarshalText([]byte(value.Value))
}

// Region is one entry of the physical memory map.
type Region struct {
	Base   hostarch.PhysicalAddr `toml:"base" yaml:"base"`
	Length uint64                `toml:"length" yaml:"length"`
	Kind   Kind                  `toml:"kind" yaml:"kind"`
}

// End returns the first address past the region. ok is false if the region
// wraps the address space.
func (r Region) End() (end hostarch.PhysicalAddr, ok bool) {
	return r.Base.AddLength(r.Length)
}

// Contains returns true if pa is inside the region.
func (r Region) Contains(pa hostarch.PhysicalAddr) bool {
	end, ok := r.End()
	return pa >= r.Base && (!ok || pa < end)
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("[%v, +%#x) %v", r.Base, r.Length, r.Kind)
}

// Errors returned by Layout.Validate.
var (
	ErrEmptyLayout     = errors.New("memory map has no regions")
	ErrEmptyRegion     = errors.New("memory region has zero length")
	ErrRegionOverflow  = errors.New("memory region wraps the physical address space")
	ErrOverlap         = errors.New("memory regions overlap")
	ErrArenaTooLarge   = errors.New("memory map exceeds the emulation limit")
	ErrUnknownFormat   = errors.New("unknown memory map format")
	ErrUndecodedFields = errors.New("memory map has unknown fields")
)

// Layout is an ordered physical memory map.
type Layout struct {
	Regions []Region `toml:"region" yaml:"regions"`
}

// Validate checks that the layout is usable as a memory map: at least one
// region, no empty or wrapping regions, and no overlaps.
func (l Layout) Validate() error {
	if len(l.Regions) == 0 {
		return ErrEmptyLayout
	}
	for i, r := range l.Regions {
		if r.Length == 0 {
			return fmt.Errorf("region %d %v: %w", i, r, ErrEmptyRegion)
		}
		if _, ok := r.End(); !ok {
			return fmt.Errorf("region %d %v: %w", i, r, ErrRegionOverflow)
		}
	}
	_, err := NewIndex(l.Regions)
	return err
}

// Highest returns the end of the highest region of any kind.
func (l Layout) Highest() hostarch.PhysicalAddr {
	var highest hostarch.PhysicalAddr
	for _, r := range l.Regions {
		if end, ok := r.End(); ok && end > highest {
			highest = end
		}
	}
	return highest
}

// DefaultLayout returns a 128MiB memory map resembling what Limine reports
// for a QEMU machine.
func DefaultLayout() Layout {
	return Layout{Regions: []Region{
		{Base: 0x0000_1000, Length: 0x0009_e000, Kind: Usable},
		{Base: 0x0009_fc00, Length: 0x0000_0400, Kind: Reserved},
		{Base: 0x000f_0000, Length: 0x0001_0000, Kind: Reserved},
		{Base: 0x0010_0000, Length: 0x0030_0000, Kind: KernelAndModules},
		{Base: 0x0040_0000, Length: 0x07b0_0000, Kind: Usable},
		{Base: 0x07f0_0000, Length: 0x000e_0000, Kind: BootloaderReclaimable},
		{Base: 0x07fe_0000, Length: 0x0002_0000, Kind: ACPIReclaimable},
		{Base: 0x0800_0000, Length: 0x0030_0000, Kind: Framebuffer},
	}}
}

// Info is everything the memory core consumes from the boot collaborator.
// It is discovered once and never revised.
type Info struct {
	// Regions is the ordered physical memory map.
	Regions []Region

	// DirectMap makes all physical memory accessible.
	DirectMap *directmap.Map
}
