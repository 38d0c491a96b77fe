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

package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"freelsd.dev/memcore/memsim/config"
	"freelsd.dev/memcore/pkg/boot"
	"freelsd.dev/memcore/pkg/kernel"
	"freelsd.dev/memcore/pkg/mm"
	"freelsd.dev/memcore/pkg/pagetables"
	"github.com/google/go-cmp/cmp"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Output
	Output = &buf
	t.Cleanup(func() { Output = old })
	return &buf
}

func newMachine(t *testing.T) *machine {
	t.Helper()
	m, err := bootMachine(&config.Config{LogFormat: "text", MaxMemory: boot.DefaultMaxMemory})
	if err != nil {
		t.Fatalf("bootMachine failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestWriteLayoutRoundTrip(t *testing.T) {
	for _, format := range []boot.Format{boot.FormatTOML, boot.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			buf := captureOutput(t)
			if err := writeLayout(boot.DefaultLayout(), string(format)); err != nil {
				t.Fatalf("writeLayout failed: %v", err)
			}
			got, err := boot.ParseLayout(buf.Bytes(), format)
			if err != nil {
				t.Fatalf("ParseLayout failed: %v\n%s", err, buf.String())
			}
			if diff := cmp.Diff(boot.DefaultLayout(), got); diff != "" {
				t.Errorf("layout mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteLayoutTable(t *testing.T) {
	buf := captureOutput(t)
	if err := writeLayout(boot.DefaultLayout(), "table"); err != nil {
		t.Fatalf("writeLayout failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"BASE", "kernel-and-modules", "acpi-reclaimable", "123.6MiB", "131MiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
	if err := writeLayout(boot.DefaultLayout(), "xml"); err == nil {
		t.Errorf("writeLayout accepted an unknown format")
	}
}

func TestHumanSize(t *testing.T) {
	for _, tc := range []struct {
		n    uint64
		want string
	}{
		{512, "512B"},
		{4096, "4KiB"},
		{0x9e000, "632KiB"},
		{3 << 20, "3MiB"},
		{1536 << 20, "1.5GiB"},
	} {
		if got := humanSize(tc.n); got != tc.want {
			t.Errorf("humanSize(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestMapAndRelease(t *testing.T) {
	for _, flags := range []pagetables.Flags{
		pagetables.Present | pagetables.Writable,
		pagetables.Present | pagetables.Writable | pagetables.Shared,
	} {
		t.Run(flags.String(), func(t *testing.T) {
			m := newMachine(t)
			buf := captureOutput(t)
			before := m.kernel.Frames.Stats().FreeFrames

			// Sixteen pages straddling an L1 table boundary.
			first := mm.PageContaining(0x1f_8000)
			if err := mapAndRelease(m.kernel, first, 16, flags); err != nil {
				t.Fatalf("mapAndRelease failed: %v", err)
			}
			if got := m.kernel.Frames.Stats().FreeFrames; got != before {
				t.Errorf("FreeFrames = %d, want %d", got, before)
			}
			if !strings.Contains(buf.String(), "16 pages mapped, 21 frames in use (5 tables)") {
				t.Errorf("unexpected output:\n%s", buf.String())
			}
		})
	}
}

func TestMapAndReleaseLeavesLowerHalf(t *testing.T) {
	m := newMachine(t)
	captureOutput(t)
	before := m.kernel.Frames.Stats().FreeFrames

	err := mapAndRelease(m.kernel, mm.PageContaining(0x7fff_ffff_e000), 4, pagetables.Present|pagetables.Writable)
	if err == nil || !strings.Contains(err.Error(), "canonical") {
		t.Fatalf("mapAndRelease across the canonical hole = %v, want error", err)
	}
	if got := m.kernel.Frames.Stats().FreeFrames; got != before {
		t.Errorf("FreeFrames = %d, want %d", got, before)
	}
}

func TestStress(t *testing.T) {
	m := newMachine(t)
	s := &Stress{workers: 4, pages: 64, rounds: 3, maxRetries: 4}
	if err := s.run(context.Background(), m.kernel); err != nil {
		t.Fatalf("stress run failed: %v", err)
	}
	if got := m.kernel.Metrics.Values()["address_spaces_total"]; got != 12 {
		t.Errorf("address_spaces_total = %d, want 12", got)
	}
}

func TestStressExhaustion(t *testing.T) {
	// Only a few hundred frames: the workers cannot all fit at once and
	// some run out of retries.
	mach, err := boot.Emulate(boot.Layout{Regions: []boot.Region{
		{Base: 0x1000, Length: 0xff000, Kind: boot.Usable},
	}}, 0)
	if err != nil {
		t.Fatalf("Emulate failed: %v", err)
	}
	defer mach.Close()
	k, err := kernel.Bootstrap(mach.Info())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	before := k.Frames.Stats().FreeFrames

	s := &Stress{workers: 4, pages: 300, rounds: 1, maxRetries: 1}
	if err := s.run(context.Background(), k); err == nil {
		t.Errorf("stress run succeeded with %d frames for %d pages", before, s.pages*uint64(s.workers))
	}
	if got := k.Frames.Stats().FreeFrames; got != before {
		t.Errorf("FreeFrames = %d after failed run, want %d", got, before)
	}
}
