// Copyright 2018 The gVisor Authors.
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

package metric

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func TestRegister(t *testing.T) {
	r := NewRegistry("memcore_")
	if _, err := r.NewUint64Metric("allocs_total", true, "Allocations."); err != nil {
		t.Fatalf("NewUint64Metric failed: %v", err)
	}
	if _, err := r.NewUint64Metric("allocs_total", false, "Again."); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric = %v, want %v", err, ErrNameInUse)
	}
	if err := r.RegisterCustomUint64Metric("/frames/free", false, "Free frames.", func() uint64 { return 0 }); !errors.Is(err, ErrInvalidName) {
		t.Errorf("RegisterCustomUint64Metric with a bad name = %v, want %v", err, ErrInvalidName)
	}
}

func TestMustCreatePanics(t *testing.T) {
	r := NewRegistry("")
	r.MustCreateNewUint64Metric("x", false, "")
	defer func() {
		if recover() == nil {
			t.Errorf("MustCreateNewUint64Metric did not panic on a duplicate name")
		}
	}()
	r.MustCreateNewUint64Metric("x", false, "")
}

func TestValues(t *testing.T) {
	r := NewRegistry("memcore_")
	m := r.MustCreateNewUint64Metric("maps_total", true, "Mappings installed.")
	free := uint64(42)
	if err := r.RegisterCustomUint64Metric("frames_free", false, "Free frames.", func() uint64 { return free }); err != nil {
		t.Fatalf("RegisterCustomUint64Metric failed: %v", err)
	}
	m.Increment()
	m.IncrementBy(2)
	free = 7

	want := map[string]uint64{"maps_total": 3, "frames_free": 7}
	if diff := cmp.Diff(want, r.Values()); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteText(t *testing.T) {
	r := NewRegistry("memcore_")
	r.MustCreateNewUint64Metric("maps_total", true, "Mappings installed.").IncrementBy(5)
	if err := r.RegisterCustomUint64Metric("frames_free", false, "Free frames.", func() uint64 { return 1024 }); err != nil {
		t.Fatalf("RegisterCustomUint64Metric failed: %v", err)
	}

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("exported text does not parse: %v", err)
	}

	for _, tc := range []struct {
		name  string
		typ   dto.MetricType
		value float64
	}{
		{name: "memcore_maps_total", typ: dto.MetricType_COUNTER, value: 5},
		{name: "memcore_frames_free", typ: dto.MetricType_GAUGE, value: 1024},
	} {
		mf, ok := parsed[tc.name]
		if !ok {
			t.Errorf("metric %q missing from export", tc.name)
			continue
		}
		if mf.GetType() != tc.typ {
			t.Errorf("metric %q has type %v, want %v", tc.name, mf.GetType(), tc.typ)
		}
		m := mf.GetMetric()[0]
		got := m.GetGauge().GetValue()
		if tc.typ == dto.MetricType_COUNTER {
			got = m.GetCounter().GetValue()
		}
		if got != tc.value {
			t.Errorf("metric %q = %v, want %v", tc.name, got, tc.value)
		}
	}
}

func TestRuntimeMetric(t *testing.T) {
	r := NewRegistry("go_")
	if _, err := r.NewRuntimeUint64Metric("heap_objects", "/gc/heap/objects:objects"); err != nil {
		t.Fatalf("NewRuntimeUint64Metric failed: %v", err)
	}
	if _, ok := r.Values()["heap_objects"]; !ok {
		t.Errorf("runtime metric not registered")
	}
	if _, err := r.NewRuntimeUint64Metric("nope", "/does/not:exist"); err == nil {
		t.Errorf("NewRuntimeUint64Metric accepted an unknown runtime metric")
	}
	if _, err := r.NewRuntimeUint64Metric("latencies", "/sched/latencies:seconds"); err == nil {
		t.Errorf("NewRuntimeUint64Metric accepted a histogram")
	} else if !strings.Contains(err.Error(), "incorrect kind") {
		t.Errorf("NewRuntimeUint64Metric(histogram) error = %v, want incorrect kind", err)
	}
}
