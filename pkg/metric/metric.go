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

// Package metric provides primitives for collecting metrics and exporting
// them in the Prometheus text format.
package metric

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"freelsd.dev/memcore/pkg/sync"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
	"google.golang.org/protobuf/proto"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not a valid
	// Prometheus metric name.
	ErrInvalidName = errors.New("invalid metric name")
)

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored.
type Uint64Metric struct {
	value atomic.Uint64
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// Value returns the current value of the metric.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

type registration struct {
	name       string
	help       string
	cumulative bool
	value      func() uint64
}

func (r *registration) family(prefix string) *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	m := &dto.Metric{}
	v := float64(r.value())
	if r.cumulative {
		typ = dto.MetricType_COUNTER
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	}
	return &dto.MetricFamily{
		Name:   proto.String(prefix + r.name),
		Help:   proto.String(r.help),
		Type:   typ.Enum(),
		Metric: []*dto.Metric{m},
	}
}

// Registry is a set of named metrics.
type Registry struct {
	prefix string

	mu      sync.Mutex
	metrics map[string]*registration
}

// NewRegistry returns an empty registry. prefix is prepended to every metric
// name on export.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix:  prefix,
		metrics: make(map[string]*registration),
	}
}

// RegisterCustomUint64Metric registers a metric whose value is computed by
// value at export time. Cumulative metrics are exported as counters, others as
// gauges.
func (r *Registry) RegisterCustomUint64Metric(name string, cumulative bool, help string, value func() uint64) error {
	if !model.IsValidMetricName(model.LabelValue(r.prefix + name)) {
		return fmt.Errorf("%q: %w", r.prefix+name, ErrInvalidName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[name]; ok {
		return fmt.Errorf("%q: %w", name, ErrNameInUse)
	}
	r.metrics[name] = &registration{
		name:       name,
		help:       help,
		cumulative: cumulative,
		value:      value,
	}
	return nil
}

// NewUint64Metric creates and registers a new metric holding its own value.
func (r *Registry) NewUint64Metric(name string, cumulative bool, help string) (*Uint64Metric, error) {
	var m Uint64Metric
	if err := r.RegisterCustomUint64Metric(name, cumulative, help, m.Value); err != nil {
		return nil, err
	}
	return &m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func (r *Registry) MustCreateNewUint64Metric(name string, cumulative bool, help string) *Uint64Metric {
	m, err := r.NewUint64Metric(name, cumulative, help)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %v", name, err))
	}
	return m
}

func (r *Registry) sorted() []*registration {
	r.mu.Lock()
	regs := make([]*registration, 0, len(r.metrics))
	for _, reg := range r.metrics {
		regs = append(regs, reg)
	}
	r.mu.Unlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].name < regs[j].name })
	return regs
}

// Values returns the current value of every metric, keyed by unprefixed name.
func (r *Registry) Values() map[string]uint64 {
	values := make(map[string]uint64)
	for _, reg := range r.sorted() {
		values[reg.name] = reg.value()
	}
	return values
}

// Families returns a snapshot of every metric as Prometheus metric families,
// sorted by name.
func (r *Registry) Families() []*dto.MetricFamily {
	regs := r.sorted()
	families := make([]*dto.MetricFamily, 0, len(regs))
	for _, reg := range regs {
		families = append(families, reg.family(r.prefix))
	}
	return families
}

// WriteText writes a snapshot of every metric to w in the Prometheus text
// exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	for _, mf := range r.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
