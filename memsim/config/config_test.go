// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"freelsd.dev/memcore/pkg/boot"
	"github.com/google/go-cmp/cmp"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return fs
}

func TestDefaults(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	want := &Config{LogFormat: "text", MaxMemory: boot.DefaultMaxMemory}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
	if flags := c.ToFlags(); len(flags) != 0 {
		t.Errorf("ToFlags() = %v for the default config, want none", flags)
	}
}

func TestFromFlags(t *testing.T) {
	args := []string{"--layout=map.toml", "--log=/tmp/logs/", "--log-format=json", "--debug", "--max-memory=4096"}
	c, err := NewFromFlags(newFlagSet(t, args...))
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	want := &Config{
		Layout:      "map.toml",
		LogFilename: "/tmp/logs/",
		LogFormat:   "json",
		Debug:       true,
		MaxMemory:   4096,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}

	// ToFlags round-trips.
	again, err := NewFromFlags(newFlagSet(t, c.ToFlags()...))
	if err != nil {
		t.Fatalf("NewFromFlags(ToFlags()) failed: %v", err)
	}
	if diff := cmp.Diff(c, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, args := range [][]string{
		{"--log-format=xml"},
		{"--max-memory=0"},
	} {
		if _, err := NewFromFlags(newFlagSet(t, args...)); err == nil {
			t.Errorf("NewFromFlags(%v) succeeded", args)
		}
	}
}

func TestLoadLayout(t *testing.T) {
	c := &Config{}
	l, err := c.LoadLayout()
	if err != nil {
		t.Fatalf("LoadLayout failed: %v", err)
	}
	if diff := cmp.Diff(boot.DefaultLayout(), l); diff != "" {
		t.Errorf("default layout mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "map.yaml")
	data := strings.Join([]string{
		"regions:",
		"  - {base: 0x1000, length: 0x1000, kind: usable}",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	c.Layout = path
	l, err = c.LoadLayout()
	if err != nil {
		t.Fatalf("LoadLayout(%s) failed: %v", path, err)
	}
	if len(l.Regions) != 1 || l.Regions[0].Kind != boot.Usable {
		t.Errorf("LoadLayout(%s) = %+v", path, l)
	}
}
