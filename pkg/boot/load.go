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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is a memory map file format.
type Format string

const (
	// FormatTOML is a TOML document with one [[region]] table per region.
	FormatTOML Format = "toml"

	// FormatYAML is a YAML document with a "regions" sequence.
	FormatYAML Format = "yaml"
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%q: %w", path, ErrUnknownFormat)
	}
}

// LoadLayout reads and validates a memory map from path.
func LoadLayout(path string) (Layout, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return Layout{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("reading memory map: %w", err)
	}
	l, err := ParseLayout(data, format)
	if err != nil {
		return Layout{}, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// ParseLayout decodes and validates a memory map. Unknown fields are
// rejected.
func ParseLayout(data []byte, format Format) (Layout, error) {
	var l Layout
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(data), &l)
		if err != nil {
			return Layout{}, fmt.Errorf("decoding TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Layout{}, fmt.Errorf("%v: %w", undecoded, ErrUndecodedFields)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&l); err != nil {
			return Layout{}, fmt.Errorf("decoding YAML: %w", err)
		}
	default:
		return Layout{}, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}
