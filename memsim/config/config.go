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

// Package config provides basic infrastructure to set configuration settings
// for memsim. Each setting that can be changed from the command line must be
// added to Config and registered in RegisterFlags.
package config

import (
	"fmt"
	"reflect"

	"freelsd.dev/memcore/pkg/boot"
	"freelsd.dev/memcore/pkg/log"
)

// Config holds configuration that is not part of a memory map.
type Config struct {
	// Layout is the path of a TOML or YAML memory map. Empty means the
	// built-in default layout.
	Layout string `flag:"layout"`

	// LogFilename is the filename to log to, if not empty. It may contain
	// %TIMESTAMP% and %COMMAND%.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: text, json or json-k8s.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// MaxMemory bounds the emulated physical address space, in bytes.
	MaxMemory uint64 `flag:"max-memory"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if c.MaxMemory == 0 {
		return fmt.Errorf("--max-memory must be positive")
	}
	return nil
}

// LoadLayout returns the memory map the configuration names.
func (c *Config) LoadLayout() (boot.Layout, error) {
	if c.Layout == "" {
		return boot.DefaultLayout(), nil
	}
	return boot.LoadLayout(c.Layout)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("\t%s (--%s): %v", f.Name, name, obj.Field(i).Interface())
		}
	}
}
