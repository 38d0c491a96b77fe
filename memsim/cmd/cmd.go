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

// Package cmd holds implementations of the memsim commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"freelsd.dev/memcore/memsim/config"
	"freelsd.dev/memcore/pkg/boot"
	"freelsd.dev/memcore/pkg/kernel"
	"freelsd.dev/memcore/pkg/log"
	"github.com/google/subcommands"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by the user, in addition to the debug log.
var ErrorLogger io.Writer = os.Stderr

// Output is where command results are written.
var Output io.Writer = os.Stdout

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(ErrorLogger, "memsim: "+format+"\n", args...)
	os.Exit(128)
}

// Errorf logs a failure and returns the status a command should exit with.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, "memsim: "+format+"\n", args...)
	return subcommands.ExitFailure
}

// machine is an emulated machine with its memory core bootstrapped.
type machine struct {
	*boot.Machine
	kernel *kernel.Kernel
}

// bootMachine emulates the machine described by conf and brings up the
// memory core on it. The caller must Close the machine.
func bootMachine(conf *config.Config) (*machine, error) {
	layout, err := conf.LoadLayout()
	if err != nil {
		return nil, err
	}
	m, err := boot.Emulate(layout, conf.MaxMemory)
	if err != nil {
		return nil, err
	}
	k, err := kernel.Bootstrap(m.Info())
	if err != nil {
		m.Close()
		return nil, err
	}
	return &machine{Machine: m, kernel: k}, nil
}

// confFrom extracts the configuration passed to Execute.
func confFrom(args []any) *config.Config {
	return args[0].(*config.Config)
}
