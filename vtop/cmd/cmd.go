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

// Package cmd holds implementations of the vtop commands.
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"gvisor.dev/vtop/pkg/abi/nt"
	"gvisor.dev/vtop/pkg/cleanup"
	"gvisor.dev/vtop/pkg/kernel"
	"gvisor.dev/vtop/pkg/log"
	"gvisor.dev/vtop/pkg/platform"
	"gvisor.dev/vtop/vtop/config"
)

// pidFlag is the default for commands taking a -pid flag.
const pidFlag = kernel.SystemProcessID

// parseAddress parses a hexadecimal address, with or without a 0x prefix.
// Backticks, as printed by kernel debuggers, are ignored.
func parseAddress(s string) (uint64, error) {
	clean := strings.ReplaceAll(s, "`", "")
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

// parsePID validates a -pid flag value.
func parsePID(pid uint) (uint32, error) {
	if uint64(pid) > 1<<32-1 {
		return 0, fmt.Errorf("pid %d is out of range", pid)
	}
	return uint32(pid), nil
}

// attach sets up the platform selected by conf and initializes kernel
// execution through it. The returned platform must be closed.
func attach(conf *config.Config) (*kernel.Kernel, platform.Platform, error) {
	layouts, err := nt.Get(conf.Layouts)
	if err != nil {
		return nil, nil, err
	}
	ctor, err := platform.Lookup(conf.Platform)
	if err != nil {
		return nil, nil, err
	}
	p, err := ctor.New(platform.Options{Manifest: conf.Manifest, Layouts: layouts})
	if err != nil {
		return nil, nil, fmt.Errorf("creating platform %q: %w", conf.Platform, err)
	}
	cu := cleanup.Make(func() { p.Close() })
	defer cu.Clean()

	build := uint32(conf.KernelBuild)
	if build == 0 {
		build = p.KernelBuild()
	}
	layout, err := layouts.Lookup(build)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Kernel build %d, process layout %q: directory table base at %#x (%d bytes)", build, layout.Name, layout.DirectoryTableBase.Offset, layout.DirectoryTableBase.Size)

	k := kernel.New(p, layout)
	if err := k.Init(conf.Image, conf.Export); err != nil {
		return nil, nil, err
	}
	cu.Release()
	return k, p, nil
}
