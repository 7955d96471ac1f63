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

// Package kernel reads kernel state through a platform.
//
// Physical memory is read by mapping the physical range and copying it out
// with the kernel's own memcpy, invoked in kernel context. Process
// directory table bases are read from process objects in kernel virtual
// memory, at the offset given by the kernel structure layout.
//
// A Kernel implements pagetables.PhysicalReader and
// pagetables.DirectoryResolver, so it can drive a pagetables.Walker.
package kernel

import (
	"fmt"
	"sync/atomic"
	"time"

	"gvisor.dev/vtop/pkg/abi/nt"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/log"
	"gvisor.dev/vtop/pkg/pagetables"
	"gvisor.dev/vtop/pkg/platform"
	"gvisor.dev/vtop/pkg/sync"
)

const (
	// SystemProcessID is the pid of the system process, whose address space
	// holds the kernel.
	SystemProcessID = 4

	// DefaultImage and DefaultExport name the user-mode syscall stub used to
	// enter the kernel.
	DefaultImage  = "ntdll.dll"
	DefaultExport = "NtTraceControl"

	// MemcpyExport is the kernel routine used for every copy.
	MemcpyExport = "memcpy"

	// GetPhysicalAddressExport is the kernel's own translation routine. It
	// is only used to cross-check walks.
	GetPhysicalAddressExport = "MmGetPhysicalAddress"
)

// Kernel reads physical memory and process state of a kernel.
//
// Kernel is safe for concurrent use if its platform is.
type Kernel struct {
	platform platform.Platform
	layout   nt.ProcessLayout

	// initialized is set once Init succeeds.
	initialized atomic.Bool

	// memcpy and getPhysicalAddress resolve their exports on first use. The
	// result, including failure, is kept for the lifetime of the Kernel.
	memcpy             func() (hostarch.Addr, error)
	getPhysicalAddress func() (hostarch.Addr, error)

	// warn reports failed reads without flooding the log when a walk
	// runs over unmapped memory repeatedly.
	warn log.Logger
}

var (
	_ pagetables.PhysicalReader    = (*Kernel)(nil)
	_ pagetables.DirectoryResolver = (*Kernel)(nil)
)

// New returns a Kernel that reads process objects with the given layout.
func New(p platform.Platform, layout nt.ProcessLayout) *Kernel {
	k := &Kernel{
		platform: p,
		layout:   layout,
		warn:     log.BasicRateLimitedLogger(time.Second),
	}
	k.memcpy = k.export(MemcpyExport)
	k.getPhysicalAddress = k.export(GetPhysicalAddressExport)
	return k
}

func (k *Kernel) export(name string) func() (hostarch.Addr, error) {
	return sync.OnceValues(func() (hostarch.Addr, error) {
		addr, err := k.platform.ResolveExport(name)
		if err != nil {
			return 0, fmt.Errorf("%w: resolving %s: %w", ErrExecutionFailed, name, err)
		}
		if addr == 0 {
			return 0, fmt.Errorf("%w: %s resolved to a null address", ErrExecutionFailed, name)
		}
		log.Debugf("Resolved %s at %v", name, addr)
		return addr, nil
	})
}

// Layout returns the process object layout in use.
func (k *Kernel) Layout() nt.ProcessLayout {
	return k.layout
}

// Init sets up kernel execution through the given image export. It must
// succeed before any other method is used.
func (k *Kernel) Init(image, export string) error {
	if err := k.platform.Init(image, export); err != nil {
		return fmt.Errorf("%w: %s!%s: %w", ErrInitializationFailed, image, export, err)
	}
	k.initialized.Store(true)
	log.Infof("Kernel execution set up through %s!%s", image, export)
	return nil
}

func (k *Kernel) checkInitialized() error {
	if !k.initialized.Load() {
		return fmt.Errorf("%w: %w", ErrExecutionFailed, platform.ErrNotInitialized)
	}
	return nil
}
