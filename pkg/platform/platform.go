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

// Package platform provides the kernel execution abstraction consumed by
// the translator.
//
// A Platform supplies the handful of primitives needed to inspect a running
// kernel from the outside: calling kernel routines, mapping physical memory
// and finding process objects. See Platform for more information.
package platform

import (
	"fmt"
	"sort"

	"gvisor.dev/vtop/pkg/abi/nt"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/sync"
)

// Executor runs code in kernel context.
type Executor interface {
	// Init prepares the execution primitive. image names the module whose
	// export serves as the entry trampoline and export names that export.
	// No other method may be called before Init succeeds.
	Init(image, export string) error

	// ResolveExport returns the kernel virtual address of the named kernel
	// export.
	ResolveExport(name string) (hostarch.Addr, error)

	// Invoke calls the kernel routine at fn with the given arguments and
	// returns its result.
	//
	// Arguments that are Go pointers must be pinned by the caller for the
	// duration of the call.
	Invoke(fn hostarch.Addr, args ...uintptr) (uintptr, error)
}

// Mapper maps physical memory into the kernel's view of the caller's
// address space.
type Mapper interface {
	// MapPhysical maps size bytes of physical memory starting at pa and
	// returns the address of the mapping. The mapping must be released with
	// Unmap.
	MapPhysical(pa hostarch.PhysAddr, size uint64) (hostarch.Addr, error)

	// Unmap releases a mapping returned by MapPhysical.
	Unmap(addr hostarch.Addr, size uint64) error
}

// ProcessLookup finds kernel process objects.
type ProcessLookup interface {
	// LookupProcess returns the kernel virtual address of the process
	// object for pid.
	LookupProcess(pid uint32) (hostarch.Addr, error)
}

// Platform is the full set of kernel primitives.
//
// Implementations must be safe for concurrent use; any serialization the
// underlying primitives require is the implementation's responsibility.
type Platform interface {
	Executor
	Mapper
	ProcessLookup

	// KernelBuild returns the build number of the target kernel, or zero if
	// it is not known.
	KernelBuild() uint32

	// Close releases all platform resources.
	Close() error
}

var (
	// ErrNotInitialized is returned by Executor methods called before Init.
	ErrNotInitialized = fmt.Errorf("platform not initialized")

	// ErrNoSuchExport is returned by ResolveExport for an unknown export.
	ErrNoSuchExport = fmt.Errorf("no such export")

	// ErrNoSuchProcess is returned by LookupProcess for an unknown pid.
	ErrNoSuchProcess = fmt.Errorf("no such process")
)

// Options are passed to platform constructors.
type Options struct {
	// Manifest is the path of a platform-specific description of the
	// target. Its format is defined by the platform.
	Manifest string

	// Layouts is the kernel structure layout table in effect.
	Layouts *nt.Layouts
}

// Constructor represents a platform type.
type Constructor interface {
	// New returns a new platform instance.
	New(opts Options) (Platform, error)
}

var (
	platformsMu sync.Mutex
	platforms   = map[string]Constructor{}
)

// Register registers a new platform type. It panics if name is already
// registered.
func Register(name string, platform Constructor) {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	if _, ok := platforms[name]; ok {
		panic(fmt.Sprintf("duplicate platform registration for name %q", name))
	}
	platforms[name] = platform
}

// Lookup looks up the platform constructor by name.
func Lookup(name string) (Constructor, error) {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	p, ok := platforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform: %q (available: %v)", name, list())
	}
	return p, nil
}

// List lists available platforms.
func List() []string {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	return list()
}

// Preconditions: platformsMu is held.
func list() []string {
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
