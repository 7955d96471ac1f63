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

// Package emulated implements a platform that emulates a kernel in process.
//
// The machine is described by a Manifest: processes, page mappings and the
// kernel build. Page tables for the mappings are built into a sparse
// physical memory, or physical memory is taken as-is from a raw dump.
// Process objects live in emulated kernel memory, with the directory table
// base stored at the offset the kernel structure layout prescribes.
//
// Kernel routines reachable through Invoke are implemented in Go. Mappings
// returned by MapPhysical are real addresses in this process, so the
// emulated memcpy behaves like the kernel's: it copies from the mapping into
// the caller's buffer.
package emulated

import (
	"fmt"
	"sort"
	"strings"

	"gvisor.dev/vtop/pkg/abi/nt"
	"gvisor.dev/vtop/pkg/cleanup"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/log"
	"gvisor.dev/vtop/pkg/physmem"
	"gvisor.dev/vtop/pkg/platform"
	"gvisor.dev/vtop/pkg/sync"
)

// Stats counts primitive calls.
type Stats struct {
	// Maps and Unmaps count successful MapPhysical and Unmap calls.
	Maps   uint64
	Unmaps uint64

	// FailedMaps counts MapPhysical calls that failed.
	FailedMaps uint64

	// Invocations counts Invoke calls, including failed ones.
	Invocations uint64

	// Lookups counts LookupProcess calls, including failed ones.
	Lookups uint64

	// Live is the number of outstanding mappings.
	Live int
}

// mapping is an outstanding MapPhysical result.
type mapping struct {
	pa   hostarch.PhysAddr
	size uint64
	view physmem.View
}

// Platform is an emulated kernel.
//
// Platform implements platform.Platform and is safe for concurrent use. All
// primitives are serialized by a single mutex.
type Platform struct {
	manifest *Manifest
	layout   nt.ProcessLayout

	// The following fields are immutable after construction.
	store    physmem.Store
	memory   *kernelMemory
	objects  map[uint32]hostarch.Addr
	dtbs     map[uint32]hostarch.PhysAddr
	truth    []groundTruth
	exports  map[string]hostarch.Addr
	routines map[hostarch.Addr]routine

	mu          sync.Mutex
	initialized bool
	faults      Faults
	mappings    map[hostarch.Addr]*mapping
	stats       Stats
}

var _ platform.Platform = (*Platform)(nil)

// New returns a platform for the machine described by m. The process object
// layout is taken from layout.
func New(m *Manifest, layout nt.ProcessLayout) (*Platform, error) {
	p := &Platform{
		manifest: m,
		layout:   layout,
		objects:  make(map[uint32]hostarch.Addr),
		dtbs:     make(map[uint32]hostarch.PhysAddr),
		faults:   m.Faults,
		mappings: make(map[hostarch.Addr]*mapping),
	}
	if err := p.buildMemory(); err != nil {
		if p.store != nil {
			p.store.Close()
		}
		return nil, err
	}
	if err := p.buildObjects(); err != nil {
		p.store.Close()
		return nil, err
	}
	p.buildExports()
	log.Infof("Emulated kernel build %d: %d processes, %d mappings, layout %q", m.Kernel.Build, len(m.Process), len(m.Mapping), layout.Name)
	return p, nil
}

// Manifest returns the manifest the platform was built from.
func (p *Platform) Manifest() *Manifest {
	return p.manifest
}

// Store returns the platform's physical memory.
func (p *Platform) Store() physmem.Store {
	return p.store
}

// DirectoryTableBase returns the directory table base the platform built
// for pid.
func (p *Platform) DirectoryTableBase(pid uint32) (hostarch.PhysAddr, bool) {
	dtb, ok := p.dtbs[pid]
	return dtb, ok
}

// SetFaults replaces the active fault set.
func (p *Platform) SetFaults(f Faults) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = f
}

// Stats returns a snapshot of the call counters.
func (p *Platform) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Live = len(p.mappings)
	return s
}

// KernelBuild implements platform.Platform.KernelBuild.
func (p *Platform) KernelBuild() uint32 {
	return p.manifest.Kernel.Build
}

// Init implements platform.Executor.Init.
func (p *Platform) Init(image, export string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.faults.Init {
		return fmt.Errorf("injected fault")
	}
	t := p.manifest.Target
	if !strings.EqualFold(image, t.Image) || export != t.Export {
		return fmt.Errorf("%s!%s cannot be used to enter the kernel, want %s!%s", image, export, t.Image, t.Export)
	}
	p.initialized = true
	return nil
}

// ResolveExport implements platform.Executor.ResolveExport.
func (p *Platform) ResolveExport(name string) (hostarch.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return 0, platform.ErrNotInitialized
	}
	if p.faults.ResolveExport {
		return 0, fmt.Errorf("injected fault")
	}
	addr, ok := p.exports[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", platform.ErrNoSuchExport, name)
	}
	return addr, nil
}

// Exports returns the names of the available exports.
func (p *Platform) Exports() []string {
	names := make([]string, 0, len(p.exports))
	for name := range p.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke implements platform.Executor.Invoke.
func (p *Platform) Invoke(fn hostarch.Addr, args ...uintptr) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Invocations++
	if !p.initialized {
		return 0, platform.ErrNotInitialized
	}
	if p.faults.Invoke {
		return 0, fmt.Errorf("injected fault")
	}
	r, ok := p.routines[fn]
	if !ok {
		return 0, fmt.Errorf("no kernel routine at %v", fn)
	}
	if len(args) != r.args {
		return 0, fmt.Errorf("%s takes %d arguments, got %d", r.name, r.args, len(args))
	}
	return r.fn(p, args)
}

// MapPhysical implements platform.Mapper.MapPhysical.
func (p *Platform) MapPhysical(pa hostarch.PhysAddr, size uint64) (hostarch.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, err := p.mapLocked(pa, size)
	if err != nil {
		p.stats.FailedMaps++
		return 0, err
	}
	p.stats.Maps++
	return addr, nil
}

// Preconditions: p.mu is held.
func (p *Platform) mapLocked(pa hostarch.PhysAddr, size uint64) (hostarch.Addr, error) {
	if p.faults.Map {
		return 0, fmt.Errorf("injected fault")
	}
	for _, frame := range p.faults.MapFrames {
		if frame == hostarch.FrameOf(pa) {
			return 0, fmt.Errorf("injected fault in frame %#x", frame)
		}
	}
	v, err := p.store.View(pa, size)
	if err != nil {
		return 0, err
	}
	cu := cleanup.Make(func() { v.Release() })
	defer cu.Clean()

	addr := addressOf(v.Bytes())
	if _, ok := p.mappings[addr]; ok {
		return 0, fmt.Errorf("mapping address %v already in use", addr)
	}
	p.mappings[addr] = &mapping{pa: pa, size: size, view: v}
	cu.Release()
	return addr, nil
}

// Unmap implements platform.Mapper.Unmap.
func (p *Platform) Unmap(addr hostarch.Addr, size uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.mappings[addr]
	if !ok {
		return fmt.Errorf("no mapping at %v", addr)
	}
	if m.size != size {
		return fmt.Errorf("mapping at %v has size %#x, not %#x", addr, m.size, size)
	}
	delete(p.mappings, addr)
	p.stats.Unmaps++
	return m.view.Release()
}

// LookupProcess implements platform.ProcessLookup.LookupProcess.
func (p *Platform) LookupProcess(pid uint32) (hostarch.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Lookups++
	if !p.initialized {
		return 0, platform.ErrNotInitialized
	}
	if p.faults.Lookup {
		return 0, fmt.Errorf("injected fault")
	}
	obj, ok := p.objects[pid]
	if !ok {
		return 0, fmt.Errorf("%w: %d", platform.ErrNoSuchProcess, pid)
	}
	return obj, nil
}

// Close implements platform.Platform.Close. Outstanding mappings are
// released.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, m := range p.mappings {
		log.Warningf("Releasing leaked mapping of %v at %v", m.pa, addr)
		m.view.Release()
		delete(p.mappings, addr)
	}
	p.initialized = false
	return p.store.Close()
}

// constructor implements platform.Constructor.
type constructor struct{}

// New implements platform.Constructor.New.
func (*constructor) New(opts platform.Options) (platform.Platform, error) {
	m, err := LoadManifest(opts.Manifest)
	if err != nil {
		return nil, err
	}
	layouts := opts.Layouts
	if layouts == nil {
		if layouts, err = nt.DefaultLayouts(); err != nil {
			return nil, err
		}
	}
	layout, err := layouts.Lookup(m.Kernel.Build)
	if err != nil {
		return nil, err
	}
	return New(m, layout)
}

func init() {
	platform.Register("emulated", &constructor{})
}
