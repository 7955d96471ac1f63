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

package emulated

import (
	"fmt"
	"sort"

	"gvisor.dev/vtop/pkg/hostarch"
)

// routine is a kernel routine implemented in Go.
//
// Preconditions: p.mu is held while fn runs.
type routine struct {
	name string
	args int
	fn   func(p *Platform, args []uintptr) (uintptr, error)
}

// Exported routine names.
const (
	MemcpyExport             = "memcpy"
	GetPhysicalAddressExport = "MmGetPhysicalAddress"
)

// exportStride separates export addresses within the kernel image.
const exportStride = 0x1000

// buildExports places the kernel routines in the kernel image.
// MmGetPhysicalAddress needs the manifest's mappings, so it is only
// exported when page tables were built from them.
func (p *Platform) buildExports() {
	routines := []routine{
		{name: MemcpyExport, args: 3, fn: memcpy},
	}
	if p.manifest.Memory.Dump == "" {
		routines = append(routines, routine{name: GetPhysicalAddressExport, args: 1, fn: getPhysicalAddress})
	}
	sort.Slice(routines, func(i, j int) bool { return routines[i].name < routines[j].name })

	p.exports = make(map[string]hostarch.Addr, len(routines))
	p.routines = make(map[hostarch.Addr]routine, len(routines))
	for i, r := range routines {
		addr := hostarch.Addr(p.manifest.Kernel.Base) + hostarch.Addr((i+1)*exportStride)
		p.exports[r.name] = addr
		p.routines[addr] = r
	}
}

// memcpy(dst, src, size) copies size bytes from kernel memory at src to the
// caller's memory at dst and returns dst. src may be a physical mapping or
// a kernel object.
func memcpy(p *Platform, args []uintptr) (uintptr, error) {
	dst, src, size := args[0], hostarch.Addr(args[1]), uint64(args[2])
	if size == 0 {
		return dst, nil
	}
	from, ok := p.kernelSlice(src, size)
	if !ok {
		return 0, fmt.Errorf("memcpy: access violation reading %#x bytes at %v", size, src)
	}
	copy(callerBytes(dst, uintptr(size)), from)
	return dst, nil
}

// getPhysicalAddress(va) returns the physical address va maps to in the
// current process, or zero.
func getPhysicalAddress(p *Platform, args []uintptr) (uintptr, error) {
	pa, _ := p.translate(p.manifest.Kernel.CurrentPID, hostarch.Addr(args[0]))
	return uintptr(pa), nil
}

// kernelSlice returns the bytes of [addr, addr+size) in emulated kernel
// memory.
//
// Preconditions: p.mu is held.
func (p *Platform) kernelSlice(addr hostarch.Addr, size uint64) ([]byte, bool) {
	for base, m := range p.mappings {
		if addr < base {
			continue
		}
		if off := uint64(addr - base); off < m.size && size <= m.size-off {
			return m.view.Bytes()[off : off+size], true
		}
	}
	return p.memory.slice(addr, size)
}
