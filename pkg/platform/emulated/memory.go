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
	"math"

	"gvisor.dev/vtop/pkg/binary"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/pagetables"
	"gvisor.dev/vtop/pkg/physmem"
)

// groundTruth records one page installed from the manifest.
type groundTruth struct {
	pid  uint32
	va   hostarch.Addr
	pa   hostarch.PhysAddr
	size uint64
}

func (g *groundTruth) contains(va hostarch.Addr) bool {
	return va >= g.va && uint64(va-g.va) < g.size
}

// sparseMemory adapts physmem.Sparse to pagetables.PhysicalMemory.
type sparseMemory struct {
	*physmem.Sparse
}

// ReadPhysicalUint64 implements pagetables.PhysicalReader.ReadPhysicalUint64.
func (s sparseMemory) ReadPhysicalUint64(pa hostarch.PhysAddr) (uint64, error) {
	return s.ReadUint64(pa)
}

// WritePhysicalUint64 implements pagetables.PhysicalMemory.WritePhysicalUint64.
func (s sparseMemory) WritePhysicalUint64(pa hostarch.PhysAddr, v uint64) error {
	return s.WriteUint64(pa, v)
}

// frameAllocator hands out table frames from a fixed physical range.
type frameAllocator struct {
	next     hostarch.PhysAddr
	limit    hostarch.PhysAddr
	reserved map[uint64]bool
	used     []hostarch.PhysAddr
}

// NewTable implements pagetables.Allocator.NewTable. Frames come from
// unpopulated sparse memory and are therefore zero.
func (a *frameAllocator) NewTable() (hostarch.PhysAddr, error) {
	for a.reserved[hostarch.FrameOf(a.next)] {
		a.next += hostarch.PageSize
	}
	if a.next >= a.limit {
		return 0, fmt.Errorf("page table range exhausted at %v", a.limit)
	}
	t := a.next
	a.next += hostarch.PageSize
	a.used = append(a.used, t)
	return t, nil
}

// buildMemory populates physical memory from the manifest.
func (p *Platform) buildMemory() error {
	m := p.manifest
	if m.Memory.Dump != "" {
		f, err := physmem.OpenFile(m.Memory.Dump)
		if err != nil {
			return err
		}
		p.store = f
		for _, proc := range m.Process {
			p.dtbs[proc.PID] = hostarch.PhysAddr(proc.DirectoryTableBase)
		}
		return nil
	}

	s := physmem.NewSparse()
	p.store = s
	alloc := &frameAllocator{
		next:     hostarch.PhysAddr(m.Memory.TableBase),
		limit:    hostarch.PhysAddr(m.Memory.TableLimit),
		reserved: make(map[uint64]bool),
	}
	for _, proc := range m.Process {
		if proc.DirectoryTableBase != 0 {
			alloc.reserved[hostarch.FrameOf(hostarch.PhysAddr(proc.DirectoryTableBase))] = true
		}
	}
	for _, proc := range m.Process {
		dtb := hostarch.PhysAddr(proc.DirectoryTableBase)
		if dtb == 0 {
			t, err := alloc.NewTable()
			if err != nil {
				return fmt.Errorf("process %d: %w", proc.PID, err)
			}
			dtb = t
		}
		p.dtbs[proc.PID] = dtb
	}

	b := &pagetables.Builder{Memory: sparseMemory{s}, Allocator: alloc}
	for i, mp := range m.Mapping {
		leaf, _ := mp.leaf()
		flags, _ := pagetables.ParseFlags(mp.Flags)
		size := leaf.PageSize()
		root := p.dtbs[mp.PID].RoundDown()
		for n := uint64(0); n < mp.Pages; n++ {
			va := hostarch.Addr(mp.Virtual) + hostarch.Addr(n*size)
			pa := hostarch.PhysAddr(mp.Physical) + hostarch.PhysAddr(n*size)
			if err := b.Map(root, va, pa, leaf, flags); err != nil {
				return fmt.Errorf("mapping %d: %v -> %v: %w", i, va, pa, err)
			}
			p.truth = append(p.truth, groundTruth{pid: mp.PID, va: va, pa: pa, size: size})
		}
	}

	// Table frames must not double as data pages.
	tables := append(alloc.used, dtbFrames(p.dtbs)...)
	for _, t := range tables {
		for _, g := range p.truth {
			if t >= g.pa && uint64(t-g.pa) < g.size {
				return fmt.Errorf("page table frame %v overlaps mapping of %v in process %d", t, g.va, g.pid)
			}
		}
	}

	for i, mp := range m.Mapping {
		if mp.Data == "" {
			continue
		}
		if err := s.Write(hostarch.PhysAddr(mp.Physical), []byte(mp.Data)); err != nil {
			return fmt.Errorf("mapping %d: writing data: %w", i, err)
		}
	}
	for i, w := range m.Word {
		if err := s.WriteUint64(hostarch.PhysAddr(w.Address), uint64(w.Value)); err != nil {
			return fmt.Errorf("word %d: %w", i, err)
		}
	}
	return nil
}

func dtbFrames(dtbs map[uint32]hostarch.PhysAddr) []hostarch.PhysAddr {
	frames := make([]hostarch.PhysAddr, 0, len(dtbs))
	for _, dtb := range dtbs {
		frames = append(frames, dtb.RoundDown())
	}
	return frames
}

// kernelMemory is emulated kernel virtual memory: a set of disjoint
// regions backed by Go memory.
type kernelMemory struct {
	regions []region
}

type region struct {
	base hostarch.Addr
	data []byte
}

// add allocates a zeroed region of size bytes at base.
func (k *kernelMemory) add(base hostarch.Addr, size uint64) ([]byte, error) {
	end, ok := base.AddLength(size)
	if !ok {
		return nil, fmt.Errorf("region at %v of size %#x wraps", base, size)
	}
	for _, r := range k.regions {
		rend := r.base + hostarch.Addr(len(r.data))
		if base < rend && r.base < end {
			return nil, fmt.Errorf("region [%v, %v) overlaps [%v, %v)", base, end, r.base, rend)
		}
	}
	data := make([]byte, size)
	k.regions = append(k.regions, region{base: base, data: data})
	return data, nil
}

// slice returns the bytes of [addr, addr+size), which must lie within a
// single region.
func (k *kernelMemory) slice(addr hostarch.Addr, size uint64) ([]byte, bool) {
	for _, r := range k.regions {
		if addr < r.base {
			continue
		}
		off := uint64(addr - r.base)
		if off < uint64(len(r.data)) && size <= uint64(len(r.data))-off {
			return r.data[off : off+size], true
		}
	}
	return nil, false
}

// buildObjects synthesizes a process object for each process.
func (p *Platform) buildObjects() error {
	field := p.layout.DirectoryTableBase
	size := (field.Offset + uint64(field.Size) + hostarch.PageSize - 1) &^ (hostarch.PageSize - 1)
	p.memory = &kernelMemory{}
	next := hostarch.Addr(p.manifest.Kernel.ObjectBase)
	for _, proc := range p.manifest.Process {
		base := hostarch.Addr(proc.Object)
		if base == 0 {
			base = next
			next += hostarch.Addr(size)
		}
		obj, err := p.memory.add(base, size)
		if err != nil {
			return fmt.Errorf("process %d object: %w", proc.PID, err)
		}
		dtb := uint64(p.dtbs[proc.PID])
		dst := obj[field.Offset : field.Offset+uint64(field.Size)]
		switch field.Size {
		case 4:
			if dtb > math.MaxUint32 {
				return fmt.Errorf("process %d: directory table base %#x does not fit layout %q", proc.PID, dtb, p.layout.Name)
			}
			binary.Marshal(dst[:0], binary.LittleEndian, uint32(dtb))
		case 8:
			binary.Marshal(dst[:0], binary.LittleEndian, dtb)
		}
		p.objects[proc.PID] = base
	}
	return nil
}

// translate returns the physical address pid maps va to, according to the
// manifest.
func (p *Platform) translate(pid uint32, va hostarch.Addr) (hostarch.PhysAddr, bool) {
	for i := range p.truth {
		if g := &p.truth[i]; g.pid == pid && g.contains(va) {
			return g.pa + hostarch.PhysAddr(va-g.va), true
		}
	}
	return 0, false
}
