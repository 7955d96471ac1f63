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

package pagetables

import (
	"errors"
	"fmt"

	"gvisor.dev/vtop/pkg/hostarch"
)

// ErrAlreadyMapped is returned by Builder.Map when the target entry is
// already present.
var ErrAlreadyMapped = errors.New("address already mapped")

// PhysicalMemory is PhysicalReader with write access.
type PhysicalMemory interface {
	PhysicalReader

	// WritePhysicalUint64 stores v little-endian at pa.
	WritePhysicalUint64(pa hostarch.PhysAddr, v uint64) error
}

// Allocator hands out frames for new tables.
type Allocator interface {
	// NewTable returns the base of a zeroed, page-aligned frame.
	NewTable() (hostarch.PhysAddr, error)
}

// PageSize returns the size of a page mapped by a leaf entry at level l.
// PML4 entries cannot be leaves; zero is returned for them.
func (l Level) PageSize() uint64 {
	switch l {
	case PDP:
		return hostarch.GiantPageSize
	case PD:
		return hostarch.HugePageSize
	case PT:
		return hostarch.PageSize
	default:
		return 0
	}
}

// Builder installs mappings into page tables held in PhysicalMemory.
//
// Intermediate entries are created present, writable and user-accessible,
// so the leaf flags alone decide the access rights of a mapping.
type Builder struct {
	Memory    PhysicalMemory
	Allocator Allocator
}

// Map installs a single mapping of va to pa, with the leaf at the given
// level: PT for a 4K page, PD for a 2M page or PDP for a 1G page. The
// Present bit is always set on the leaf.
func (b *Builder) Map(root hostarch.PhysAddr, va hostarch.Addr, pa hostarch.PhysAddr, leaf Level, flags PTE) error {
	size := leaf.PageSize()
	if size == 0 {
		return fmt.Errorf("invalid leaf level %v", leaf)
	}
	if uint64(va)%size != 0 || uint64(pa)%size != 0 {
		return fmt.Errorf("mapping %v -> %v is not aligned to %#x", va, pa, size)
	}
	if uint64(root)&^uint64(addressMask) != 0 {
		return fmt.Errorf("table root %v is not page aligned", root)
	}
	flags |= Present
	if leaf != PT {
		flags |= Super
	}

	idx := Decompose(va)
	table := root
	for _, level := range levels {
		entryAddr := table + hostarch.PhysAddr(idx.Index(level))*EntrySize
		raw, err := b.Memory.ReadPhysicalUint64(entryAddr)
		if err != nil {
			return &WalkError{Level: level, Address: entryAddr, Err: err}
		}
		entry := PTE(raw)

		if level == leaf {
			if entry.Valid() {
				return &WalkError{Level: level, Address: entryAddr, Entry: entry, Err: ErrAlreadyMapped}
			}
			return b.Memory.WritePhysicalUint64(entryAddr, uint64(MakePTE(hostarch.FrameOf(pa), flags)))
		}

		switch {
		case !entry.Valid():
			next, err := b.Allocator.NewTable()
			if err != nil {
				return fmt.Errorf("allocating %s table below %v: %w", level, entryAddr, err)
			}
			entry = MakePTE(hostarch.FrameOf(next), Present|Writable|User)
			if err := b.Memory.WritePhysicalUint64(entryAddr, uint64(entry)); err != nil {
				return err
			}
		case level != PML4 && entry.IsSuper():
			return &WalkError{Level: level, Address: entryAddr, Entry: entry, Err: ErrAlreadyMapped}
		}
		table = entry.Address()
	}
	panic("unreachable")
}
