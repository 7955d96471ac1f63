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

// Package pagetables walks x86-64 4-level page tables that live in another
// address space.
//
// Tables are never dereferenced as Go memory. Every entry is located by
// index-and-stride arithmetic over physical addresses and fetched through a
// PhysicalReader, which is the only way this package touches memory.
package pagetables

import (
	"gvisor.dev/vtop/pkg/bits"
	"gvisor.dev/vtop/pkg/hostarch"
)

// Address space geometry for 4-level paging.
const (
	// EntrySize is the size of a single page-table entry, in bytes.
	EntrySize = 8

	// EntriesPerTable is the number of entries in one page-table page.
	EntriesPerTable = hostarch.PageSize / EntrySize

	indexBits  = 9
	offsetBits = hostarch.PageShift

	pteShift   = hostarch.PageShift
	pmdShift   = pteShift + indexBits
	pudShift   = pmdShift + indexBits
	pgdShift   = pudShift + indexBits
	upperShift = pgdShift + indexBits
	upperBits  = 64 - upperShift
)

// Indices is a virtual address decomposed into the fields the MMU consumes.
//
// Upper holds bits 48-63. For canonical addresses it is the sign extension of
// bit 47; it is carried so that every 64-bit value round-trips.
type Indices struct {
	PML4   uint16
	PDP    uint16
	PD     uint16
	PT     uint16
	Offset uint16
	Upper  uint16
}

// Decompose splits va into its table indices and page offset.
func Decompose(va hostarch.Addr) Indices {
	v := uint64(va)
	return Indices{
		PML4:   uint16(bits.Field64(v, pgdShift, indexBits)),
		PDP:    uint16(bits.Field64(v, pudShift, indexBits)),
		PD:     uint16(bits.Field64(v, pmdShift, indexBits)),
		PT:     uint16(bits.Field64(v, pteShift, indexBits)),
		Offset: uint16(bits.Field64(v, 0, offsetBits)),
		Upper:  uint16(bits.Field64(v, upperShift, upperBits)),
	}
}

// Recompose is the inverse of Decompose. Fields wider than their bit range
// are truncated.
func (i Indices) Recompose() hostarch.Addr {
	var v uint64
	v = bits.SetField64(v, upperShift, upperBits, uint64(i.Upper))
	v = bits.SetField64(v, pgdShift, indexBits, uint64(i.PML4))
	v = bits.SetField64(v, pudShift, indexBits, uint64(i.PDP))
	v = bits.SetField64(v, pmdShift, indexBits, uint64(i.PD))
	v = bits.SetField64(v, pteShift, indexBits, uint64(i.PT))
	v = bits.SetField64(v, 0, offsetBits, uint64(i.Offset))
	return hostarch.Addr(v)
}

// Index returns the table index used at the given level.
func (i Indices) Index(level Level) uint16 {
	switch level {
	case PML4:
		return i.PML4
	case PDP:
		return i.PDP
	case PD:
		return i.PD
	case PT:
		return i.PT
	default:
		panic("invalid page-table level: " + level.String())
	}
}

// Canonical returns true if bits 48-63 are copies of bit 47.
func (i Indices) Canonical() bool {
	if i.PML4&(1<<(indexBits-1)) != 0 {
		return i.Upper == 0xffff
	}
	return i.Upper == 0
}
