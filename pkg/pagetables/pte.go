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
	"fmt"
	"strings"

	"gvisor.dev/vtop/pkg/bits"
	"gvisor.dev/vtop/pkg/hostarch"
)

// PTE is a page-table entry. The same layout is used at every level.
type PTE uint64

// Architectural flag bits.
const (
	Present      PTE = 1 << 0
	Writable     PTE = 1 << 1
	User         PTE = 1 << 2
	WriteThrough PTE = 1 << 3
	CacheDisable PTE = 1 << 4
	Accessed     PTE = 1 << 5
	Dirty        PTE = 1 << 6
	Super        PTE = 1 << 7
	Global       PTE = 1 << 8
	NoExecute    PTE = 1 << 63
)

const (
	// pfnBits is the width of the page frame number field, which spans
	// bits 12-51.
	pfnBits = hostarch.PhysicalAddressBits - hostarch.PageShift

	addressMask PTE = ((1 << pfnBits) - 1) << hostarch.PageShift
)

var flagNames = []struct {
	flag PTE
	name string
}{
	{Present, "present"},
	{Writable, "writable"},
	{User, "user"},
	{WriteThrough, "writethrough"},
	{CacheDisable, "cachedisable"},
	{Accessed, "accessed"},
	{Dirty, "dirty"},
	{Super, "super"},
	{Global, "global"},
	{NoExecute, "noexecute"},
}

// MakePTE builds an entry pointing at the given frame.
func MakePTE(pfn uint64, flags PTE) PTE {
	return PTE(bits.SetField64(uint64(flags&^addressMask), hostarch.PageShift, pfnBits, pfn))
}

// Valid returns true if the present bit is set.
func (p PTE) Valid() bool {
	return p&Present != 0
}

// IsSuper returns true if the entry maps a large page. Only meaningful at
// the PDP and PD levels.
func (p PTE) IsSuper() bool {
	return p&Super != 0
}

// HasFlags returns true if all of flags are set.
func (p PTE) HasFlags(flags PTE) bool {
	return bits.IsOn64(uint64(p), uint64(flags))
}

// PFN returns the page frame number this entry points at.
func (p PTE) PFN() uint64 {
	return bits.Field64(uint64(p), hostarch.PageShift, pfnBits)
}

// Address returns the physical base address of the frame. It is always page
// aligned.
func (p PTE) Address() hostarch.PhysAddr {
	return hostarch.FrameAddr(p.PFN())
}

// Flags returns the entry with the frame number cleared.
func (p PTE) Flags() PTE {
	return p &^ addressMask
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	var names []string
	for _, f := range flagNames {
		if p.HasFlags(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		names = append(names, "none")
	}
	return fmt.Sprintf("%#x pfn=%#x %s", uint64(p), p.PFN(), strings.Join(names, "|"))
}

// ParseFlags returns the flags named in names, as rendered by String.
func ParseFlags(names []string) (PTE, error) {
	var flags PTE
next:
	for _, name := range names {
		for _, f := range flagNames {
			if f.name == strings.ToLower(name) {
				flags |= f.flag
				continue next
			}
		}
		return 0, fmt.Errorf("unknown entry flag %q", name)
	}
	return flags, nil
}

// Presence selects how an entry is judged present.
type Presence int

const (
	// PresentBit tests the architectural present bit.
	PresentBit Presence = iota

	// NonZero treats any non-zero entry as present. Transition and
	// software-defined entries have non-zero values with the present bit
	// clear, so this check accepts entries the hardware would fault on.
	NonZero
)

// Check reports whether p counts as present.
func (m Presence) Check(p PTE) bool {
	if m == NonZero {
		return p != 0
	}
	return p.Valid()
}

// String implements fmt.Stringer.String.
func (m Presence) String() string {
	switch m {
	case PresentBit:
		return "present"
	case NonZero:
		return "nonzero"
	default:
		return fmt.Sprintf("Presence(%d)", int(m))
	}
}

// Get implements flag.Getter.Get.
func (m *Presence) Get() any {
	return *m
}

// Set implements flag.Value.Set.
func (m *Presence) Set(v string) error {
	switch v {
	case "present":
		*m = PresentBit
	case "nonzero":
		*m = NonZero
	default:
		return fmt.Errorf("invalid presence check %q, must be 'present' or 'nonzero'", v)
	}
	return nil
}
