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
	"gvisor.dev/vtop/pkg/log"
)

var (
	// ErrNoDirectoryTableBase is returned when the process's top-level
	// table could not be located.
	ErrNoDirectoryTableBase = errors.New("no directory table base")

	// ErrEntryNotPresent is returned when a level of the walk hits an entry
	// that does not map anything.
	ErrEntryNotPresent = errors.New("entry not present")

	// ErrLargePage is returned when a PDP or PD entry maps a 1G or 2M page.
	// Such mappings are detected but not translated.
	ErrLargePage = errors.New("large page mappings are not supported")
)

// Level identifies one level of the hierarchy.
type Level int

// Levels, from the root down.
const (
	PML4 Level = iota
	PDP
	PD
	PT
)

// levels is the walk order.
var levels = [...]Level{PML4, PDP, PD, PT}

// String implements fmt.Stringer.String.
func (l Level) String() string {
	switch l {
	case PML4:
		return "pml4"
	case PDP:
		return "pdp"
	case PD:
		return "pd"
	case PT:
		return "pt"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// PhysicalReader reads page-table entries out of physical memory.
type PhysicalReader interface {
	// ReadPhysicalUint64 returns the little-endian quadword at pa.
	ReadPhysicalUint64(pa hostarch.PhysAddr) (uint64, error)
}

// DirectoryResolver locates the top-level table of a process.
type DirectoryResolver interface {
	// ResolveDTB returns the directory table base for pid.
	ResolveDTB(pid uint32) (hostarch.PhysAddr, error)
}

// WalkError describes the level at which a walk stopped.
type WalkError struct {
	// Level is the level whose entry could not be used.
	Level Level

	// Address is the physical address of the entry.
	Address hostarch.PhysAddr

	// Entry is the value read, if the read itself succeeded.
	Entry PTE

	// Err is the underlying cause.
	Err error
}

// Error implements error.Error.
func (e *WalkError) Error() string {
	return fmt.Sprintf("%s entry at %v (%#x): %v", e.Level, e.Address, uint64(e.Entry), e.Err)
}

// Unwrap returns the underlying cause.
func (e *WalkError) Unwrap() error {
	return e.Err
}

// Step records one entry fetched during a walk.
type Step struct {
	Level   Level
	Table   hostarch.PhysAddr
	Index   uint16
	Address hostarch.PhysAddr
	Entry   PTE
}

// Trace is the full record of a walk.
type Trace struct {
	VirtualAddress     hostarch.Addr
	PID                uint32
	Indices            Indices
	DirectoryTableBase hostarch.PhysAddr
	Steps              []Step

	// PhysicalAddress is only valid if the walk succeeded.
	PhysicalAddress hostarch.PhysAddr
}

// Walker translates virtual addresses by reading page tables out of physical
// memory, one entry per level.
//
// A Walker holds no state between walks; concurrent use is safe as long as
// Memory and Directory are.
type Walker struct {
	// Memory is used for every entry read.
	Memory PhysicalReader

	// Directory supplies the root of each walk.
	Directory DirectoryResolver

	// Presence decides whether an entry maps anything.
	Presence Presence
}

// New returns a Walker that checks the architectural present bit.
func New(mem PhysicalReader, dir DirectoryResolver) *Walker {
	return &Walker{
		Memory:    mem,
		Directory: dir,
		Presence:  PresentBit,
	}
}

// Translate returns the physical address backing va in pid's address space.
func (w *Walker) Translate(va hostarch.Addr, pid uint32) (hostarch.PhysAddr, error) {
	t, err := w.Walk(va, pid)
	if err != nil {
		return 0, err
	}
	return t.PhysicalAddress, nil
}

// Walk translates va and returns every entry visited along the way.
//
// On failure the returned trace holds the steps taken before the walk
// stopped, and no physical reads are made after the failing one. The trace
// is nil only if the directory table base could not be resolved.
func (w *Walker) Walk(va hostarch.Addr, pid uint32) (*Trace, error) {
	idx := Decompose(va)
	if log.IsLogging(log.Debug) {
		log.Debugf("Translating %v in pid %d: pml4=%d pdp=%d pd=%d pt=%d offset=%#x", va, pid, idx.PML4, idx.PDP, idx.PD, idx.PT, idx.Offset)
	}

	dtb, err := w.Directory.ResolveDTB(pid)
	if err != nil {
		return nil, fmt.Errorf("%w for pid %d: %w", ErrNoDirectoryTableBase, pid, err)
	}
	// The low bits of a directory table base hold cache control and PCID
	// bits, not address bits.
	table := hostarch.PhysAddr(uint64(dtb) & uint64(addressMask))
	if table == 0 {
		return nil, fmt.Errorf("%w for pid %d: base %#x has no address bits", ErrNoDirectoryTableBase, pid, uint64(dtb))
	}

	t := &Trace{
		VirtualAddress:     va,
		PID:                pid,
		Indices:            idx,
		DirectoryTableBase: dtb,
		Steps:              make([]Step, 0, len(levels)),
	}
	for _, level := range levels {
		index := idx.Index(level)
		entryAddr := table + hostarch.PhysAddr(index)*EntrySize

		raw, err := w.Memory.ReadPhysicalUint64(entryAddr)
		if err != nil {
			log.Debugf("Reading %s entry at %v failed: %v", level, entryAddr, err)
			return t, &WalkError{Level: level, Address: entryAddr, Err: err}
		}
		entry := PTE(raw)
		t.Steps = append(t.Steps, Step{
			Level:   level,
			Table:   table,
			Index:   index,
			Address: entryAddr,
			Entry:   entry,
		})
		if log.IsLogging(log.Debug) {
			log.Debugf("%s index %d, entry at %v: %v", level, index, entryAddr, entry)
		}

		if !w.Presence.Check(entry) {
			log.Debugf("%s entry at %v is not present", level, entryAddr)
			return t, &WalkError{Level: level, Address: entryAddr, Entry: entry, Err: ErrEntryNotPresent}
		}
		if (level == PDP || level == PD) && entry.IsSuper() {
			return t, &WalkError{Level: level, Address: entryAddr, Entry: entry, Err: ErrLargePage}
		}
		table = entry.Address()
	}

	// After the loop, table is the base of the data page itself.
	t.PhysicalAddress = table + hostarch.PhysAddr(idx.Offset)
	log.Debugf("Translated %v in pid %d to %v", va, pid, t.PhysicalAddress)
	return t, nil
}
