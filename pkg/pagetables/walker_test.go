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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vtop/pkg/hostarch"
)

// fakeMemory is a sparse quadword-addressed physical memory.
type fakeMemory struct {
	words map[hostarch.PhysAddr]uint64
	reads []hostarch.PhysAddr
	fail  map[hostarch.PhysAddr]error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		words: make(map[hostarch.PhysAddr]uint64),
		fail:  make(map[hostarch.PhysAddr]error),
	}
}

func (m *fakeMemory) ReadPhysicalUint64(pa hostarch.PhysAddr) (uint64, error) {
	m.reads = append(m.reads, pa)
	if err, ok := m.fail[pa]; ok {
		return 0, err
	}
	return m.words[pa], nil
}

func (m *fakeMemory) set(table hostarch.PhysAddr, index uint16, entry PTE) hostarch.PhysAddr {
	addr := table + hostarch.PhysAddr(index)*EntrySize
	m.words[addr] = uint64(entry)
	return addr
}

// fakeDirectory maps pids to directory table bases.
type fakeDirectory map[uint32]hostarch.PhysAddr

var errNoSuchProcess = errors.New("no such process")

func (d fakeDirectory) ResolveDTB(pid uint32) (hostarch.PhysAddr, error) {
	dtb, ok := d[pid]
	if !ok {
		return 0, errNoSuchProcess
	}
	return dtb, nil
}

const (
	examplePID  = 4
	exampleVA   = hostarch.Addr(0x00007ff612345000)
	exampleDTB  = hostarch.PhysAddr(0x1000)
	exampleLeaf = 0x9abcd
)

// exampleTables builds DTB 0x1000 -> 0x2000 -> 0x3000 -> 0x4000 -> 0x9abcd000
// for exampleVA, and returns the entry addresses in walk order.
func exampleTables(m *fakeMemory) []hostarch.PhysAddr {
	idx := Decompose(exampleVA)
	flags := Present | Writable | User
	return []hostarch.PhysAddr{
		m.set(0x1000, idx.PML4, MakePTE(0x2, flags)),
		m.set(0x2000, idx.PDP, MakePTE(0x3, flags)),
		m.set(0x3000, idx.PD, MakePTE(0x4, flags)),
		m.set(0x4000, idx.PT, MakePTE(exampleLeaf, flags|Dirty|Accessed)),
	}
}

func newExampleWalker() (*Walker, *fakeMemory, []hostarch.PhysAddr) {
	m := newFakeMemory()
	entries := exampleTables(m)
	return New(m, fakeDirectory{examplePID: exampleDTB}), m, entries
}

func TestTranslateExample(t *testing.T) {
	w, m, entries := newExampleWalker()
	got, err := w.Translate(exampleVA, examplePID)
	if err != nil {
		t.Fatalf("Translate(%v) failed: %v", exampleVA, err)
	}
	if want := hostarch.PhysAddr(0x9abcd000); got != want {
		t.Errorf("Translate(%v) = %v, want %v", exampleVA, got, want)
	}
	if diff := cmp.Diff(entries, m.reads); diff != "" {
		t.Errorf("unexpected physical reads (-want +got):\n%s", diff)
	}
}

func TestTranslateOffset(t *testing.T) {
	w, _, _ := newExampleWalker()
	got, err := w.Translate(exampleVA+0x123, examplePID)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if want := hostarch.PhysAddr(0x9abcd123); got != want {
		t.Errorf("Translate = %v, want %v", got, want)
	}
}

func TestTranslateDeterministic(t *testing.T) {
	w, _, _ := newExampleWalker()
	first, err := w.Translate(exampleVA, examplePID)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := w.Translate(exampleVA, examplePID)
		if err != nil || again != first {
			t.Fatalf("Translate #%d = (%v, %v), want (%v, nil)", i, again, err, first)
		}
	}
}

func TestWalkTrace(t *testing.T) {
	w, _, entries := newExampleWalker()
	tr, err := w.Walk(exampleVA, examplePID)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	idx := Decompose(exampleVA)
	flags := Present | Writable | User
	want := &Trace{
		VirtualAddress:     exampleVA,
		PID:                examplePID,
		Indices:            idx,
		DirectoryTableBase: exampleDTB,
		Steps: []Step{
			{Level: PML4, Table: 0x1000, Index: idx.PML4, Address: entries[0], Entry: MakePTE(0x2, flags)},
			{Level: PDP, Table: 0x2000, Index: idx.PDP, Address: entries[1], Entry: MakePTE(0x3, flags)},
			{Level: PD, Table: 0x3000, Index: idx.PD, Address: entries[2], Entry: MakePTE(0x4, flags)},
			{Level: PT, Table: 0x4000, Index: idx.PT, Address: entries[3], Entry: MakePTE(exampleLeaf, flags|Dirty|Accessed)},
		},
		PhysicalAddress: 0x9abcd000,
	}
	if diff := cmp.Diff(want, tr); diff != "" {
		t.Errorf("Walk trace mismatch (-want +got):\n%s", diff)
	}
}

func TestEarlyExit(t *testing.T) {
	for i, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			w, m, entries := newExampleWalker()
			m.words[entries[i]] = 0

			_, err := w.Translate(exampleVA, examplePID)
			if !errors.Is(err, ErrEntryNotPresent) {
				t.Fatalf("Translate error = %v, want %v", err, ErrEntryNotPresent)
			}
			var we *WalkError
			if !errors.As(err, &we) {
				t.Fatalf("Translate error %T is not a *WalkError", err)
			}
			if we.Level != level || we.Address != entries[i] {
				t.Errorf("WalkError = {%v, %v}, want {%v, %v}", we.Level, we.Address, level, entries[i])
			}
			if diff := cmp.Diff(entries[:i+1], m.reads); diff != "" {
				t.Errorf("reads past the failing level (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNoDirectoryTableBase(t *testing.T) {
	for _, tc := range []struct {
		name string
		dir  fakeDirectory
	}{
		{"unknown process", fakeDirectory{}},
		{"zero base", fakeDirectory{examplePID: 0}},
		{"control bits only", fakeDirectory{examplePID: 0x2}},
		{"pcid only", fakeDirectory{examplePID: 0xfff}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newFakeMemory()
			exampleTables(m)
			w := New(m, tc.dir)
			tr, err := w.Walk(exampleVA, examplePID)
			if !errors.Is(err, ErrNoDirectoryTableBase) {
				t.Errorf("Walk error = %v, want %v", err, ErrNoDirectoryTableBase)
			}
			if tr != nil {
				t.Errorf("Walk returned trace %+v on failure", tr)
			}
			if len(m.reads) != 0 {
				t.Errorf("physical reads performed without a directory base: %v", m.reads)
			}
		})
	}
}

func TestResolverErrorIsWrapped(t *testing.T) {
	w := New(newFakeMemory(), fakeDirectory{})
	_, err := w.Translate(exampleVA, 1234)
	if !errors.Is(err, errNoSuchProcess) {
		t.Errorf("Translate error = %v, want it to wrap %v", err, errNoSuchProcess)
	}
}

func TestReadFailure(t *testing.T) {
	w, m, entries := newExampleWalker()
	injected := fmt.Errorf("mapping failed")
	m.fail[entries[2]] = injected

	tr, err := w.Walk(exampleVA, examplePID)
	if !errors.Is(err, injected) {
		t.Fatalf("Walk error = %v, want %v", err, injected)
	}
	var we *WalkError
	if !errors.As(err, &we) || we.Level != PD {
		t.Errorf("Walk error = %v, want a pd WalkError", err)
	}
	if got := len(tr.Steps); got != 2 {
		t.Errorf("trace has %d steps, want 2", got)
	}
	if got := len(m.reads); got != 3 {
		t.Errorf("%d reads, want 3", got)
	}
}

func TestLargePage(t *testing.T) {
	for _, level := range []Level{PDP, PD} {
		t.Run(level.String(), func(t *testing.T) {
			w, m, entries := newExampleWalker()
			m.words[entries[level]] |= uint64(Super)
			_, err := w.Translate(exampleVA, examplePID)
			if !errors.Is(err, ErrLargePage) {
				t.Fatalf("Translate error = %v, want %v", err, ErrLargePage)
			}
			if got, want := len(m.reads), int(level)+1; got != want {
				t.Errorf("%d reads, want %d", got, want)
			}
		})
	}
}

func TestLeafPATBitIsNotLargePage(t *testing.T) {
	// Bit 7 of a PT entry selects the PAT entry; it does not mean "super".
	w, m, entries := newExampleWalker()
	m.words[entries[PT]] |= uint64(Super)
	got, err := w.Translate(exampleVA, examplePID)
	if err != nil || got != 0x9abcd000 {
		t.Errorf("Translate = (%v, %v), want (0x9abcd000, nil)", got, err)
	}
}

func TestPresenceModes(t *testing.T) {
	w, m, entries := newExampleWalker()
	// A non-zero entry with the present bit clear.
	m.words[entries[PT]] &^= uint64(Present)

	if _, err := w.Translate(exampleVA, examplePID); !errors.Is(err, ErrEntryNotPresent) {
		t.Errorf("present-bit mode: Translate error = %v, want %v", err, ErrEntryNotPresent)
	}

	w.Presence = NonZero
	got, err := w.Translate(exampleVA, examplePID)
	if err != nil || got != 0x9abcd000 {
		t.Errorf("nonzero mode: Translate = (%v, %v), want (0x9abcd000, nil)", got, err)
	}
}

func TestDirectoryBaseLowBitsIgnored(t *testing.T) {
	m := newFakeMemory()
	entries := exampleTables(m)
	// PCID 2 in the low bits, as found in a live CR3.
	w := New(m, fakeDirectory{examplePID: exampleDTB | 0x2})
	got, err := w.Translate(exampleVA, examplePID)
	if err != nil || got != 0x9abcd000 {
		t.Fatalf("Translate = (%v, %v), want (0x9abcd000, nil)", got, err)
	}
	if m.reads[0] != entries[0] {
		t.Errorf("first read at %v, want %v", m.reads[0], entries[0])
	}
}

func TestLevelString(t *testing.T) {
	var got []string
	for _, l := range levels {
		got = append(got, l.String())
	}
	if diff := cmp.Diff([]string{"pml4", "pdp", "pd", "pt"}, got); diff != "" {
		t.Errorf("level names (-want +got):\n%s", diff)
	}
}
