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
	"testing"

	"gvisor.dev/vtop/pkg/hostarch"
)

func (m *fakeMemory) WritePhysicalUint64(pa hostarch.PhysAddr, v uint64) error {
	if err, ok := m.fail[pa]; ok {
		return err
	}
	m.words[pa] = v
	return nil
}

// bumpAllocator hands out consecutive frames.
type bumpAllocator struct {
	next  hostarch.PhysAddr
	limit hostarch.PhysAddr
}

func (a *bumpAllocator) NewTable() (hostarch.PhysAddr, error) {
	if a.next >= a.limit {
		return 0, errors.New("out of frames")
	}
	t := a.next
	a.next += hostarch.PageSize
	return t, nil
}

func newBuilder() (*Builder, *fakeMemory, *bumpAllocator) {
	m := newFakeMemory()
	a := &bumpAllocator{next: 0x2000, limit: 0x100000}
	return &Builder{Memory: m, Allocator: a}, m, a
}

func TestBuilderMapThenTranslate(t *testing.T) {
	b, m, a := newBuilder()
	const root = hostarch.PhysAddr(0x1000)
	if err := b.Map(root, exampleVA, 0x9abcd000, PT, Writable|User); err != nil {
		t.Fatalf("Map() failed: %v", err)
	}
	if got, want := a.next, hostarch.PhysAddr(0x5000); got != want {
		t.Errorf("allocated up to %v, want %v (three tables)", got, want)
	}

	w := New(m, fakeDirectory{examplePID: root})
	tr, err := w.Walk(exampleVA+0x10, examplePID)
	if err != nil {
		t.Fatalf("Walk() failed: %v", err)
	}
	if tr.PhysicalAddress != 0x9abcd010 {
		t.Errorf("PhysicalAddress = %v, want 0x9abcd010", tr.PhysicalAddress)
	}
	leaf := tr.Steps[len(tr.Steps)-1].Entry
	if !leaf.HasFlags(Present|Writable|User) || leaf.IsSuper() {
		t.Errorf("leaf entry %v has wrong flags", leaf)
	}

	// A neighbouring page shares every table.
	if err := b.Map(root, exampleVA+hostarch.PageSize, 0x1000000, PT, 0); err != nil {
		t.Fatalf("Map() of neighbour failed: %v", err)
	}
	if a.next != 0x5000 {
		t.Errorf("neighbour allocated new tables: next = %v", a.next)
	}
}

func TestBuilderLargePages(t *testing.T) {
	b, m, _ := newBuilder()
	const root = hostarch.PhysAddr(0x1000)
	if err := b.Map(root, 0x40000000, 0x80000000, PDP, Writable); err != nil {
		t.Fatalf("Map(1G) failed: %v", err)
	}
	if err := b.Map(root, 0x200000, 0x400000, PD, Writable); err != nil {
		t.Fatalf("Map(2M) failed: %v", err)
	}
	w := New(m, fakeDirectory{1: root})
	for _, tc := range []struct {
		va    hostarch.Addr
		level Level
	}{
		{0x40000000, PDP},
		{0x200000, PD},
	} {
		_, err := w.Translate(tc.va, 1)
		var werr *WalkError
		if !errors.As(err, &werr) || !errors.Is(err, ErrLargePage) || werr.Level != tc.level {
			t.Errorf("Translate(%v) = %v, want large page at %v", tc.va, err, tc.level)
		}
	}
}

func TestBuilderErrors(t *testing.T) {
	b, _, a := newBuilder()
	const root = hostarch.PhysAddr(0x1000)
	for _, tc := range []struct {
		name string
		va   hostarch.Addr
		pa   hostarch.PhysAddr
		leaf Level
	}{
		{"unaligned va", 0x1001, 0x5000, PT},
		{"unaligned pa", 0x1000, 0x5001, PT},
		{"unaligned 2M", 0x200000, 0x1000, PD},
		{"pml4 leaf", 0, 0, PML4},
	} {
		if err := b.Map(root, tc.va, tc.pa, tc.leaf, 0); err == nil {
			t.Errorf("%s: Map() succeeded", tc.name)
		}
	}
	if err := b.Map(root+8, 0, 0, PT, 0); err == nil {
		t.Errorf("Map() with unaligned root succeeded")
	}

	if err := b.Map(root, 0x200000, 0x400000, PD, 0); err != nil {
		t.Fatalf("Map(2M) failed: %v", err)
	}
	if err := b.Map(root, 0x200000, 0x400000, PD, 0); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("second Map() = %v, want ErrAlreadyMapped", err)
	}
	if err := b.Map(root, 0x201000, 0x5000, PT, 0); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("Map() inside a large page = %v, want ErrAlreadyMapped", err)
	}

	a.limit = a.next
	if err := b.Map(root, 0x7f0000000000, 0x5000, PT, 0); err == nil {
		t.Errorf("Map() with an exhausted allocator succeeded")
	}
}
