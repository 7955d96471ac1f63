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

package emulated_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vtop/pkg/abi/nt"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/kernel"
	"gvisor.dev/vtop/pkg/pagetables"
	"gvisor.dev/vtop/pkg/platform"
	"gvisor.dev/vtop/pkg/platform/emulated"
)

var layout = nt.ProcessLayout{
	Name:               "test",
	MinBuild:           1,
	DirectoryTableBase: nt.Field{Offset: 0x28, Size: 4},
}

func newPlatform(t *testing.T, manifest string) *emulated.Platform {
	t.Helper()
	m, err := emulated.ParseManifest(manifest)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}
	p, err := emulated.New(m, layout)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestDefaultManifest(t *testing.T) {
	m, err := emulated.LoadManifest("")
	if err != nil {
		t.Fatalf("LoadManifest(\"\") failed: %v", err)
	}
	if m.Kernel.Base != 0xfffff80000000000 {
		t.Errorf("kernel base = %#x", uint64(m.Kernel.Base))
	}
	if m.Target.Image != "ntdll.dll" || m.Target.Export != "NtTraceControl" {
		t.Errorf("target = %+v", m.Target)
	}
	var pids []uint32
	for _, p := range m.Process {
		pids = append(pids, p.PID)
	}
	if diff := cmp.Diff([]uint32{4, 1234}, pids); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestDefaults(t *testing.T) {
	m, err := emulated.ParseManifest(`
[[process]]
pid = 4

[[mapping]]
pid = 4
virtual = "0xffff_8000_0000_0000"
physical = 0x5000
`)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}
	if m.Kernel.CurrentPID != 4 || m.Memory.TableBase != 0x100000 || m.Mapping[0].Pages != 1 {
		t.Errorf("defaults not applied: %+v", m)
	}
	if m.Mapping[0].Virtual != 0xffff800000000000 {
		t.Errorf("virtual = %#x", uint64(m.Mapping[0].Virtual))
	}
}

func TestManifestErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		manifest string
		want     string
	}{
		{"unknown key", "[kernel]\nbuidl = 1\n", "unknown manifest keys"},
		{"duplicate pid", "[[process]]\npid = 4\n[[process]]\npid = 4\n", "duplicate process"},
		{"unknown pid", "[[mapping]]\npid = 8\nvirtual = 0\nphysical = 0\n", "unknown process"},
		{"page size", "[[process]]\npid = 4\n[[mapping]]\npid = 4\nvirtual = 0\nphysical = 0\npage_size = \"4m\"\n", "invalid page size"},
		{"flags", "[[process]]\npid = 4\n[[mapping]]\npid = 4\nvirtual = 0\nphysical = 0\nflags = [\"sticky\"]\n", "unknown entry flag"},
		{"negative", "[[process]]\npid = 4\nobject = -1\n", "negative"},
		{"bad string", "[[process]]\npid = 4\nobject = \"0xzz\"\n", "invalid syntax"},
		{"dump without base", "[memory]\ndump = \"mem.raw\"\n[[process]]\npid = 4\n", "directory_table_base is required"},
		{"table range", "[memory]\ntable_base = 0x1001\n", "invalid table range"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := emulated.ParseManifest(tc.manifest)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("ParseManifest() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestBuildErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name: "overlapping mappings",
			manifest: `
[[process]]
pid = 4
[[mapping]]
pid = 4
virtual = 0x1000
physical = 0x5000
pages = 2
[[mapping]]
pid = 4
virtual = 0x2000
physical = 0x9000
`,
			want: "already mapped",
		},
		{
			name: "data over tables",
			manifest: `
[[process]]
pid = 4
directory_table_base = 0x1aa000
[[mapping]]
pid = 4
virtual = 0x1000
physical = 0x1aa000
`,
			want: "overlaps mapping",
		},
		{
			name: "tables exhausted",
			manifest: `
[memory]
table_base = 0x1000
table_limit = 0x3000
[[process]]
pid = 4
[[mapping]]
pid = 4
virtual = 0x1000
physical = 0x5000
`,
			want: "exhausted",
		},
		{
			name: "object overlap",
			manifest: `
[[process]]
pid = 4
object = "0xffffc00000000000"
[[process]]
pid = 8
object = "0xffffc00000000800"
`,
			want: "overlaps",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := emulated.ParseManifest(tc.manifest)
			if err != nil {
				t.Fatalf("ParseManifest() failed: %v", err)
			}
			_, err = emulated.New(m, layout)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("New() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

const smallManifest = `
[kernel]
build = 9600

[memory]
table_base = 0x1000
table_limit = 0x10000

[[process]]
pid = 4
name = "System"

[[process]]
pid = 500
name = "user.exe"

[[mapping]]
pid = 500
virtual = 0x400000
physical = 0x20000
pages = 2
flags = ["user"]
data = "program text"

[[mapping]]
pid = 4
virtual = "0xfffff80000000000"
physical = 0x30000
flags = ["writable"]
`

func TestPrimitivesRequireInit(t *testing.T) {
	p := newPlatform(t, smallManifest)
	if _, err := p.ResolveExport("memcpy"); !errors.Is(err, platform.ErrNotInitialized) {
		t.Errorf("ResolveExport() = %v, want ErrNotInitialized", err)
	}
	if _, err := p.LookupProcess(4); !errors.Is(err, platform.ErrNotInitialized) {
		t.Errorf("LookupProcess() = %v, want ErrNotInitialized", err)
	}
	if _, err := p.Invoke(0xfffff80000001000); !errors.Is(err, platform.ErrNotInitialized) {
		t.Errorf("Invoke() = %v, want ErrNotInitialized", err)
	}
}

func TestExports(t *testing.T) {
	p := newPlatform(t, smallManifest)
	if err := p.Init("ntdll.dll", "NtTraceControl"); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"MmGetPhysicalAddress", "memcpy"}, p.Exports()); diff != "" {
		t.Errorf("Exports() mismatch (-want +got):\n%s", diff)
	}
	memcpy, err := p.ResolveExport("memcpy")
	if err != nil {
		t.Fatalf("ResolveExport(memcpy) failed: %v", err)
	}
	if memcpy < 0xfffff80000000000 {
		t.Errorf("memcpy at %v, outside the kernel image", memcpy)
	}
	if _, err := p.ResolveExport("ExAllocatePool"); !errors.Is(err, platform.ErrNoSuchExport) {
		t.Errorf("ResolveExport(ExAllocatePool) = %v, want ErrNoSuchExport", err)
	}
	if _, err := p.Invoke(memcpy, 1); err == nil {
		t.Errorf("Invoke() with the wrong argument count succeeded")
	}
	if _, err := p.Invoke(memcpy+8, 0, 0, 0); err == nil {
		t.Errorf("Invoke() of a non-routine succeeded")
	}
	if p.KernelBuild() != 9600 {
		t.Errorf("KernelBuild() = %d, want 9600", p.KernelBuild())
	}
}

func TestMapUnmap(t *testing.T) {
	p := newPlatform(t, smallManifest)
	addr, err := p.MapPhysical(0x20000, 12)
	if err != nil {
		t.Fatalf("MapPhysical() failed: %v", err)
	}
	if err := p.Unmap(addr, 8); err == nil {
		t.Errorf("Unmap() with the wrong size succeeded")
	}
	if err := p.Unmap(addr+1, 12); err == nil {
		t.Errorf("Unmap() of an unknown address succeeded")
	}
	if s := p.Stats(); s.Live != 1 || s.Maps != 1 {
		t.Errorf("stats = %+v, want one live mapping", s)
	}
	if err := p.Unmap(addr, 12); err != nil {
		t.Errorf("Unmap() failed: %v", err)
	}
	if err := p.Unmap(addr, 12); err == nil {
		t.Errorf("second Unmap() succeeded")
	}
	want := emulated.Stats{Maps: 1, Unmaps: 1}
	if diff := cmp.Diff(want, p.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}

	p.SetFaults(emulated.Faults{MapFrames: []uint64{0x20}})
	if _, err := p.MapPhysical(0x20008, 8); err == nil {
		t.Errorf("MapPhysical() in a faulting frame succeeded")
	}
	if _, err := p.MapPhysical(0x21000, 8); err != nil {
		t.Errorf("MapPhysical() outside the faulting frame failed: %v", err)
	}
	if s := p.Stats(); s.FailedMaps != 1 || s.Live != 1 {
		t.Errorf("stats = %+v, want one failure and one live mapping", s)
	}
}

func TestCloseReleasesMappings(t *testing.T) {
	m, err := emulated.ParseManifest(smallManifest)
	if err != nil {
		t.Fatal(err)
	}
	p, err := emulated.New(m, layout)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.MapPhysical(0x20000, 8); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if s := p.Stats(); s.Live != 0 {
		t.Errorf("%d mappings live after Close", s.Live)
	}
}

func TestRegistered(t *testing.T) {
	c, err := platform.Lookup("emulated")
	if err != nil {
		t.Fatalf("Lookup(emulated) failed: %v", err)
	}
	p, err := c.New(platform.Options{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer p.Close()
	if p.KernelBuild() != 19045 {
		t.Errorf("KernelBuild() = %d, want the built-in manifest's 19045", p.KernelBuild())
	}
}

// walker returns a walker over p through the kernel accessors.
func walker(t *testing.T, p *emulated.Platform) *pagetables.Walker {
	t.Helper()
	k := kernel.New(p, layout)
	if err := k.Init(kernel.DefaultImage, kernel.DefaultExport); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return pagetables.New(k, k)
}

func TestDump(t *testing.T) {
	src := newPlatform(t, smallManifest)
	const dumpSize = 0x40000
	mem := make([]byte, dumpSize)
	if _, err := src.Store().ReadAt(mem, 0); err != nil {
		t.Fatalf("ReadAt() failed: %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mem.raw"), mem, 0644); err != nil {
		t.Fatal(err)
	}
	dtb, _ := src.DirectoryTableBase(500)
	manifest := filepath.Join(dir, "dump.toml")
	data := "[memory]\ndump = \"mem.raw\"\n[[process]]\npid = 500\ndirectory_table_base = " + hostarch.PhysAddr(dtb).String() + "\n"
	if err := os.WriteFile(manifest, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := emulated.LoadManifest(manifest)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	p, err := emulated.New(m, layout)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer p.Close()

	tr, err := walker(t, p).Walk(0x400123, 500)
	if err != nil {
		t.Fatalf("Walk() failed: %v", err)
	}
	if tr.PhysicalAddress != 0x20123 {
		t.Errorf("PhysicalAddress = %v, want 0x20123", tr.PhysicalAddress)
	}
	if s := p.Stats(); s.Maps != 4 || s.Unmaps != 4 {
		t.Errorf("stats = %+v, want one mapping per level", s)
	}
	if diff := cmp.Diff([]string{"memcpy"}, p.Exports()); diff != "" {
		t.Errorf("dump exports mismatch (-want +got):\n%s", diff)
	}
}

func TestWords(t *testing.T) {
	// A hand-built chain for 0x7ff612345000, whose indices are
	// 255/472/145/325, ending in a non-present PT entry.
	p := newPlatform(t, `
[[process]]
pid = 4
directory_table_base = 0x1000

[[word]]
address = 0x17f8
value = 0x2003

[[word]]
address = 0x2ec0
value = 0x3003

[[word]]
address = 0x3488
value = 0x4003

[[word]]
address = 0x4a28
value = "0x8000000009abcd02"
`)
	_, err := walker(t, p).Translate(0x7ff612345000, 4)
	var werr *pagetables.WalkError
	if !errors.As(err, &werr) || werr.Level != pagetables.PT || !errors.Is(err, pagetables.ErrEntryNotPresent) {
		t.Fatalf("Translate() = %v, want a non-present PT entry", err)
	}
	if werr.Entry.PFN() != 0x9abcd || !werr.Entry.HasFlags(pagetables.NoExecute|pagetables.Writable) {
		t.Errorf("entry = %v", werr.Entry)
	}
}
