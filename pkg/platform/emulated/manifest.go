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
	_ "embed"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gvisor.dev/vtop/pkg/pagetables"
)

//go:embed default.toml
var defaultManifest string

// Uint64 is a 64-bit manifest value. TOML integers are signed, so values with
// bit 63 set, such as kernel addresses, may also be given as strings.
type Uint64 uint64

// UnmarshalTOML implements toml.Unmarshaler.
func (u *Uint64) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("negative value %d", v)
		}
		*u = Uint64(v)
	case string:
		n, err := strconv.ParseUint(strings.ReplaceAll(v, "_", ""), 0, 64)
		if err != nil {
			return err
		}
		*u = Uint64(n)
	default:
		return fmt.Errorf("invalid value %v (%T), want an integer or string", v, v)
	}
	return nil
}

// KernelSpec describes the emulated kernel image.
type KernelSpec struct {
	// Build is the kernel build number reported by the platform.
	Build uint32 `toml:"build"`

	// Base is the kernel virtual address of the kernel image. Exports are
	// placed above it.
	Base Uint64 `toml:"base"`

	// ObjectBase is the kernel virtual address where process objects
	// without an explicit address are placed.
	ObjectBase Uint64 `toml:"object_base"`

	// CurrentPID is the process whose address space kernel routines run in.
	CurrentPID uint32 `toml:"current_pid"`
}

// TargetSpec names the export that must be used to initialize the platform.
type TargetSpec struct {
	Image  string `toml:"image"`
	Export string `toml:"export"`
}

// MemorySpec describes physical memory.
type MemorySpec struct {
	// Dump is the path of a raw physical memory dump. If set, physical
	// memory is read from the dump and no page tables are built. Relative
	// paths are resolved against the manifest's directory.
	Dump string `toml:"dump"`

	// TableBase and TableLimit bound the physical range page tables are
	// allocated from.
	TableBase  Uint64 `toml:"table_base"`
	TableLimit Uint64 `toml:"table_limit"`
}

// ProcessSpec describes one process.
type ProcessSpec struct {
	PID  uint32 `toml:"pid"`
	Name string `toml:"name"`

	// Object is the kernel virtual address of the process object. Zero
	// selects an address automatically.
	Object Uint64 `toml:"object"`

	// DirectoryTableBase is the physical address of the process's PML4.
	// Zero allocates one; it is required when memory comes from a dump.
	DirectoryTableBase Uint64 `toml:"directory_table_base"`
}

// MappingSpec maps a run of pages into a process.
type MappingSpec struct {
	PID      uint32   `toml:"pid"`
	Virtual  Uint64   `toml:"virtual"`
	Physical Uint64   `toml:"physical"`
	Pages    uint64   `toml:"pages"`
	PageSize string   `toml:"page_size"`
	Flags    []string `toml:"flags"`

	// Data is written at the start of the physical range.
	Data string `toml:"data"`
}

// leaf returns the level of the leaf entry for the mapping's page size.
func (m *MappingSpec) leaf() (pagetables.Level, error) {
	switch strings.ToLower(m.PageSize) {
	case "", "4k":
		return pagetables.PT, nil
	case "2m":
		return pagetables.PD, nil
	case "1g":
		return pagetables.PDP, nil
	default:
		return 0, fmt.Errorf("invalid page size %q, must be 4k, 2m or 1g", m.PageSize)
	}
}

// WordSpec stores a raw quadword in physical memory after the page tables
// are built.
type WordSpec struct {
	Address Uint64 `toml:"address"`
	Value   Uint64 `toml:"value"`
}

// Faults selects primitives that fail.
type Faults struct {
	Init          bool `toml:"init"`
	ResolveExport bool `toml:"resolve_export"`
	Invoke        bool `toml:"invoke"`
	Lookup        bool `toml:"lookup"`
	Map           bool `toml:"map"`

	// MapFrames fails mappings that start in any of the given frames.
	MapFrames []uint64 `toml:"map_frames"`
}

// Manifest describes an emulated machine.
type Manifest struct {
	Kernel  KernelSpec    `toml:"kernel"`
	Target  TargetSpec    `toml:"target"`
	Memory  MemorySpec    `toml:"memory"`
	Process []ProcessSpec `toml:"process"`
	Mapping []MappingSpec `toml:"mapping"`
	Word    []WordSpec    `toml:"word"`
	Faults  Faults        `toml:"faults"`
}

// Defaults for unset manifest fields.
const (
	defaultKernelBase = 0xfffff80000000000
	defaultObjectBase = 0xffffc00000000000
	defaultTableBase  = 0x100000
	defaultTableLimit = 0x1000000
	defaultImage      = "ntdll.dll"
	defaultExport     = "NtTraceControl"
	systemPID         = 4
)

func (m *Manifest) setDefaults() {
	if m.Kernel.Base == 0 {
		m.Kernel.Base = defaultKernelBase
	}
	if m.Kernel.ObjectBase == 0 {
		m.Kernel.ObjectBase = defaultObjectBase
	}
	if m.Kernel.CurrentPID == 0 {
		m.Kernel.CurrentPID = systemPID
	}
	if m.Target.Image == "" {
		m.Target.Image = defaultImage
	}
	if m.Target.Export == "" {
		m.Target.Export = defaultExport
	}
	if m.Memory.TableBase == 0 {
		m.Memory.TableBase = defaultTableBase
	}
	if m.Memory.TableLimit == 0 {
		m.Memory.TableLimit = defaultTableLimit
	}
	for i := range m.Mapping {
		if m.Mapping[i].Pages == 0 {
			m.Mapping[i].Pages = 1
		}
	}
}

func (m *Manifest) validate() error {
	if m.Memory.TableBase%4096 != 0 || m.Memory.TableLimit <= m.Memory.TableBase {
		return fmt.Errorf("invalid table range [%#x, %#x)", uint64(m.Memory.TableBase), uint64(m.Memory.TableLimit))
	}
	pids := make(map[uint32]bool)
	for _, p := range m.Process {
		if pids[p.PID] {
			return fmt.Errorf("duplicate process %d", p.PID)
		}
		pids[p.PID] = true
		if m.Memory.Dump != "" && p.DirectoryTableBase == 0 {
			return fmt.Errorf("process %d: directory_table_base is required with a memory dump", p.PID)
		}
	}
	if m.Memory.Dump != "" && (len(m.Mapping) > 0 || len(m.Word) > 0) {
		return fmt.Errorf("mappings and words cannot be combined with a memory dump")
	}
	for i, mp := range m.Mapping {
		if !pids[mp.PID] {
			return fmt.Errorf("mapping %d: unknown process %d", i, mp.PID)
		}
		if _, err := mp.leaf(); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		if _, err := pagetables.ParseFlags(mp.Flags); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		if mp.Pages > math.MaxUint32 {
			return fmt.Errorf("mapping %d: too many pages (%d)", i, mp.Pages)
		}
	}
	return nil
}

// ParseManifest decodes a manifest from TOML text and applies defaults.
func ParseManifest(data string) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(data, &m)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return finishManifest(&m, md)
}

// LoadManifest reads a manifest file. An empty path selects the built-in
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	if path == "" {
		return ParseManifest(defaultManifest)
	}
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest %q: %w", path, err)
	}
	if m.Memory.Dump != "" && !filepath.IsAbs(m.Memory.Dump) {
		m.Memory.Dump = filepath.Join(filepath.Dir(path), m.Memory.Dump)
	}
	return finishManifest(&m, md)
}

func finishManifest(m *Manifest, md toml.MetaData) (*Manifest, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown manifest keys: %v", undecoded)
	}
	m.setDefaults()
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
