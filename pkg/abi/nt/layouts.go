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

// Package nt contains layout descriptions of opaque NT kernel structures.
//
// Offsets within kernel structures are not part of any stable ABI, so each
// layout carries the range of kernel builds it applies to. A table of
// layouts is compiled in and may be replaced by a TOML file at runtime.
package nt

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

//go:embed layouts.toml
var defaultLayouts string

// Field locates a scalar member of a kernel structure.
type Field struct {
	// Offset is the byte offset of the member from the start of the
	// structure.
	Offset uint64 `toml:"offset"`

	// Size is the width of the member in bytes, either 4 or 8.
	Size int `toml:"size"`
}

func (f Field) validate() error {
	if f.Size != 4 && f.Size != 8 {
		return fmt.Errorf("invalid field size %d, must be 4 or 8", f.Size)
	}
	if f.Offset%uint64(f.Size) != 0 {
		return fmt.Errorf("field offset %#x is not aligned to its size %d", f.Offset, f.Size)
	}
	return nil
}

// ProcessLayout describes the process control block (KPROCESS) of a range
// of kernel builds.
type ProcessLayout struct {
	// Name is a human-readable label for the layout.
	Name string `toml:"name"`

	// MinBuild is the first kernel build the layout applies to.
	MinBuild uint32 `toml:"min_build"`

	// MaxBuild is the last kernel build the layout applies to. Zero means
	// the range is open-ended.
	MaxBuild uint32 `toml:"max_build"`

	// DirectoryTableBase is the member holding the physical address of the
	// process's top-level page table.
	DirectoryTableBase Field `toml:"directory_table_base"`
}

// Applies returns true if the layout is valid for the given kernel build.
func (l *ProcessLayout) Applies(build uint32) bool {
	return build >= l.MinBuild && (l.MaxBuild == 0 || build <= l.MaxBuild)
}

// Range returns the build range as a string, e.g. "6000-" or "7600-9600".
func (l *ProcessLayout) Range() string {
	if l.MaxBuild == 0 {
		return fmt.Sprintf("%d-", l.MinBuild)
	}
	return fmt.Sprintf("%d-%d", l.MinBuild, l.MaxBuild)
}

// Layouts is a table of process layouts ordered by MinBuild.
type Layouts struct {
	Process []ProcessLayout `toml:"process"`
}

// DefaultLayouts returns the compiled-in layout table.
func DefaultLayouts() (*Layouts, error) {
	return ParseLayouts(defaultLayouts)
}

// LoadLayouts reads a layout table from a TOML file.
func LoadLayouts(path string) (*Layouts, error) {
	var l Layouts
	md, err := toml.DecodeFile(path, &l)
	if err != nil {
		return nil, fmt.Errorf("decoding layouts %q: %w", path, err)
	}
	if err := l.check(md); err != nil {
		return nil, fmt.Errorf("layouts %q: %w", path, err)
	}
	return &l, nil
}

// ParseLayouts decodes a layout table from TOML text.
func ParseLayouts(data string) (*Layouts, error) {
	var l Layouts
	md, err := toml.Decode(data, &l)
	if err != nil {
		return nil, fmt.Errorf("decoding layouts: %w", err)
	}
	if err := l.check(md); err != nil {
		return nil, err
	}
	return &l, nil
}

func (l *Layouts) check(md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown layout keys: %v", undecoded)
	}
	return l.validate()
}

func (l *Layouts) validate() error {
	if len(l.Process) == 0 {
		return fmt.Errorf("no process layouts")
	}
	sort.SliceStable(l.Process, func(i, j int) bool {
		return l.Process[i].MinBuild < l.Process[j].MinBuild
	})
	for i := range l.Process {
		p := &l.Process[i]
		if p.Name == "" {
			p.Name = p.Range()
		}
		if p.MaxBuild != 0 && p.MaxBuild < p.MinBuild {
			return fmt.Errorf("layout %q: max build %d below min build %d", p.Name, p.MaxBuild, p.MinBuild)
		}
		if err := p.DirectoryTableBase.validate(); err != nil {
			return fmt.Errorf("layout %q: directory_table_base: %w", p.Name, err)
		}
		if i > 0 {
			prev := &l.Process[i-1]
			if prev.MaxBuild == 0 || prev.MaxBuild >= p.MinBuild {
				return fmt.Errorf("layout %q (%s) overlaps %q (%s)", p.Name, p.Range(), prev.Name, prev.Range())
			}
		}
	}
	return nil
}

// Lookup returns the process layout that applies to build. A zero build
// selects the newest layout.
func (l *Layouts) Lookup(build uint32) (ProcessLayout, error) {
	if build == 0 {
		return l.Process[len(l.Process)-1], nil
	}
	for _, p := range l.Process {
		if p.Applies(build) {
			return p, nil
		}
	}
	return ProcessLayout{}, fmt.Errorf("no process layout for kernel build %d", build)
}

// Get returns the layout table, loading it from path if non-empty and
// falling back to the compiled-in table otherwise.
func Get(path string) (*Layouts, error) {
	if path == "" {
		return DefaultLayouts()
	}
	return LoadLayouts(path)
}
