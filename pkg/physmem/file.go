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

package physmem

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"gvisor.dev/vtop/pkg/cleanup"
	"gvisor.dev/vtop/pkg/hostarch"
)

// File is a read-only raw physical memory dump: byte n of the file is
// physical address n.
type File struct {
	f    *os.File
	size uint64

	// hostPageSize is the granularity of host mappings, which may be larger
	// than the 4 KiB pages of the dumped machine.
	hostPageSize uint64
}

// OpenFile opens the dump at path.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { f.Close() })
	defer cu.Clean()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("physical memory dump %q is empty", path)
	}
	cu.Release()
	return &File{f: f, size: uint64(stat.Size()), hostPageSize: uint64(unix.Getpagesize())}, nil
}

// Size implements Store.Size.
func (d *File) Size() uint64 {
	return d.size
}

// ReadAt implements io.ReaderAt.ReadAt.
func (d *File) ReadAt(dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if uint64(off) >= d.size {
		return 0, io.EOF
	}
	return d.f.ReadAt(dst, off)
}

// View implements Store.View by mapping the pages covering the range.
func (d *File) View(pa hostarch.PhysAddr, length uint64) (View, error) {
	if err := checkRange(pa, length, d.size); err != nil {
		return nil, err
	}
	mask := d.hostPageSize - 1
	start := hostarch.PhysAddr(uint64(pa) &^ mask)
	end := uint64(pa) + length
	if rounded := (end + mask) &^ mask; rounded <= d.size {
		end = rounded
	}
	// Pages past the end of the file are never mapped: touching them
	// raises SIGBUS.
	m, err := unix.Mmap(int(d.f.Fd()), int64(start), int(end-uint64(start)), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping [%v, %#x): %w", start, end, err)
	}
	off := uint64(pa - start)
	return &mappedView{mapping: m, data: m[off : off+length]}, nil
}

// Close implements Store.Close.
func (d *File) Close() error {
	return d.f.Close()
}

// mappedView is a View backed by a host mapping of the dump.
type mappedView struct {
	mapping []byte
	data    []byte
}

// Bytes implements View.Bytes.
func (v *mappedView) Bytes() []byte {
	return v.data
}

// Release implements View.Release.
func (v *mappedView) Release() error {
	if v.mapping == nil {
		return ErrReleased
	}
	err := unix.Munmap(v.mapping)
	v.mapping, v.data = nil, nil
	return err
}
